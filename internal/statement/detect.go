package statement

import (
	"strings"

	"github.com/dvloznov/finance-ledger/internal/normalize"
)

// Delimiters in precedence order for DetectDelimiter ties.
var Delimiters = []string{",", ";", "\t", "|"}

// Header keywords per column role, Italian bank exports first.
var (
	dateKeywords        = []string{"data", "date", "data operazione", "data contabile", "data valuta"}
	amountKeywords      = []string{"importo", "amount", "dare/avere", "movimento", "euro"}
	descriptionKeywords = []string{"descrizione", "description", "causale", "dettagli", "note"}
	incomeKeywords      = []string{"entrate", "accredito", "avere", "in"}
	expenseKeywords     = []string{"uscite", "addebito", "dare", "out"}
)

// DetectDelimiter picks the most frequent candidate in the header line.
func DetectDelimiter(headerLine string) string {
	best, top := ",", 0
	for _, d := range Delimiters {
		if n := strings.Count(headerLine, d); n > top {
			best, top = d, n
		}
	}
	return best
}

// SplitLine splits a line on delimiter. A double quote toggles quoted mode,
// in which the delimiter is kept as text. Quotes are dropped and fields
// trimmed.
func SplitLine(line, delimiter string) []string {
	delim, _ := firstRune(delimiter)
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(current.String()))
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return ',', false
}

func findColumn(lowerHeader []string, keywords []string) int {
	for i, col := range lowerHeader {
		for _, k := range keywords {
			if strings.Contains(col, k) {
				return i
			}
		}
	}
	return -1
}

func refOrZero(i int) ColumnRef {
	if i < 0 {
		return ColumnRef{}
	}
	return Index(i)
}

// DetectMapping suggests a mapping from header names and sample rows.
// It returns nil when no column looks like a date. The delimiter is left
// unset.
func DetectMapping(header []string, samples [][]string) *PartialMapping {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	dateCol := findColumn(lower, dateKeywords)
	if dateCol < 0 {
		return nil
	}
	amountCol := findColumn(lower, amountKeywords)
	descCol := findColumn(lower, descriptionKeywords)
	incomeCol := findColumn(lower, incomeKeywords)
	expenseCol := findColumn(lower, expenseKeywords)

	format := PositiveNegative
	if incomeCol >= 0 && expenseCol >= 0 {
		format = SeparateColumns
	}
	if amountCol < 0 {
		amountCol = incomeCol
	}
	if amountCol < 0 {
		amountCol = expenseCol
	}

	return &PartialMapping{
		SkipRows:          0,
		DateColumn:        Index(dateCol),
		DateFormat:        DetectDateFormat(samples, dateCol),
		AmountColumn:      refOrZero(amountCol),
		AmountFormat:      format,
		IncomeColumn:      refOrZero(incomeCol),
		ExpenseColumn:     refOrZero(expenseCol),
		DescriptionColumn: refOrZero(descCol),
		Encoding:          "utf-8",
	}
}

// DetectDateFormat infers the date layout of column col from up to five
// sample rows, defaulting to DD/MM/YYYY.
func DetectDateFormat(samples [][]string, col int) normalize.DateFormat {
	values := make([]string, 0, 5)
	for _, row := range samples {
		if len(values) == 5 {
			break
		}
		if col >= 0 && col < len(row) {
			values = append(values, row[col])
		} else {
			values = append(values, "")
		}
	}
	if f := normalize.InferDateFormat(values); f != "" {
		return f
	}
	return normalize.DefaultDateFormat
}
