package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/shopspring/decimal"
)

// ParsedTransaction is one candidate row produced by Parse.
type ParsedTransaction struct {
	Row         int                    `json:"row"`
	OccurredAt  time.Time              `json:"transactionDate"`
	Amount      decimal.Decimal        `json:"amount"`
	Kind        domain.TransactionKind `json:"type"`
	Description string                 `json:"description,omitempty"`
	Merchant    string                 `json:"merchant,omitempty"`
	ExternalID  string                 `json:"externalId"`
}

// ParseResult holds the accepted rows and the rows skipped with a warning.
type ParseResult struct {
	Rows     []ParsedTransaction `json:"rows"`
	Warnings []domain.RowError   `json:"warnings,omitempty"`
}

// Lines splits content into its non-blank lines with line endings removed.
func Lines(content string) []string {
	raw := strings.Split(content, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// columns holds a mapping's refs resolved against one header row.
type columns struct {
	date, amount, income, expense, description, merchant int
}

func resolveColumns(m ImportMapping, header []string) (columns, error) {
	c := columns{
		date:        m.DateColumn.Resolve(header),
		amount:      m.AmountColumn.Resolve(header),
		income:      m.IncomeColumn.Resolve(header),
		expense:     m.ExpenseColumn.Resolve(header),
		description: m.DescriptionColumn.Resolve(header),
		merchant:    m.MerchantColumn.Resolve(header),
	}
	if c.date < 0 {
		return c, domain.Invalid("date column %q not found in header", m.DateColumn)
	}
	if m.AmountFormat != SeparateColumns && c.amount < 0 {
		return c, domain.Invalid("amount column %q not found in header", m.AmountColumn)
	}
	if m.AmountFormat == SeparateColumns && c.income < 0 && c.expense < 0 {
		return c, domain.Invalid("income/expense columns not found in header")
	}
	return c, nil
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// Parse reads every data row of content. The first SkipRows non-blank lines
// are ignored and the next one is the header. Rows with a bad date or
// amount become warnings; rows with a zero amount are dropped.
func Parse(content string, m ImportMapping) (*ParseResult, error) {
	m = m.WithDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	text, err := Decode(content, m.Encoding)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	lines := Lines(text)
	if len(lines) <= m.SkipRows {
		return result, nil
	}

	header := SplitLine(lines[m.SkipRows], m.Delimiter)
	cols, err := resolveColumns(m, header)
	if err != nil {
		return nil, err
	}

	for i := m.SkipRows + 1; i < len(lines); i++ {
		row, ok, err := parseRow(SplitLine(lines[i], m.Delimiter), m, cols, i)
		if err != nil {
			result.Warnings = append(result.Warnings, domain.RowError{Row: i, Message: err.Error()})
			continue
		}
		if ok {
			result.Rows = append(result.Rows, row)
		}
	}
	return result, nil
}

func parseRow(cells []string, m ImportMapping, cols columns, rowNum int) (ParsedTransaction, bool, error) {
	var p ParsedTransaction

	rawDate := cell(cells, cols.date)
	date, err := normalize.ParseDate(rawDate, m.DateFormat)
	if err != nil {
		return p, false, fmt.Errorf("invalid date: %q", rawDate)
	}

	amount, kind, err := rowAmount(cells, m, cols)
	if err != nil {
		return p, false, err
	}
	if amount.IsZero() {
		return p, false, nil
	}

	p = ParsedTransaction{
		Row:        rowNum,
		OccurredAt: date,
		Amount:     amount,
		Kind:       kind,
		ExternalID: fmt.Sprintf("row_%d_%s_%s", rowNum, date.Format("2006-01-02"), amount.String()),
	}
	if cols.description >= 0 {
		p.Description = cell(cells, cols.description)
	}
	if cols.merchant >= 0 {
		p.Merchant = cell(cells, cols.merchant)
	} else {
		p.Merchant = ExtractMerchant(p.Description)
	}
	return p, true, nil
}

// rowAmount returns the absolute amount and the kind it implies.
func rowAmount(cells []string, m ImportMapping, cols columns) (decimal.Decimal, domain.TransactionKind, error) {
	if m.AmountFormat == SeparateColumns {
		income, err := normalize.ParseAmount(cell(cells, cols.income))
		if err != nil {
			return decimal.Zero, "", err
		}
		expense, err := normalize.ParseAmount(cell(cells, cols.expense))
		if err != nil {
			return decimal.Zero, "", err
		}
		switch {
		case !income.IsZero():
			return income.Abs(), domain.KindIncome, nil
		case !expense.IsZero():
			return expense.Abs(), domain.KindExpense, nil
		}
		return decimal.Zero, "", nil
	}

	// positive_negative and with_sign
	amount, err := normalize.ParseAmount(cell(cells, cols.amount))
	if err != nil {
		return decimal.Zero, "", err
	}
	if amount.IsNegative() {
		return amount.Abs(), domain.KindExpense, nil
	}
	return amount, domain.KindIncome, nil
}
