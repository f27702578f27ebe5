// Package statement turns delimited bank statements of unknown shape into
// candidate ledger transactions.
package statement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/normalize"
)

// AmountFormat is the layout of the amount columns.
type AmountFormat string

const (
	// PositiveNegative is one signed column; the sign decides income or expense.
	PositiveNegative AmountFormat = "positive_negative"
	// SeparateColumns has one income column and one expense column.
	SeparateColumns AmountFormat = "separate_columns"
	// WithSign behaves like PositiveNegative.
	WithSign AmountFormat = "with_sign"
)

// ColumnRef points at a column either by position or by header name.
// The zero value refers to no column.
type ColumnRef struct {
	index int
	name  string
	set   bool
}

// Index refers to the n-th column, counting from zero.
func Index(n int) ColumnRef { return ColumnRef{index: n, set: true} }

// Name refers to the column whose header equals s, ignoring case.
func Name(s string) ColumnRef { return ColumnRef{name: s, index: -1, set: true} }

// IsZero reports whether the ref points at nothing.
func (c ColumnRef) IsZero() bool { return !c.set }

func (c ColumnRef) String() string {
	switch {
	case !c.set:
		return ""
	case c.name != "":
		return c.name
	default:
		return strconv.Itoa(c.index)
	}
}

// Resolve returns the column position in header, or -1.
func (c ColumnRef) Resolve(header []string) int {
	if !c.set {
		return -1
	}
	if c.name == "" {
		return c.index
	}
	want := strings.ToLower(strings.TrimSpace(c.name))
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i
		}
	}
	return -1
}

// MarshalJSON writes an index as a number and a name as a string.
func (c ColumnRef) MarshalJSON() ([]byte, error) {
	switch {
	case !c.set:
		return []byte("null"), nil
	case c.name != "":
		return json.Marshal(c.name)
	default:
		return json.Marshal(c.index)
	}
}

// UnmarshalJSON accepts a number, a numeric string (an index) or any other
// string (a header name).
func (c *ColumnRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ColumnRef{}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = Index(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("column ref: %w", err)
	}
	*c = ParseColumnRef(s)
	return nil
}

// ParseColumnRef reads "3" as Index(3), "" as no column and anything else as a name.
func ParseColumnRef(s string) ColumnRef {
	s = strings.TrimSpace(s)
	if s == "" {
		return ColumnRef{}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return Index(n)
	}
	return Name(s)
}

// ImportMapping describes how to read one statement file. It is not
// modified once a run starts.
type ImportMapping struct {
	Delimiter         string               `json:"delimiter"`
	SkipRows          int                  `json:"skipRows"`
	DateColumn        ColumnRef            `json:"dateColumn"`
	DateFormat        normalize.DateFormat `json:"dateFormat"`
	AmountColumn      ColumnRef            `json:"amountColumn"`
	AmountFormat      AmountFormat         `json:"amountFormat"`
	IncomeColumn      ColumnRef            `json:"incomeColumn"`
	ExpenseColumn     ColumnRef            `json:"expenseColumn"`
	DescriptionColumn ColumnRef            `json:"descriptionColumn"`
	MerchantColumn    ColumnRef            `json:"merchantColumn"`
	Encoding          string               `json:"encoding"`
}

// PartialMapping is a detected mapping suggestion. The delimiter is only
// filled in by callers that know the file's header line.
type PartialMapping = ImportMapping

// WithDefaults fills the delimiter, date format, amount format and encoding
// when unset.
func (m ImportMapping) WithDefaults() ImportMapping {
	if m.Delimiter == "" {
		m.Delimiter = ","
	}
	if m.DateFormat == "" {
		m.DateFormat = normalize.DefaultDateFormat
	}
	if m.AmountFormat == "" {
		m.AmountFormat = PositiveNegative
	}
	if m.Encoding == "" {
		m.Encoding = "utf-8"
	}
	return m
}

// Validate rejects mappings that cannot produce a transaction.
func (m ImportMapping) Validate() error {
	if m.DateColumn.IsZero() {
		return domain.Invalid("mapping has no date column")
	}
	if len([]rune(m.Delimiter)) != 1 {
		return domain.Invalid("delimiter must be a single character, got %q", m.Delimiter)
	}
	if m.SkipRows < 0 {
		return domain.Invalid("skipRows must not be negative")
	}
	switch m.AmountFormat {
	case PositiveNegative, WithSign:
		if m.AmountColumn.IsZero() {
			return domain.Invalid("amount format %s needs an amount column", m.AmountFormat)
		}
	case SeparateColumns:
		if m.IncomeColumn.IsZero() && m.ExpenseColumn.IsZero() {
			return domain.Invalid("separate_columns needs an income or expense column")
		}
	default:
		return domain.Invalid("unknown amount format %q", m.AmountFormat)
	}
	return nil
}
