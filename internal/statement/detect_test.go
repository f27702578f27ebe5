package statement

import (
	"reflect"
	"testing"

	"github.com/dvloznov/finance-ledger/internal/normalize"
)

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Data;Importo;Causale", ";"},
		{"date,amount,description", ","},
		{"date\tamount\tdesc", "\t"},
		{"a|b|c", "|"},
		{"a,b;c", ","}, // tie goes to precedence order
		{"single", ","},
	}
	for _, tt := range tests {
		if got := DetectDelimiter(tt.header); got != tt.want {
			t.Errorf("DetectDelimiter(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		delim string
		want  []string
	}{
		{"plain", "a;b;c", ";", []string{"a", "b", "c"}},
		{"quoted delimiter", `15/01/2024;"SHOP; MILANO";-3,00`, ";", []string{"15/01/2024", "SHOP; MILANO", "-3,00"}},
		{"trims fields", " a , b ", ",", []string{"a", "b"}},
		{"empty trailing", "a,b,", ",", []string{"a", "b", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitLine(tt.line, tt.delim); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMapping_ItalianHeaders(t *testing.T) {
	header := []string{"Data", "Importo", "Causale"}
	samples := [][]string{
		{"15/01/2024", "-45,50", "PAGAMENTO POS"},
		{"03/02/2024", "1.200,00", "STIPENDIO"},
	}

	m := DetectMapping(header, samples)
	if m == nil {
		t.Fatal("DetectMapping returned nil")
	}
	if m.DateFormat != normalize.DayMonthYearSlash {
		t.Errorf("DateFormat = %q, want DD/MM/YYYY", m.DateFormat)
	}
	if m.AmountFormat != PositiveNegative {
		t.Errorf("AmountFormat = %q, want positive_negative", m.AmountFormat)
	}
	if m.DateColumn != Index(0) {
		t.Errorf("DateColumn = %v, want 0", m.DateColumn)
	}
	if m.AmountColumn != Index(1) {
		t.Errorf("AmountColumn = %v, want 1", m.AmountColumn)
	}
	if m.DescriptionColumn != Index(2) {
		t.Errorf("DescriptionColumn = %v, want 2", m.DescriptionColumn)
	}
	if !m.IncomeColumn.IsZero() || !m.ExpenseColumn.IsZero() {
		t.Errorf("expected no income/expense columns, got %v/%v", m.IncomeColumn, m.ExpenseColumn)
	}
}

func TestDetectMapping_SeparateColumns(t *testing.T) {
	header := []string{"Data operazione", "Descrizione", "Entrate", "Uscite"}
	m := DetectMapping(header, [][]string{{"2024-01-15", "x", "", "10,00"}})
	if m == nil {
		t.Fatal("DetectMapping returned nil")
	}
	if m.AmountFormat != SeparateColumns {
		t.Errorf("AmountFormat = %q, want separate_columns", m.AmountFormat)
	}
	if m.IncomeColumn != Index(2) || m.ExpenseColumn != Index(3) {
		t.Errorf("income/expense = %v/%v, want 2/3", m.IncomeColumn, m.ExpenseColumn)
	}
	if m.AmountColumn != Index(2) {
		t.Errorf("AmountColumn = %v, want fallback to income column 2", m.AmountColumn)
	}
	if m.DateFormat != normalize.YearMonthDayDash {
		t.Errorf("DateFormat = %q, want YYYY-MM-DD", m.DateFormat)
	}
}

func TestDetectMapping_NoDateColumn(t *testing.T) {
	if m := DetectMapping([]string{"Importo", "Causale"}, nil); m != nil {
		t.Errorf("expected nil mapping, got %+v", m)
	}
}

func TestDetectDateFormat(t *testing.T) {
	tests := []struct {
		name    string
		samples [][]string
		want    normalize.DateFormat
	}{
		{"day first by value", [][]string{{"25/12/2024"}}, normalize.DayMonthYearSlash},
		{"month first by value", [][]string{{"12/25/2024"}}, normalize.MonthDayYearSlash},
		{"ambiguous defaults day first", [][]string{{"01/02/2024"}}, normalize.DayMonthYearSlash},
		{"dot", [][]string{{"1.2.2024"}}, normalize.DayMonthYearDot},
		{"skips blank rows", [][]string{{""}, {"01-02-2024"}}, normalize.DayMonthYearDash},
		{"no match falls back", [][]string{{"yesterday"}}, normalize.DayMonthYearSlash},
		{"short rows", [][]string{{}}, normalize.DayMonthYearSlash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDateFormat(tt.samples, 0); got != tt.want {
				t.Errorf("DetectDateFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}
