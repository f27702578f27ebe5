package statement

import (
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/normalize"
	"github.com/shopspring/decimal"
)

const italianStatement = `Data;Importo;Causale
15/01/2024;-45,50;PAGAMENTO POS COOP MILANO DEL 14/01/2024
16/01/2024;1.500,00;"STIPENDIO; GENNAIO"

17/01/2024;0,00;ZERO
bad;10,00;X
18/01/2024;abc;Y
`

func italianMapping() ImportMapping {
	return ImportMapping{
		Delimiter:         ";",
		DateColumn:        Index(0),
		DateFormat:        normalize.DayMonthYearSlash,
		AmountColumn:      Index(1),
		AmountFormat:      PositiveNegative,
		DescriptionColumn: Index(2),
	}
}

func TestParse_PositiveNegative(t *testing.T) {
	res, err := Parse(italianStatement, italianMapping())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(res.Rows), res.Rows)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("got %d warnings, want 2: %+v", len(res.Warnings), res.Warnings)
	}

	first := res.Rows[0]
	if first.Kind != domain.KindExpense || !first.Amount.Equal(decimal.RequireFromString("45.50")) {
		t.Errorf("first row = %s %s, want expense 45.50", first.Kind, first.Amount)
	}
	if !first.OccurredAt.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first row date = %v", first.OccurredAt)
	}
	if first.Merchant != "POS COOP MILANO" {
		t.Errorf("first row merchant = %q", first.Merchant)
	}
	if first.ExternalID != "row_1_2024-01-15_45.5" {
		t.Errorf("first row external id = %q", first.ExternalID)
	}

	second := res.Rows[1]
	if second.Kind != domain.KindIncome || !second.Amount.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("second row = %s %s, want income 1500", second.Kind, second.Amount)
	}
	if second.Description != "STIPENDIO; GENNAIO" {
		t.Errorf("second row description = %q", second.Description)
	}

	if res.Warnings[0].Row != 4 || res.Warnings[1].Row != 5 {
		t.Errorf("warning rows = %d,%d want 4,5", res.Warnings[0].Row, res.Warnings[1].Row)
	}
}

func TestParse_SeparateColumnsAndNamedRefs(t *testing.T) {
	content := "Date,Description,In,Out\n" +
		"2024-03-01,Refund,12.00,\n" +
		"2024-03-02,Groceries,,30.10\n" +
		"2024-03-03,Nothing,,\n"
	m := ImportMapping{
		Delimiter:         ",",
		DateColumn:        Name("date"),
		DateFormat:        normalize.YearMonthDayDash,
		AmountFormat:      SeparateColumns,
		IncomeColumn:      Name("In"),
		ExpenseColumn:     Name("Out"),
		DescriptionColumn: Name("Description"),
	}

	res, err := Parse(content, m)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
	if res.Rows[0].Kind != domain.KindIncome || res.Rows[1].Kind != domain.KindExpense {
		t.Errorf("kinds = %s,%s want income,expense", res.Rows[0].Kind, res.Rows[1].Kind)
	}
	if !res.Rows[1].Amount.Equal(decimal.RequireFromString("30.10")) {
		t.Errorf("expense amount = %s", res.Rows[1].Amount)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings %+v", res.Warnings)
	}
}

func TestParse_SkipRows(t *testing.T) {
	content := "Estratto conto\nPeriodo gennaio\nData;Importo\n01/01/2024;5,00\n"
	m := ImportMapping{Delimiter: ";", SkipRows: 2, DateColumn: Name("Data"), AmountColumn: Name("Importo")}

	res, err := Parse(content, m)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Row != 3 {
		t.Fatalf("rows = %+v, want one row numbered 3", res.Rows)
	}
}

func TestParse_InvalidMapping(t *testing.T) {
	tests := []struct {
		name string
		m    ImportMapping
	}{
		{"no date column", ImportMapping{AmountColumn: Index(1)}},
		{"no amount column", ImportMapping{DateColumn: Index(0)}},
		{"unknown header name", ImportMapping{DateColumn: Name("When"), AmountColumn: Index(1)}},
		{"unknown amount format", ImportMapping{DateColumn: Index(0), AmountColumn: Index(1), AmountFormat: "signed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("Data,Importo\n01/01/2024,1\n", tt.m)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestParse_Latin1(t *testing.T) {
	content := string([]byte("Data;Importo;Causale\n01/01/2024;-2,00;Caff\xe8\n"))
	m := italianMapping()
	m.Encoding = "latin1"

	res, err := Parse(content, m)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Description != "Caffè" {
		t.Fatalf("rows = %+v, want description Caffè", res.Rows)
	}
}
