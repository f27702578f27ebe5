package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "european thousands and decimals", input: "1.234,56", want: "1234.56"},
		{name: "us thousands and decimals", input: "1,234.56", want: "1234.56"},
		{name: "two digit comma is decimal", input: "12,50", want: "12.5"},
		{name: "three digit comma is thousands", input: "12,500", want: "12500"},
		{name: "negative european", input: "-1.000,00", want: "-1000"},
		{name: "plain dot decimal", input: "42.10", want: "42.1"},
		{name: "currency symbol and spaces", input: " € 1.500,25 ", want: "1500.25"},
		{name: "dollar sign", input: "$1,999.99", want: "1999.99"},
		{name: "quoted value", input: `"-35,90"`, want: "-35.9"},
		{name: "explicit plus sign", input: "+10", want: "10"},
		{name: "empty is zero", input: "", want: "0"},
		{name: "whitespace is zero", input: "   ", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if err != nil {
				t.Fatalf("ParseAmount(%q) error: %v", tt.input, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, input := range []string{"abc", "12a", "--5", "1.2.3"} {
		if _, err := ParseAmount(input); err == nil {
			t.Errorf("ParseAmount(%q) expected error, got nil", input)
		}
	}
}

func TestRound2(t *testing.T) {
	got := Round2(decimal.RequireFromString("10.005"))
	if !got.Equal(decimal.RequireFromString("10.01")) {
		t.Errorf("Round2(10.005) = %s, want 10.01", got)
	}
}
