package main

import (
	"strings"
	"testing"

	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func TestAccountRow_FormatsBalanceInSettlement(t *testing.T) {
	acc := &domain.Account{
		ID:             "acc-1",
		Name:           "Brokerage",
		Kind:           domain.AccountChecking,
		Currency:       "USD",
		CurrentBalance: decimal.NewFromInt(92),
		IsActive:       true,
	}

	cols := strings.Split(accountRow(acc, currency.Settlement), "\t")
	if len(cols) != 6 {
		t.Fatalf("columns = %q", cols)
	}
	if cols[3] != "USD" {
		t.Errorf("currency column = %q, want USD", cols[3])
	}
	if want := currency.Format(acc.CurrentBalance, currency.Settlement); cols[4] != want {
		t.Errorf("balance column = %q, want %q", cols[4], want)
	}
	if usd := currency.Format(acc.CurrentBalance, "USD"); cols[4] == usd {
		t.Errorf("balance labelled with the account currency: %q", cols[4])
	}
}

func TestPriceFlags(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"AAPL=190.5", false},
		{" VWCE = 101 ", false},
		{"AAPL", true},
		{"=10", true},
		{"AAPL=abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p := priceFlags{}
			err := p.Set(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && len(p) != 1 {
				t.Errorf("prices = %v", p)
			}
		})
	}
}
