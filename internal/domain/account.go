package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind is the type of money container.
type AccountKind string

const (
	AccountChecking   AccountKind = "checking"
	AccountSavings    AccountKind = "savings"
	AccountCredit     AccountKind = "credit"
	AccountCash       AccountKind = "cash"
	AccountInvestment AccountKind = "investment"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountChecking, AccountSavings, AccountCredit, AccountCash, AccountInvestment:
		return true
	}
	return false
}

// Account is an owned money container.
//
// CurrentBalance is a materialized fold over the account's transactions.
// It is written only through the ledger (full replay or the incremental
// create path) and never through a generic account update.
type Account struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Name           string          `json:"name"`
	Kind           AccountKind     `json:"kind"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// BalanceSnapshot is the balance of an account at local midnight of a day.
type BalanceSnapshot struct {
	AccountID string          `json:"accountId"`
	Date      time.Time       `json:"date"`
	Balance   decimal.Decimal `json:"balance"`
}
