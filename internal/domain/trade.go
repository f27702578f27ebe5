package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is buy or sell.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Valid reports whether s is buy or sell.
func (s TradeSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Portfolio groups trades and positions.
type Portfolio struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Trade is one buy or sell of an instrument inside a portfolio. Prices and
// fees are in the settlement currency.
type Trade struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"ownerId"`
	PortfolioID  string          `json:"portfolioId"`
	InstrumentID string          `json:"instrumentId"`
	Side         TradeSide       `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	Total        decimal.Decimal `json:"total"`
	ExecutedAt   time.Time       `json:"executedAt"`
	Note         *string         `json:"note,omitempty"`

	// Seq is assigned by the store on insert and breaks ExecutedAt ties.
	Seq int64 `json:"seq"`
}

// Position is the derived holding of one instrument within one portfolio.
type Position struct {
	PortfolioID  string          `json:"portfolioId"`
	InstrumentID string          `json:"instrumentId"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avgCost"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}
