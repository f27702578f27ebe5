package positions

import (
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Holding is the outcome of replaying one instrument's trade history.
type Holding struct {
	Quantity decimal.Decimal
	Cost     decimal.Decimal
	AvgCost  decimal.Decimal
	// Realized is proceeds minus average cost of everything sold.
	Realized decimal.Decimal
}

// Open reports whether anything is still held.
func (h Holding) Open() bool { return h.Quantity.IsPositive() }

// Replay folds trades, already ordered by ExecutedAt then Seq, into a
// moving-average holding. A buy adds its total to cost. A sell removes
// quantity times the average cost held just before it.
func Replay(trades []*domain.Trade) Holding {
	var h Holding
	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			h.Quantity = h.Quantity.Add(t.Quantity)
			h.Cost = h.Cost.Add(tradeTotal(t))
		case domain.SideSell:
			before := h.Quantity
			h.Quantity = h.Quantity.Sub(t.Quantity)
			if !before.IsPositive() {
				continue
			}
			costOfSale := h.Cost.Mul(t.Quantity).Div(before)
			proceeds := t.Quantity.Mul(t.Price).Sub(t.Fee)
			h.Realized = h.Realized.Add(proceeds.Sub(costOfSale))
			h.Cost = h.Cost.Sub(costOfSale)
		}
	}
	if h.Quantity.IsPositive() {
		h.AvgCost = h.Cost.Div(h.Quantity)
	} else {
		h.AvgCost = decimal.Zero
	}
	return h
}

func tradeTotal(t *domain.Trade) decimal.Decimal {
	return t.Quantity.Mul(t.Price).Add(t.Fee)
}
