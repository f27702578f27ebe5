package positions

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PositionSummary values one position at a given price.
type PositionSummary struct {
	InstrumentID string          `json:"instrumentId"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avgCost"`
	CostBasis    decimal.Decimal `json:"costBasis"`
	Price        decimal.Decimal `json:"price"`
	Priced       bool            `json:"priced"`
	Value        decimal.Decimal `json:"currentValue"`
	Return       decimal.Decimal `json:"return"`
	ReturnPct    decimal.Decimal `json:"returnPct"`
	Weight       decimal.Decimal `json:"weight"`
}

// Summary is a valued view of a portfolio.
type Summary struct {
	PortfolioID    string            `json:"portfolioId"`
	Positions      []PositionSummary `json:"positions"`
	TotalCost      decimal.Decimal   `json:"totalCost"`
	TotalValue     decimal.Decimal   `json:"totalValue"`
	TotalReturn    decimal.Decimal   `json:"totalReturn"`
	TotalReturnPct decimal.Decimal   `json:"totalReturnPct"`
}

func pct(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// Summary values every open position with prices keyed by instrument id.
// An instrument without a price is valued at its average cost.
func (a *Accountant) Summary(ctx context.Context, ownerID, portfolioID string, prices map[string]decimal.Decimal) (*Summary, error) {
	positions, err := a.ListPositions(ctx, ownerID, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	return summarize(portfolioID, positions, prices), nil
}

func summarize(portfolioID string, positions []*domain.Position, prices map[string]decimal.Decimal) *Summary {
	s := &Summary{PortfolioID: portfolioID, Positions: make([]PositionSummary, 0, len(positions))}
	for _, p := range positions {
		price, ok := prices[p.InstrumentID]
		if !ok {
			price = p.AvgCost
		}
		cost := p.Quantity.Mul(p.AvgCost)
		value := p.Quantity.Mul(price)
		ps := PositionSummary{
			InstrumentID: p.InstrumentID,
			Quantity:     p.Quantity,
			AvgCost:      p.AvgCost,
			CostBasis:    cost,
			Price:        price,
			Priced:       ok,
			Value:        value,
			Return:       value.Sub(cost),
			ReturnPct:    pct(value.Sub(cost), cost),
		}
		s.TotalCost = s.TotalCost.Add(cost)
		s.TotalValue = s.TotalValue.Add(value)
		s.Positions = append(s.Positions, ps)
	}
	for i := range s.Positions {
		s.Positions[i].Weight = pct(s.Positions[i].Value, s.TotalValue)
	}
	s.TotalReturn = s.TotalValue.Sub(s.TotalCost)
	s.TotalReturnPct = pct(s.TotalReturn, s.TotalCost)
	return s
}
