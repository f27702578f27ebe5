package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/clock"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/shopspring/decimal"
)

const owner = "owner-1"

var day = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*Accountant, *memory.Store, *domain.Portfolio) {
	t.Helper()
	repo := memory.New()
	a := NewAccountant(repo, clock.Fixed(day))
	p, err := a.CreatePortfolio(context.Background(), owner, "Main", "")
	if err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	return a, repo, p
}

func trade(t *testing.T, a *Accountant, portfolioID string, side domain.TradeSide, qty, price string, at time.Time) *domain.Trade {
	t.Helper()
	tr, err := a.RecordTrade(context.Background(), owner, TradeInput{
		PortfolioID:  portfolioID,
		InstrumentID: "VWCE",
		Side:         side,
		Quantity:     d(qty),
		Price:        d(price),
		ExecutedAt:   at,
	})
	if err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	return tr
}

func TestReplay_MovingAverage(t *testing.T) {
	buy := func(q, p, fee string) *domain.Trade {
		return &domain.Trade{Side: domain.SideBuy, Quantity: d(q), Price: d(p), Fee: d(fee)}
	}
	sell := func(q, p string) *domain.Trade {
		return &domain.Trade{Side: domain.SideSell, Quantity: d(q), Price: d(p)}
	}

	tests := []struct {
		name     string
		trades   []*domain.Trade
		wantQty  string
		wantAvg  string
		realized string
	}{
		{"two buys average", []*domain.Trade{buy("10", "100", "0"), buy("10", "200", "0")}, "20", "150", "0"},
		{"partial sell keeps average", []*domain.Trade{buy("10", "100", "0"), buy("10", "200", "0"), sell("5", "300")}, "15", "150", "750"},
		{"full sell closes", []*domain.Trade{buy("10", "100", "0"), buy("10", "200", "0"), sell("5", "300"), sell("15", "100")}, "0", "0", "0"},
		{"fee raises cost", []*domain.Trade{buy("4", "10", "2")}, "4", "10.5", "0"},
		{"sell with nothing held", []*domain.Trade{sell("1", "10")}, "-1", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Replay(tt.trades)
			if !h.Quantity.Equal(d(tt.wantQty)) {
				t.Errorf("quantity = %s, want %s", h.Quantity, tt.wantQty)
			}
			if !h.AvgCost.Equal(d(tt.wantAvg)) {
				t.Errorf("avg = %s, want %s", h.AvgCost, tt.wantAvg)
			}
			if !h.Realized.Equal(d(tt.realized)) {
				t.Errorf("realized = %s, want %s", h.Realized, tt.realized)
			}
		})
	}
}

func TestRecordTrade_150_150_0(t *testing.T) {
	ctx := context.Background()
	a, repo, p := setup(t)

	trade(t, a, p.ID, domain.SideBuy, "10", "100", day)
	trade(t, a, p.ID, domain.SideBuy, "10", "200", day.Add(time.Hour))
	pos, err := repo.GetPosition(ctx, p.ID, "VWCE")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.AvgCost.Equal(d("150")) || !pos.Quantity.Equal(d("20")) {
		t.Errorf("after buys: qty %s avg %s, want 20 @ 150", pos.Quantity, pos.AvgCost)
	}

	trade(t, a, p.ID, domain.SideSell, "5", "300", day.Add(2*time.Hour))
	pos, err = repo.GetPosition(ctx, p.ID, "VWCE")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.AvgCost.Equal(d("150")) || !pos.Quantity.Equal(d("15")) {
		t.Errorf("after sell: qty %s avg %s, want 15 @ 150", pos.Quantity, pos.AvgCost)
	}

	trade(t, a, p.ID, domain.SideSell, "15", "300", day.Add(3*time.Hour))
	if _, err := repo.GetPosition(ctx, p.ID, "VWCE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("closed position still stored: %v", err)
	}
}

func TestRecomputePosition_SameTimestampUsesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	a, _, p := setup(t)

	// Both trades share a timestamp; the sell was recorded after the buys
	// and must see the full quantity.
	trade(t, a, p.ID, domain.SideBuy, "10", "100", day)
	trade(t, a, p.ID, domain.SideBuy, "10", "200", day)
	trade(t, a, p.ID, domain.SideSell, "10", "500", day)

	pos, err := a.RecomputePosition(ctx, p.ID, "VWCE")
	if err != nil {
		t.Fatalf("RecomputePosition: %v", err)
	}
	if pos == nil {
		t.Fatal("position closed, want 10 held")
	}
	if !pos.Quantity.Equal(d("10")) || !pos.AvgCost.Equal(d("150")) {
		t.Errorf("qty %s avg %s, want 10 @ 150", pos.Quantity, pos.AvgCost)
	}

	again, err := a.RecomputePosition(ctx, p.ID, "VWCE")
	if err != nil {
		t.Fatal(err)
	}
	if !again.AvgCost.Equal(pos.AvgCost) || !again.Quantity.Equal(pos.Quantity) {
		t.Errorf("recompute not idempotent: %v vs %v", again, pos)
	}
}

func TestRecordTrade_Validation(t *testing.T) {
	ctx := context.Background()
	a, _, p := setup(t)

	tests := []struct {
		name string
		in   TradeInput
		want error
	}{
		{"zero quantity", TradeInput{PortfolioID: p.ID, InstrumentID: "X", Side: domain.SideBuy, Price: d("1")}, domain.ErrInvalidInput},
		{"negative price", TradeInput{PortfolioID: p.ID, InstrumentID: "X", Side: domain.SideBuy, Quantity: d("1"), Price: d("-1")}, domain.ErrInvalidInput},
		{"negative fee", TradeInput{PortfolioID: p.ID, InstrumentID: "X", Side: domain.SideBuy, Quantity: d("1"), Fee: d("-1")}, domain.ErrInvalidInput},
		{"bad side", TradeInput{PortfolioID: p.ID, InstrumentID: "X", Side: "hold", Quantity: d("1")}, domain.ErrInvalidInput},
		{"missing instrument", TradeInput{PortfolioID: p.ID, Side: domain.SideBuy, Quantity: d("1")}, domain.ErrInvalidInput},
		{"unknown portfolio", TradeInput{PortfolioID: "nope", InstrumentID: "X", Side: domain.SideBuy, Quantity: d("1")}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.RecordTrade(ctx, owner, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecordTrade_Total(t *testing.T) {
	a, _, p := setup(t)
	tr, err := a.RecordTrade(context.Background(), owner, TradeInput{
		PortfolioID:  p.ID,
		InstrumentID: "X",
		Side:         domain.SideBuy,
		Quantity:     d("3"),
		Price:        d("12.5"),
		Fee:          d("1.25"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Total.Equal(d("38.75")) {
		t.Errorf("total = %s, want 38.75", tr.Total)
	}
	if !tr.ExecutedAt.Equal(day) {
		t.Errorf("executedAt = %v, want clock now", tr.ExecutedAt)
	}
}

func TestUpdateTrade_MovesInstrument(t *testing.T) {
	ctx := context.Background()
	a, repo, p := setup(t)
	tr := trade(t, a, p.ID, domain.SideBuy, "2", "50", day)

	other := "IWDA"
	if _, err := a.UpdateTrade(ctx, owner, tr.ID, TradePatch{InstrumentID: &other}); err != nil {
		t.Fatalf("UpdateTrade: %v", err)
	}
	if _, err := repo.GetPosition(ctx, p.ID, "VWCE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old instrument position not removed: %v", err)
	}
	pos, err := repo.GetPosition(ctx, p.ID, other)
	if err != nil {
		t.Fatalf("new instrument position: %v", err)
	}
	if !pos.Quantity.Equal(d("2")) {
		t.Errorf("qty = %s, want 2", pos.Quantity)
	}

	zero := decimal.Zero
	if _, err := a.UpdateTrade(ctx, owner, tr.ID, TradePatch{Quantity: &zero}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero quantity patch: err = %v", err)
	}
}

func TestDeleteTrade_Recomputes(t *testing.T) {
	ctx := context.Background()
	a, repo, p := setup(t)
	trade(t, a, p.ID, domain.SideBuy, "10", "100", day)
	second := trade(t, a, p.ID, domain.SideBuy, "10", "200", day.Add(time.Minute))

	if err := a.DeleteTrade(ctx, owner, second.ID); err != nil {
		t.Fatalf("DeleteTrade: %v", err)
	}
	pos, err := repo.GetPosition(ctx, p.ID, "VWCE")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.AvgCost.Equal(d("100")) || !pos.Quantity.Equal(d("10")) {
		t.Errorf("qty %s avg %s, want 10 @ 100", pos.Quantity, pos.AvgCost)
	}
	if err := a.DeleteTrade(ctx, owner, second.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	a, _, p := setup(t)
	trade(t, a, p.ID, domain.SideBuy, "10", "100", day)
	if _, err := a.RecordTrade(ctx, owner, TradeInput{
		PortfolioID: p.ID, InstrumentID: "BOND", Side: domain.SideBuy, Quantity: d("5"), Price: d("200"),
	}); err != nil {
		t.Fatal(err)
	}

	s, err := a.Summary(ctx, owner, p.ID, map[string]decimal.Decimal{"VWCE": d("120")})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(s.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(s.Positions))
	}
	if !s.TotalCost.Equal(d("2000")) || !s.TotalValue.Equal(d("2200")) {
		t.Errorf("cost %s value %s, want 2000 / 2200", s.TotalCost, s.TotalValue)
	}
	if !s.TotalReturnPct.Equal(d("10")) {
		t.Errorf("return pct = %s, want 10", s.TotalReturnPct)
	}

	bond := s.Positions[0]
	if bond.InstrumentID != "BOND" || bond.Priced || !bond.Return.IsZero() {
		t.Errorf("unpriced position = %+v, want BOND valued at cost", bond)
	}
	vwce := s.Positions[1]
	if !vwce.ReturnPct.Equal(d("20")) {
		t.Errorf("VWCE return pct = %s, want 20", vwce.ReturnPct)
	}
	if !vwce.Weight.Add(bond.Weight).Equal(d("100")) {
		t.Errorf("weights %s + %s do not sum to 100", vwce.Weight, bond.Weight)
	}
}

func TestCreatePortfolio_Validation(t *testing.T) {
	a := NewAccountant(memory.New(), nil)
	if _, err := a.CreatePortfolio(context.Background(), owner, " ", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("blank name: err = %v", err)
	}
	if _, err := a.CreatePortfolio(context.Background(), owner, "x", "crypto"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad kind: err = %v", err)
	}
}
