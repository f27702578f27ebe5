// Package positions derives investment holdings from buy and sell history.
//
// A Position is a materialized view: it is rewritten from the full trade
// history of its (portfolio, instrument) pair after every trade mutation
// and is never edited directly.
package positions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/clock"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/locker"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultTradeLimit = 50

// Portfolio kinds.
const (
	PortfolioPaper = "paper"
	PortfolioReal  = "real"
)

// Accountant records trades and keeps positions in step with them.
type Accountant struct {
	repo  store.Repository
	clock clock.Clock
	locks *locker.Keyed
	newID func() string
}

// NewAccountant creates an accountant. A nil clock means the system clock.
func NewAccountant(repo store.Repository, clk clock.Clock) *Accountant {
	if clk == nil {
		clk = clock.System{}
	}
	return &Accountant{repo: repo, clock: clk, locks: locker.New(), newID: uuid.NewString}
}

func positionKey(portfolioID, instrumentID string) string {
	return "position:" + portfolioID + "|" + instrumentID
}

// CreatePortfolio opens a portfolio. An empty kind means paper.
func (a *Accountant) CreatePortfolio(ctx context.Context, ownerID, name, kind string) (*domain.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("CreatePortfolio: %w", domain.Invalid("name is required"))
	}
	if kind == "" {
		kind = PortfolioPaper
	}
	if kind != PortfolioPaper && kind != PortfolioReal {
		return nil, fmt.Errorf("CreatePortfolio: %w", domain.Invalid("unknown portfolio type %q", kind))
	}
	p := &domain.Portfolio{
		ID:        a.newID(),
		OwnerID:   ownerID,
		Name:      name,
		Kind:      kind,
		CreatedAt: a.clock.Now(),
	}
	if err := a.repo.CreatePortfolio(ctx, p); err != nil {
		return nil, fmt.Errorf("CreatePortfolio: %w", err)
	}
	return p, nil
}

// ListPortfolios returns the owner's portfolios, oldest first.
func (a *Accountant) ListPortfolios(ctx context.Context, ownerID string) ([]*domain.Portfolio, error) {
	ps, err := a.repo.ListPortfolios(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListPortfolios: %w", err)
	}
	return ps, nil
}

// TradeInput describes a buy or sell. A zero ExecutedAt means now.
type TradeInput struct {
	PortfolioID  string           `json:"portfolioId"`
	InstrumentID string           `json:"instrumentId"`
	Side         domain.TradeSide `json:"side"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Price        decimal.Decimal  `json:"price"`
	Fee          decimal.Decimal  `json:"fee"`
	ExecutedAt   time.Time        `json:"executedAt"`
	Note         string           `json:"note"`
}

func validateTrade(instrumentID string, side domain.TradeSide, qty, price, fee decimal.Decimal) error {
	switch {
	case strings.TrimSpace(instrumentID) == "":
		return domain.Invalid("instrument id is required")
	case !side.Valid():
		return domain.Invalid("unknown side %q", side)
	case !qty.IsPositive():
		return domain.Invalid("quantity must be positive")
	case price.IsNegative():
		return domain.Invalid("price must not be negative")
	case fee.IsNegative():
		return domain.Invalid("fee must not be negative")
	}
	return nil
}

// RecordTrade persists a trade and recomputes the position it belongs to.
func (a *Accountant) RecordTrade(ctx context.Context, ownerID string, in TradeInput) (*domain.Trade, error) {
	if err := validateTrade(in.InstrumentID, in.Side, in.Quantity, in.Price, in.Fee); err != nil {
		return nil, fmt.Errorf("RecordTrade: %w", err)
	}
	if _, err := a.repo.GetPortfolio(ctx, ownerID, in.PortfolioID); err != nil {
		return nil, fmt.Errorf("RecordTrade: %w", err)
	}

	executed := in.ExecutedAt
	if executed.IsZero() {
		executed = a.clock.Now()
	}
	t := &domain.Trade{
		ID:           a.newID(),
		OwnerID:      ownerID,
		PortfolioID:  in.PortfolioID,
		InstrumentID: in.InstrumentID,
		Side:         in.Side,
		Quantity:     in.Quantity,
		Price:        in.Price,
		Fee:          in.Fee,
		ExecutedAt:   executed,
		Note:         domain.StringPtr(in.Note),
	}
	t.Total = tradeTotal(t)

	if err := a.repo.CreateTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("RecordTrade: %w", err)
	}
	if _, err := a.RecomputePosition(ctx, t.PortfolioID, t.InstrumentID); err != nil {
		return nil, fmt.Errorf("RecordTrade: %w", err)
	}
	return t, nil
}

// RecomputePosition replays the pair's trades and stores the result. It
// returns nil and removes the position when nothing is held.
func (a *Accountant) RecomputePosition(ctx context.Context, portfolioID, instrumentID string) (*domain.Position, error) {
	unlock := a.locks.Lock(positionKey(portfolioID, instrumentID))
	defer unlock()

	trades, err := a.repo.ListTradesForPosition(ctx, portfolioID, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("RecomputePosition: listing trades: %w", err)
	}
	h := Replay(trades)

	log := logger.FromContext(ctx)
	if !h.Open() {
		if err := a.repo.DeletePosition(ctx, portfolioID, instrumentID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("RecomputePosition: deleting position: %w", err)
		}
		log.Debug().Str("portfolio_id", portfolioID).Str("instrument_id", instrumentID).Msg("Position closed")
		return nil, nil
	}

	p := &domain.Position{
		PortfolioID:  portfolioID,
		InstrumentID: instrumentID,
		Quantity:     h.Quantity,
		AvgCost:      h.AvgCost,
		UpdatedAt:    a.clock.Now(),
	}
	if err := a.repo.UpsertPosition(ctx, p); err != nil {
		return nil, fmt.Errorf("RecomputePosition: %w", err)
	}
	return p, nil
}

// TradePatch is a partial trade update. Nil fields are left unchanged.
type TradePatch struct {
	InstrumentID *string           `json:"instrumentId"`
	Side         *domain.TradeSide `json:"side"`
	Quantity     *decimal.Decimal  `json:"quantity"`
	Price        *decimal.Decimal  `json:"price"`
	Fee          *decimal.Decimal  `json:"fee"`
	ExecutedAt   *time.Time        `json:"executedAt"`
	Note         *string           `json:"note"`
}

// UpdateTrade edits a trade and recomputes the old and, if it moved, the new
// instrument position.
func (a *Accountant) UpdateTrade(ctx context.Context, ownerID, tradeID string, p TradePatch) (*domain.Trade, error) {
	t, err := a.repo.GetTrade(ctx, ownerID, tradeID)
	if err != nil {
		return nil, fmt.Errorf("UpdateTrade: %w", err)
	}
	oldInstrument := t.InstrumentID

	if p.InstrumentID != nil {
		t.InstrumentID = *p.InstrumentID
	}
	if p.Side != nil {
		t.Side = *p.Side
	}
	if p.Quantity != nil {
		t.Quantity = *p.Quantity
	}
	if p.Price != nil {
		t.Price = *p.Price
	}
	if p.Fee != nil {
		t.Fee = *p.Fee
	}
	if p.ExecutedAt != nil {
		t.ExecutedAt = *p.ExecutedAt
	}
	if p.Note != nil {
		t.Note = domain.StringPtr(*p.Note)
	}
	if err := validateTrade(t.InstrumentID, t.Side, t.Quantity, t.Price, t.Fee); err != nil {
		return nil, fmt.Errorf("UpdateTrade: %w", err)
	}
	t.Total = tradeTotal(t)

	if err := a.repo.UpdateTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("UpdateTrade: %w", err)
	}
	if _, err := a.RecomputePosition(ctx, t.PortfolioID, oldInstrument); err != nil {
		return nil, fmt.Errorf("UpdateTrade: %w", err)
	}
	if t.InstrumentID != oldInstrument {
		if _, err := a.RecomputePosition(ctx, t.PortfolioID, t.InstrumentID); err != nil {
			return nil, fmt.Errorf("UpdateTrade: %w", err)
		}
	}
	return t, nil
}

// DeleteTrade removes a trade and recomputes its position.
func (a *Accountant) DeleteTrade(ctx context.Context, ownerID, tradeID string) error {
	t, err := a.repo.GetTrade(ctx, ownerID, tradeID)
	if err != nil {
		return fmt.Errorf("DeleteTrade: %w", err)
	}
	if err := a.repo.DeleteTrade(ctx, ownerID, tradeID); err != nil {
		return fmt.Errorf("DeleteTrade: %w", err)
	}
	if _, err := a.RecomputePosition(ctx, t.PortfolioID, t.InstrumentID); err != nil {
		return fmt.Errorf("DeleteTrade: %w", err)
	}
	return nil
}

// ListTrades returns a portfolio's trades, newest first.
func (a *Accountant) ListTrades(ctx context.Context, ownerID, portfolioID string, limit int) ([]*domain.Trade, error) {
	if _, err := a.repo.GetPortfolio(ctx, ownerID, portfolioID); err != nil {
		return nil, fmt.Errorf("ListTrades: %w", err)
	}
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	trades, err := a.repo.ListTrades(ctx, ownerID, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListTrades: %w", err)
	}
	return trades, nil
}

// ListPositions returns a portfolio's open positions.
func (a *Accountant) ListPositions(ctx context.Context, ownerID, portfolioID string) ([]*domain.Position, error) {
	if _, err := a.repo.GetPortfolio(ctx, ownerID, portfolioID); err != nil {
		return nil, fmt.Errorf("ListPositions: %w", err)
	}
	ps, err := a.repo.ListPositions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("ListPositions: %w", err)
	}
	return ps, nil
}
