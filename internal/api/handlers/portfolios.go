package handlers

import (
	"net/http"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/positions"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PortfoliosHandler handles portfolio, trade and position endpoints.
type PortfoliosHandler struct {
	accountant *positions.Accountant
	log        zerolog.Logger
}

// NewPortfoliosHandler creates a new portfolios handler.
func NewPortfoliosHandler(a *positions.Accountant, log zerolog.Logger) *PortfoliosHandler {
	return &PortfoliosHandler{accountant: a, log: log}
}

// ListPortfolios handles GET /api/portfolios
func (h *PortfoliosHandler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	ps, err := h.accountant.ListPortfolios(r.Context(), owner(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if ps == nil {
		ps = []*domain.Portfolio{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios": ps,
		"count":      len(ps),
	})
}

// CreatePortfolio handles POST /api/portfolios
func (h *PortfoliosHandler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.accountant.CreatePortfolio(r.Context(), owner(r), req.Name, req.Kind)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, p)
}

// ListTrades handles GET /api/portfolios/{id}/trades?limit=50
func (h *PortfoliosHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	trades, err := h.accountant.ListTrades(r.Context(), owner(r), pathID(r), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	middleware.WriteJSON(w, http.StatusOK, trades)
}

// RecordTrade handles POST /api/portfolios/{id}/trades
func (h *PortfoliosHandler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var in positions.TradeInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.PortfolioID = pathID(r)
	t, err := h.accountant.RecordTrade(r.Context(), owner(r), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.log.Info().
		Str("trade_id", t.ID).
		Str("instrument_id", t.InstrumentID).
		Str("side", string(t.Side)).
		Msg("Trade recorded")
	middleware.WriteJSON(w, http.StatusCreated, t)
}

// UpdateTrade handles PATCH /api/trades/{id}
func (h *PortfoliosHandler) UpdateTrade(w http.ResponseWriter, r *http.Request) {
	var p positions.TradePatch
	if !decodeJSON(w, r, &p) {
		return
	}
	t, err := h.accountant.UpdateTrade(r.Context(), owner(r), pathID(r), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, t)
}

// DeleteTrade handles DELETE /api/trades/{id}
func (h *PortfoliosHandler) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	if err := h.accountant.DeleteTrade(r.Context(), owner(r), pathID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPositions handles GET /api/portfolios/{id}/positions
func (h *PortfoliosHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.accountant.ListPositions(r.Context(), owner(r), pathID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if ps == nil {
		ps = []*domain.Position{}
	}
	middleware.WriteJSON(w, http.StatusOK, ps)
}

// Summary handles GET /api/portfolios/{id}/summary?price=AAPL:190.5 and
// POST with {"prices": {"AAPL": "190.5"}}.
func (h *PortfoliosHandler) Summary(w http.ResponseWriter, r *http.Request) {
	prices := map[string]decimal.Decimal{}
	if r.Method == http.MethodPost {
		var req struct {
			Prices map[string]decimal.Decimal `json:"prices"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		for k, v := range req.Prices {
			prices[k] = v
		}
	}
	for _, raw := range r.URL.Query()["price"] {
		id, value, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(id) == "" {
			fail(w, r, domain.Invalid("price must look like INSTRUMENT:VALUE, got %q", raw))
			return
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			fail(w, r, domain.Invalid("price for %s is not a number", id))
			return
		}
		prices[strings.TrimSpace(id)] = d
	}

	s, err := h.accountant.Summary(r.Context(), owner(r), pathID(r), prices)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}
