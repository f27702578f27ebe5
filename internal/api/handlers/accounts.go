package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/rs/zerolog"
)

// AccountsHandler handles account and balance endpoints.
type AccountsHandler struct {
	ledger     *ledger.Ledger
	settlement string
	log        zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler. settlement is the
// currency TotalBalance uses when the request names none.
func NewAccountsHandler(l *ledger.Ledger, settlement string, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{ledger: l, settlement: settlement, log: log}
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context(), owner(r), queryBool(r, "includeInactive"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// CreateAccount handles POST /api/accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in ledger.AccountInput
	if !decodeJSON(w, r, &in) {
		return
	}
	a, err := h.ledger.CreateAccount(r.Context(), owner(r), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.log.Info().Str("account_id", a.ID).Str("currency", a.Currency).Msg("Account created")
	middleware.WriteJSON(w, http.StatusCreated, a)
}

// GetAccount handles GET /api/accounts/{id}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.GetAccount(r.Context(), owner(r), pathID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, a)
}

// UpdateAccount handles PATCH /api/accounts/{id}
func (h *AccountsHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var p ledger.AccountPatch
	if !decodeJSON(w, r, &p) {
		return
	}
	a, err := h.ledger.UpdateAccount(r.Context(), owner(r), pathID(r), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, a)
}

// DeactivateAccount handles DELETE /api/accounts/{id}. History is kept.
func (h *AccountsHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeactivateAccount(r.Context(), owner(r), pathID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecalculateBalance handles POST /api/accounts/{id}/recalculate
func (h *AccountsHandler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.RecalculateBalance(r.Context(), owner(r), pathID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, a)
}

// CreateSnapshot handles POST /api/accounts/{id}/snapshot
func (h *AccountsHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.CreateDailySnapshot(r.Context(), owner(r), pathID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// SnapshotAll handles POST /api/snapshots
func (h *AccountsHandler) SnapshotAll(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.ledger.SnapshotAll(r.Context(), owner(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []*domain.BalanceSnapshot{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

// BalanceHistory handles GET /api/accounts/{id}/history?days=30
func (h *AccountsHandler) BalanceHistory(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		fail(w, r, err)
		return
	}
	history, err := h.ledger.BalanceHistory(r.Context(), owner(r), pathID(r), days)
	if err != nil {
		fail(w, r, err)
		return
	}
	if history == nil {
		history = []*domain.BalanceSnapshot{}
	}
	middleware.WriteJSON(w, http.StatusOK, history)
}

// TotalBalance handles GET /api/accounts/total-balance?currency=EUR
func (h *AccountsHandler) TotalBalance(w http.ResponseWriter, r *http.Request) {
	ccy := r.URL.Query().Get("currency")
	if ccy == "" {
		ccy = h.settlement
	}
	total, err := h.ledger.TotalBalance(r.Context(), owner(r), ccy)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, total)
}
