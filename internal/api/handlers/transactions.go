package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// TransactionsHandler handles transaction and transfer endpoints.
type TransactionsHandler struct {
	ledger *ledger.Ledger
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(l *ledger.Ledger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{ledger: l, log: log}
}

// transactionFilter builds a store filter from query parameters.
func transactionFilter(r *http.Request) (store.TransactionFilter, error) {
	q := r.URL.Query()
	f := store.TransactionFilter{
		AccountID:     q.Get("accountId"),
		Kind:          domain.TransactionKind(q.Get("type")),
		CategoryID:    q.Get("categoryId"),
		Uncategorized: queryBool(r, "uncategorized"),
		Merchant:      q.Get("merchant"),
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return f, domain.Invalid("unknown transaction type %q", f.Kind)
	}

	var err error
	if f.MinAmount, err = queryDecimal(r, "minAmount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = queryDecimal(r, "maxAmount"); err != nil {
		return f, err
	}
	if f.From, err = queryTime(r, "from", false); err != nil {
		return f, err
	}
	if f.To, err = queryTime(r, "to", true); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := transactionFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	page, err := h.ledger.ListTransactions(r.Context(), owner(r), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []*domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// GetTransaction handles GET /api/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.GetTransaction(r.Context(), owner(r), pathID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in ledger.TransactionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	tx, err := h.ledger.CreateTransaction(r.Context(), owner(r), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// UpdateTransaction handles PATCH /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var p ledger.TransactionPatch
	if !decodeJSON(w, r, &p) {
		return
	}
	tx, err := h.ledger.UpdateTransaction(r.Context(), owner(r), pathID(r), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/transactions/{id}. Deleting a
// transfer leg removes both legs.
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteTransaction(r.Context(), owner(r), pathID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type idsRequest struct {
	IDs        []string `json:"ids"`
	CategoryID string   `json:"categoryId"`
}

// BulkDelete handles POST /api/transactions/bulk-delete
func (h *TransactionsHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.ledger.BulkDelete(r.Context(), owner(r), req.IDs)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.log.Info().Int("deleted", n).Msg("Bulk delete")
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// BulkCategorize handles POST /api/transactions/bulk-categorize
func (h *TransactionsHandler) BulkCategorize(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.ledger.BulkCategorize(r.Context(), owner(r), req.IDs, req.CategoryID)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// UncategorizedCount handles GET /api/transactions/uncategorized-count
func (h *TransactionsHandler) UncategorizedCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.UncategorizedCount(r.Context(), owner(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

// CreateTransfer handles POST /api/transfers
func (h *TransactionsHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var in ledger.TransferInput
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.ledger.CreateTransfer(r.Context(), owner(r), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}
