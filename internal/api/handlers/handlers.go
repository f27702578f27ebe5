// Package handlers exposes the ledger, the position accountant, the import
// pipeline and the job queue over HTTP.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/gcsuploader"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/positions"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxBodyBytes caps JSON and statement uploads.
const maxBodyBytes = 20 << 20

// Services are the components the HTTP layer calls into. Storage,
// Publisher and JobStore may be nil; the endpoints that need them then
// answer 503.
type Services struct {
	Ledger     *ledger.Ledger
	Positions  *positions.Accountant
	Imports    *pipeline.ImportService
	Storage    gcsuploader.StorageService
	Bucket     string
	Publisher  jobs.Publisher
	JobStore   jobs.JobStore
	Settlement string
}

// NewRouter registers every endpoint on a gorilla/mux router.
func NewRouter(svc Services, log zerolog.Logger) *mux.Router {
	accounts := NewAccountsHandler(svc.Ledger, svc.Settlement, log)
	txs := NewTransactionsHandler(svc.Ledger, log)
	portfolios := NewPortfoliosHandler(svc.Positions, log)
	imports := NewImportsHandler(svc.Imports, svc.Storage, svc.Bucket, svc.Publisher, log)
	jobsHandler := NewJobsHandler(svc.JobStore, svc.Publisher, log)

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/accounts", accounts.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", accounts.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/total-balance", accounts.TotalBalance).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", accounts.GetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", accounts.UpdateAccount).Methods(http.MethodPatch, http.MethodPut)
	api.HandleFunc("/accounts/{id}", accounts.DeactivateAccount).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{id}/recalculate", accounts.RecalculateBalance).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/snapshot", accounts.CreateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/history", accounts.BalanceHistory).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", accounts.SnapshotAll).Methods(http.MethodPost)

	api.HandleFunc("/transactions", txs.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions", txs.CreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions/uncategorized-count", txs.UncategorizedCount).Methods(http.MethodGet)
	api.HandleFunc("/transactions/bulk-delete", txs.BulkDelete).Methods(http.MethodPost)
	api.HandleFunc("/transactions/bulk-categorize", txs.BulkCategorize).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", txs.GetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", txs.UpdateTransaction).Methods(http.MethodPatch, http.MethodPut)
	api.HandleFunc("/transactions/{id}", txs.DeleteTransaction).Methods(http.MethodDelete)
	api.HandleFunc("/transfers", txs.CreateTransfer).Methods(http.MethodPost)

	api.HandleFunc("/portfolios", portfolios.ListPortfolios).Methods(http.MethodGet)
	api.HandleFunc("/portfolios", portfolios.CreatePortfolio).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{id}/trades", portfolios.ListTrades).Methods(http.MethodGet)
	api.HandleFunc("/portfolios/{id}/trades", portfolios.RecordTrade).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{id}/positions", portfolios.ListPositions).Methods(http.MethodGet)
	api.HandleFunc("/portfolios/{id}/summary", portfolios.Summary).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/trades/{id}", portfolios.UpdateTrade).Methods(http.MethodPatch, http.MethodPut)
	api.HandleFunc("/trades/{id}", portfolios.DeleteTrade).Methods(http.MethodDelete)

	api.HandleFunc("/imports", imports.ImportHistory).Methods(http.MethodGet)
	api.HandleFunc("/imports", imports.ExecuteImport).Methods(http.MethodPost)
	api.HandleFunc("/imports/detect", imports.DetectColumns).Methods(http.MethodPost)
	api.HandleFunc("/imports/preview", imports.PreviewImport).Methods(http.MethodPost)
	api.HandleFunc("/imports/upload", imports.UploadStatement).Methods(http.MethodPost)
	api.HandleFunc("/imports/{id}", imports.GetBatch).Methods(http.MethodGet)

	api.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", jobsHandler.EnqueueJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)

	return r
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// fail writes err using the domain error mapping.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteDomainError(r.Context(), w, err)
}

func owner(r *http.Request) string {
	return middleware.OwnerID(r.Context())
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// queryInt parses an optional integer parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalid("%s must be an integer", name)
	}
	return n, nil
}

// queryDecimal parses an optional decimal parameter.
func queryDecimal(r *http.Request, name string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, domain.Invalid("%s must be a decimal number", name)
	}
	return &d, nil
}

// queryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
// A bare date used as an upper bound covers the whole day.
func queryTime(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, domain.Invalid("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func unavailable(w http.ResponseWriter, what string) {
	middleware.WriteError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s is not configured", what))
}
