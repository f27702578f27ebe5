package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/handlers"
	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/clock"
	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/positions"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/shopspring/decimal"
)

const testOwner = "owner-1"

var testNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

const statementCSV = `Data;Importo;Causale
15/01/2024;-45,50;PAGAMENTO POS COOP MILANO
16/01/2024;1.500,00;STIPENDIO GENNAIO
16/01/2024;1.500,00;STIPENDIO GENNAIO
bad;10,00;X
`

type fakeStorage struct {
	uploaded map[string][]byte
}

func (f *fakeStorage) Fetch(ctx context.Context, uri string) ([]byte, error) {
	data, ok := f.uploaded[uri]
	if !ok {
		return nil, fmt.Errorf("no object %s", uri)
	}
	return data, nil
}

func (f *fakeStorage) Upload(ctx context.Context, bucket, object string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	uri := "gs://" + bucket + "/" + object
	f.uploaded[uri] = data
	return uri, nil
}

type testServer struct {
	handler  http.Handler
	jobStore *inmemory.Store
	storage  *fakeStorage
}

// newTestServer wires the real services on the memory store. The job queue
// is never started so published jobs stay pending.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conv, err := currency.NewStaticConverter(currency.DefaultRates)
	if err != nil {
		t.Fatalf("NewStaticConverter: %v", err)
	}
	repo := memory.New()
	clk := clock.Fixed(testNow)
	l := ledger.New(repo, conv, clk)
	storage := &fakeStorage{uploaded: map[string][]byte{}}
	imports := pipeline.NewImportService(pipeline.NewImporter(repo, conv, clk), l, storage)

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, 1, jobStore)
	t.Cleanup(func() { queue.Close() })

	router := handlers.NewRouter(handlers.Services{
		Ledger:     l,
		Positions:  positions.NewAccountant(repo, clk),
		Imports:    imports,
		Storage:    storage,
		Bucket:     "statements-bucket",
		Publisher:  queue,
		JobStore:   jobStore,
		Settlement: "EUR",
	}, logger.Nop())

	return &testServer{
		handler:  middleware.Owner(router),
		jobStore: jobStore,
		storage:  storage,
	}
}

func (s *testServer) do(t *testing.T, ownerID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if ownerID != "" {
		req.Header.Set(middleware.OwnerHeader, ownerID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, want, rec.Body.String())
	}
}

func createAccount(t *testing.T, s *testServer, name, ccy, initial string) *domain.Account {
	t.Helper()
	rec := s.do(t, testOwner, http.MethodPost, "/api/accounts", map[string]string{
		"name":           name,
		"currency":       ccy,
		"initialBalance": initial,
	})
	expectStatus(t, rec, http.StatusCreated)
	var a domain.Account
	decode(t, rec, &a)
	return &a
}

func getAccount(t *testing.T, s *testServer, id string) *domain.Account {
	t.Helper()
	rec := s.do(t, testOwner, http.MethodGet, "/api/accounts/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	var a domain.Account
	decode(t, rec, &a)
	return &a
}

func assertBalance(t *testing.T, s *testServer, id, want string) {
	t.Helper()
	got := getAccount(t, s, id).CurrentBalance
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("balance = %s, want %s", got, want)
	}
}

func TestRouter_RequiresOwner(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s.do(t, "", http.MethodGet, "/api/accounts", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, "", http.MethodGet, "/health", nil), http.StatusOK)
}

func TestAccounts_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	a := createAccount(t, s, "Conto", "eur", "100")
	if a.Currency != "EUR" || !a.CurrentBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("created %+v", a)
	}

	// Other owners cannot see it.
	expectStatus(t, s.do(t, "someone-else", http.MethodGet, "/api/accounts/"+a.ID, nil), http.StatusNotFound)

	rec := s.do(t, testOwner, http.MethodPatch, "/api/accounts/"+a.ID, map[string]string{"name": "Conto corrente"})
	expectStatus(t, rec, http.StatusOK)
	if got := getAccount(t, s, a.ID); got.Name != "Conto corrente" {
		t.Errorf("name = %q", got.Name)
	}

	expectStatus(t, s.do(t, testOwner, http.MethodDelete, "/api/accounts/"+a.ID, nil), http.StatusNoContent)

	var list struct {
		Accounts []*domain.Account `json:"accounts"`
		Count    int               `json:"count"`
	}
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/accounts", nil), &list)
	if list.Count != 0 {
		t.Errorf("active accounts = %d, want 0", list.Count)
	}
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/accounts?includeInactive=true", nil), &list)
	if list.Count != 1 {
		t.Errorf("all accounts = %d, want 1", list.Count)
	}
}

func TestAccounts_CreateValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing name", map[string]string{"currency": "EUR"}, http.StatusBadRequest},
		{"unknown currency", map[string]string{"name": "X", "currency": "XXQ"}, http.StatusBadRequest},
		{"unknown type", map[string]string{"name": "X", "type": "crypto"}, http.StatusBadRequest},
		{"malformed body", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/accounts", tt.body), tt.want)
		})
	}
}

func TestTransactions_CreateListAndDelete(t *testing.T) {
	s := newTestServer(t)
	a := createAccount(t, s, "Conto", "EUR", "100")

	rec := s.do(t, testOwner, http.MethodPost, "/api/transactions", map[string]string{
		"accountId": a.ID,
		"type":      "expense",
		"amount":    "30",
		"merchant":  "Coop",
	})
	expectStatus(t, rec, http.StatusCreated)
	var tx domain.Transaction
	decode(t, rec, &tx)
	assertBalance(t, s, a.ID, "70")

	rec = s.do(t, testOwner, http.MethodPost, "/api/transactions", map[string]string{
		"accountId": a.ID,
		"type":      "income",
		"amount":    "10",
	})
	expectStatus(t, rec, http.StatusCreated)
	assertBalance(t, s, a.ID, "80")

	var page ledger.TransactionPage
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/transactions?merchant=coop", nil), &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != tx.ID {
		t.Errorf("merchant filter page = %+v", page)
	}
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/transactions?limit=1", nil), &page)
	if page.Total != 2 || len(page.Items) != 1 || !page.HasMore {
		t.Errorf("paged = total %d items %d hasMore %v", page.Total, len(page.Items), page.HasMore)
	}

	var count map[string]int
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/transactions/uncategorized-count", nil), &count)
	if count["count"] != 2 {
		t.Errorf("uncategorized = %d, want 2", count["count"])
	}

	expectStatus(t, s.do(t, testOwner, http.MethodDelete, "/api/transactions/"+tx.ID, nil), http.StatusNoContent)
	assertBalance(t, s, a.ID, "110")
	expectStatus(t, s.do(t, testOwner, http.MethodGet, "/api/transactions/"+tx.ID, nil), http.StatusNotFound)
}

func TestTransactions_BadQuery(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"type=refund", "minAmount=abc", "from=yesterday", "limit=ten"} {
		t.Run(q, func(t *testing.T) {
			expectStatus(t, s.do(t, testOwner, http.MethodGet, "/api/transactions?"+q, nil), http.StatusBadRequest)
		})
	}
}

func TestTransfers(t *testing.T) {
	s := newTestServer(t)
	from := createAccount(t, s, "Conto", "EUR", "500")
	to := createAccount(t, s, "Risparmi", "EUR", "0")

	rec := s.do(t, testOwner, http.MethodPost, "/api/transfers", map[string]string{
		"fromAccountId": from.ID,
		"toAccountId":   to.ID,
		"amount":        "200",
	})
	expectStatus(t, rec, http.StatusCreated)
	var res ledger.TransferResult
	decode(t, rec, &res)
	if res.Outgoing == nil || res.Incoming == nil {
		t.Fatalf("transfer result = %+v", res)
	}
	assertBalance(t, s, from.ID, "300")
	assertBalance(t, s, to.ID, "200")

	rec = s.do(t, testOwner, http.MethodPost, "/api/transfers", map[string]string{
		"fromAccountId": from.ID,
		"toAccountId":   from.ID,
		"amount":        "1",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	var total ledger.TotalBalance
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/accounts/total-balance", nil), &total)
	if !total.Total.Equal(decimal.NewFromInt(500)) || total.Currency != "EUR" || total.AccountsCount != 2 {
		t.Errorf("total = %+v", total)
	}
}

func TestSnapshotsAndHistory(t *testing.T) {
	s := newTestServer(t)
	a := createAccount(t, s, "Conto", "EUR", "42")

	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/accounts/"+a.ID+"/snapshot", nil), http.StatusOK)
	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/snapshots", nil), http.StatusOK)

	var history []*domain.BalanceSnapshot
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/accounts/"+a.ID+"/history?days=7", nil), &history)
	if len(history) != 1 || !history[0].Balance.Equal(decimal.NewFromInt(42)) {
		t.Errorf("history = %+v", history)
	}

	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/accounts/missing/recalculate", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/accounts/"+a.ID+"/recalculate", nil), http.StatusOK)
}

func importBody(accountID string) map[string]interface{} {
	return map[string]interface{}{
		"accountId": accountID,
		"filename":  "estratto.csv",
		"content":   statementCSV,
		"mapping": map[string]interface{}{
			"delimiter":         ";",
			"dateColumn":        0,
			"dateFormat":        "DD/MM/YYYY",
			"amountColumn":      1,
			"amountFormat":      "positive_negative",
			"descriptionColumn": 2,
		},
	}
}

func TestImports_PreviewExecuteHistory(t *testing.T) {
	s := newTestServer(t)
	a := createAccount(t, s, "Conto", "EUR", "100")

	var detected pipeline.DetectResult
	decode(t, s.do(t, testOwner, http.MethodPost, "/api/imports/detect", map[string]string{"content": statementCSV}), &detected)
	if len(detected.Columns) != 3 {
		t.Errorf("detected columns = %v", detected.Columns)
	}

	var preview pipeline.PreviewResult
	rec := s.do(t, testOwner, http.MethodPost, "/api/imports/preview", importBody(a.ID))
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &preview)
	if preview.ValidRows != 2 || preview.DuplicateRows != 1 || preview.ErrorRows != 1 {
		t.Errorf("preview = %+v", preview)
	}

	rec = s.do(t, testOwner, http.MethodPost, "/api/imports", importBody(a.ID))
	expectStatus(t, rec, http.StatusCreated)
	var res struct {
		BatchID  string          `json:"batchId"`
		Imported int             `json:"imported"`
		Account  *domain.Account `json:"account"`
	}
	decode(t, rec, &res)
	if res.Imported != 2 || res.BatchID == "" {
		t.Fatalf("execute = %+v", res)
	}
	assertBalance(t, s, a.ID, "1554.50")

	var batch domain.ImportBatch
	rec = s.do(t, testOwner, http.MethodGet, "/api/imports/"+res.BatchID, nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &batch)
	if batch.Status != domain.BatchCompleted || batch.ImportedRows != 2 {
		t.Errorf("batch = %+v", batch)
	}

	var history []*domain.ImportBatch
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/imports", nil), &history)
	if len(history) != 1 {
		t.Errorf("history has %d batches", len(history))
	}
}

func TestImports_DeclaredEncodingOnlyAppliesToRawBytes(t *testing.T) {
	s := newTestServer(t)
	a := createAccount(t, s, "Conto", "EUR", "100")

	latin1 := []byte("Data;Importo;Causale\n15/01/2024;-3,00;CAFF\xc8 BAR\n")
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"json string", map[string]interface{}{"content": "Data;Importo;Causale\n15/01/2024;-3,00;CAFFÈ BAR\n"}},
		{"base64 bytes", map[string]interface{}{"contentBase64": base64.StdEncoding.EncodeToString(latin1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := importBody(a.ID)
			delete(body, "content")
			for k, v := range tt.body {
				body[k] = v
			}
			body["mapping"].(map[string]interface{})["encoding"] = "latin1"

			rec := s.do(t, testOwner, http.MethodPost, "/api/imports/preview", body)
			expectStatus(t, rec, http.StatusOK)
			var preview pipeline.PreviewResult
			decode(t, rec, &preview)
			if len(preview.SampleTransactions) != 1 {
				t.Fatalf("samples = %+v", preview.SampleTransactions)
			}
			if got := preview.SampleTransactions[0].Description; got != "CAFFÈ BAR" {
				t.Errorf("description = %q, want %q", got, "CAFFÈ BAR")
			}
		})
	}
}

func TestImports_UnknownAccountReportsBatch(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, testOwner, http.MethodPost, "/api/imports", importBody("missing"))
	expectStatus(t, rec, http.StatusNotFound)
	var body map[string]string
	decode(t, rec, &body)
	if body["batchId"] == "" {
		t.Errorf("failed import should name its batch, got %v", body)
	}
}

func TestImports_UploadEnqueuesJob(t *testing.T) {
	s := newTestServer(t)
	a := createAccount(t, s, "Conto", "EUR", "0")

	rec := s.do(t, testOwner, http.MethodPost, "/api/imports/upload?accountId="+a.ID+"&filename=estratto.csv", statementCSV)
	expectStatus(t, rec, http.StatusAccepted)
	var body map[string]string
	decode(t, rec, &body)
	if _, ok := s.storage.uploaded[body["gcs_uri"]]; !ok {
		t.Errorf("object %s was not uploaded", body["gcs_uri"])
	}

	job, err := s.jobStore.GetJob(context.Background(), body["job_id"])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != jobs.JobTypeImportStatement || job.AccountID != a.ID || job.GCSURI != body["gcs_uri"] {
		t.Errorf("job = %+v", job)
	}

	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/imports/upload?filename=x.csv", "a"), http.StatusBadRequest)
}

func TestPortfolios_TradesAndSummary(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, testOwner, http.MethodPost, "/api/portfolios", map[string]string{"name": "Growth"})
	expectStatus(t, rec, http.StatusCreated)
	var p domain.Portfolio
	decode(t, rec, &p)

	trades := []map[string]string{
		{"instrumentId": "AAPL", "side": "buy", "quantity": "10", "price": "100", "executedAt": "2024-01-02T10:00:00Z"},
		{"instrumentId": "AAPL", "side": "buy", "quantity": "10", "price": "200", "executedAt": "2024-01-03T10:00:00Z"},
	}
	for _, tr := range trades {
		expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/portfolios/"+p.ID+"/trades", tr), http.StatusCreated)
	}

	var ps []*domain.Position
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/portfolios/"+p.ID+"/positions", nil), &ps)
	if len(ps) != 1 || !ps[0].Quantity.Equal(decimal.NewFromInt(20)) || !ps[0].AvgCost.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("positions = %+v", ps)
	}

	var sum positions.Summary
	rec = s.do(t, testOwner, http.MethodGet, "/api/portfolios/"+p.ID+"/summary?price=AAPL:180", nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &sum)
	if !sum.TotalValue.Equal(decimal.NewFromInt(3600)) || !sum.TotalReturn.Equal(decimal.NewFromInt(600)) {
		t.Errorf("summary = %+v", sum)
	}

	expectStatus(t, s.do(t, testOwner, http.MethodGet, "/api/portfolios/"+p.ID+"/summary?price=AAPL", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, "someone-else", http.MethodGet, "/api/portfolios/"+p.ID+"/trades", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/portfolios/"+p.ID+"/trades",
		map[string]string{"instrumentId": "AAPL", "side": "hold", "quantity": "1", "price": "1"}), http.StatusBadRequest)
}

func TestJobs_EnqueueAndRead(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, testOwner, http.MethodPost, "/api/jobs", map[string]string{"type": "snapshot_balances"})
	expectStatus(t, rec, http.StatusAccepted)
	var body map[string]string
	decode(t, rec, &body)

	var job jobs.Job
	rec = s.do(t, testOwner, http.MethodGet, "/api/jobs/"+body["job_id"], nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &job)
	if job.Status != jobs.JobStatusPending || job.OwnerID != testOwner {
		t.Errorf("job = %+v", job)
	}

	expectStatus(t, s.do(t, "someone-else", http.MethodGet, "/api/jobs/"+body["job_id"], nil), http.StatusNotFound)
	expectStatus(t, s.do(t, testOwner, http.MethodPost, "/api/jobs", map[string]string{"type": "recalculate_balance"}), http.StatusBadRequest)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, s.do(t, testOwner, http.MethodGet, "/api/jobs?type=snapshot_balances", nil), &list)
	if list.Count != 1 {
		t.Errorf("listed %d jobs, want 1", list.Count)
	}
}
