package bigquery

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

func TestDecimalOf(t *testing.T) {
	tests := []struct {
		name string
		in   *big.Rat
		want string
	}{
		{"nil", nil, "0"},
		{"integer", big.NewRat(1200, 1), "1200"},
		{"cents", big.NewRat(-4550, 100), "-45.5"},
		{"nine digits", big.NewRat(1, 3), "0.333333333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decimalOf(tt.in)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("decimalOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTransactionRow_NullableColumns(t *testing.T) {
	empty := ""
	tx := &domain.Transaction{
		ID:               "tx-1",
		OwnerID:          "owner",
		AccountID:        "acc-1",
		Kind:             domain.KindExpense,
		Amount:           decimal.RequireFromString("-12.34"),
		AmountSettlement: decimal.RequireFromString("-12.34"),
		Currency:         "EUR",
		ExternalID:       &empty,
		ImportSource:     domain.SourceManual,
		OccurredAt:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	row := toTransactionRow(tx)
	if row.ExternalID.Valid {
		t.Error("empty external id should be written as NULL")
	}
	if row.Fingerprint.Valid {
		t.Error("empty fingerprint should be written as NULL")
	}
	if row.CategoryID.Valid {
		t.Error("nil category should be written as NULL")
	}

	back := row.toDomain()
	if back.ExternalID != nil || back.CategoryID != nil || back.Fingerprint != "" {
		t.Errorf("unexpected optional fields after reading back: %+v", back)
	}
	if !back.Amount.Equal(tx.Amount) {
		t.Errorf("Amount = %s, want %s", back.Amount, tx.Amount)
	}
}

func TestSnapshotRow_DateUsesLocalDay(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	midnight := time.Date(2024, 6, 2, 0, 0, 0, 0, rome)

	row := toSnapshotRow(&domain.BalanceSnapshot{AccountID: "acc-1", Date: midnight, Balance: decimal.NewFromInt(5)})

	want := civil.Date{Year: 2024, Month: time.June, Day: 2}
	if row.SnapshotDate != want {
		t.Errorf("SnapshotDate = %v, want %v", row.SnapshotDate, want)
	}
}

func TestImportBatchRow_Errors(t *testing.T) {
	done := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &domain.ImportBatch{
		ID:          "batch-1",
		OwnerID:     "owner",
		AccountID:   "acc-1",
		Status:      domain.BatchCompleted,
		Mapping:     json.RawMessage(`{"date":0}`),
		Errors:      []domain.RowError{{Row: 3, Message: "invalid date"}},
		CompletedAt: &done,
	}

	row, err := toImportBatchRow(b)
	if err != nil {
		t.Fatalf("toImportBatchRow() error = %v", err)
	}
	if !row.Errors.Valid || !strings.Contains(row.Errors.StringVal, "invalid date") {
		t.Errorf("Errors = %+v", row.Errors)
	}

	back, err := row.toDomain()
	if err != nil {
		t.Fatalf("toDomain() error = %v", err)
	}
	if len(back.Errors) != 1 || back.Errors[0].Row != 3 {
		t.Errorf("Errors = %+v", back.Errors)
	}
	if back.CompletedAt == nil || !back.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", back.CompletedAt, done)
	}
	if string(back.Mapping) != `{"date":0}` {
		t.Errorf("Mapping = %s", back.Mapping)
	}
}

func TestTransactionWhere(t *testing.T) {
	minAmount := decimal.NewFromInt(-100)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		filter     store.TransactionFilter
		wantClause []string
		wantParams []string
	}{
		{
			name:       "owner only",
			filter:     store.TransactionFilter{},
			wantClause: []string{"owner_id = @owner_id"},
			wantParams: []string{"owner_id"},
		},
		{
			name:       "uncategorized wins over category",
			filter:     store.TransactionFilter{Uncategorized: true, CategoryID: "food"},
			wantClause: []string{"category_id IS NULL"},
			wantParams: []string{"owner_id"},
		},
		{
			name:   "every criterion",
			filter: store.TransactionFilter{AccountID: "acc-1", Kind: domain.KindExpense, Merchant: "Coop", MinAmount: &minAmount, From: &from},
			wantClause: []string{
				"account_id = @account_id",
				"kind = @kind",
				"STRPOS(LOWER(IFNULL(merchant, '')), @merchant) > 0",
				"amount_settlement >= @min_amount",
				"occurred_at >= @from_ts",
			},
			wantParams: []string{"owner_id", "account_id", "kind", "merchant", "min_amount", "from_ts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, params := transactionWhere("owner", tt.filter)
			for _, c := range tt.wantClause {
				if !strings.Contains(where, c) {
					t.Errorf("where %q missing %q", where, c)
				}
			}
			if len(params) != len(tt.wantParams) {
				t.Fatalf("got %d params, want %d", len(params), len(tt.wantParams))
			}
			for i, name := range tt.wantParams {
				if params[i].Name != name {
					t.Errorf("param %d = %s, want %s", i, params[i].Name, name)
				}
			}
		})
	}
}

func TestTransactionWhere_MerchantLowercased(t *testing.T) {
	_, params := transactionWhere("owner", store.TransactionFilter{Merchant: "CoOp"})
	if got := params[1].Value; got != "coop" {
		t.Errorf("merchant param = %v, want coop", got)
	}
}

func TestWithoutParam(t *testing.T) {
	params := []bigquery.QueryParameter{{Name: "a"}, {Name: "created_ts"}, {Name: "b"}}
	got := withoutParam(params, "created_ts")
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("withoutParam() = %+v", got)
	}
	if len(params) != 3 {
		t.Error("withoutParam must not modify its input")
	}
}

func TestAffectedRows(t *testing.T) {
	if n := affectedRows(nil); n != 0 {
		t.Errorf("affectedRows(nil) = %d", n)
	}
	status := &bigquery.JobStatus{Statistics: &bigquery.JobStatistics{
		Details: &bigquery.QueryStatistics{NumDMLAffectedRows: 1},
	}}
	if n := affectedRows(status); n != 1 {
		t.Errorf("affectedRows() = %d, want 1", n)
	}
}

func TestStore_Table(t *testing.T) {
	s := NewWithClient(nil, "proj", "finance")
	if got := s.table(transactionsTable); got != "`proj.finance.transactions`" {
		t.Errorf("table() = %s", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() with nil client = %v", err)
	}
}
