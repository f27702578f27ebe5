package bigquery

import (
	"encoding/json"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

type AccountRow struct {
	AccountID      string    `bigquery:"account_id"`
	OwnerID        string    `bigquery:"owner_id"`
	Name           string    `bigquery:"name"`
	Kind           string    `bigquery:"kind"`
	Currency       string    `bigquery:"currency"`
	InitialBalance *big.Rat  `bigquery:"initial_balance"`
	CurrentBalance *big.Rat  `bigquery:"current_balance"`
	IsActive       bool      `bigquery:"is_active"`
	CreatedTS      time.Time `bigquery:"created_ts"`
	UpdatedTS      time.Time `bigquery:"updated_ts"`
}

type TransactionRow struct {
	TransactionID         string              `bigquery:"transaction_id"`
	OwnerID               string              `bigquery:"owner_id"`
	AccountID             string              `bigquery:"account_id"`
	Kind                  string              `bigquery:"kind"`
	Amount                *big.Rat            `bigquery:"amount"`
	AmountSettlement      *big.Rat            `bigquery:"amount_settlement"`
	Currency              string              `bigquery:"currency"`
	CategoryID            bigquery.NullString `bigquery:"category_id"`
	Merchant              bigquery.NullString `bigquery:"merchant"`
	Description           bigquery.NullString `bigquery:"description"`
	Note                  bigquery.NullString `bigquery:"note"`
	OccurredAt            time.Time           `bigquery:"occurred_at"`
	LinkedTransferID      bigquery.NullString `bigquery:"linked_transfer_id"`
	TransferToAccountID   bigquery.NullString `bigquery:"transfer_to_account_id"`
	TransferFromAccountID bigquery.NullString `bigquery:"transfer_from_account_id"`
	ExternalID            bigquery.NullString `bigquery:"external_id"`
	ImportBatchID         bigquery.NullString `bigquery:"import_batch_id"`
	ImportSource          string              `bigquery:"import_source"`
	Fingerprint           bigquery.NullString `bigquery:"fingerprint"`
	CreatedTS             time.Time           `bigquery:"created_ts"`
	UpdatedTS             time.Time           `bigquery:"updated_ts"`
}

type SnapshotRow struct {
	AccountID    string     `bigquery:"account_id"`
	SnapshotDate civil.Date `bigquery:"snapshot_date"`
	SnapshotTS   time.Time  `bigquery:"snapshot_ts"`
	Balance      *big.Rat   `bigquery:"balance"`
}

type PortfolioRow struct {
	PortfolioID string    `bigquery:"portfolio_id"`
	OwnerID     string    `bigquery:"owner_id"`
	Name        string    `bigquery:"name"`
	Kind        string    `bigquery:"kind"`
	CreatedTS   time.Time `bigquery:"created_ts"`
}

type TradeRow struct {
	TradeID      string              `bigquery:"trade_id"`
	Seq          int64               `bigquery:"seq"`
	OwnerID      string              `bigquery:"owner_id"`
	PortfolioID  string              `bigquery:"portfolio_id"`
	InstrumentID string              `bigquery:"instrument_id"`
	Side         string              `bigquery:"side"`
	Quantity     *big.Rat            `bigquery:"quantity"`
	Price        *big.Rat            `bigquery:"price"`
	Fee          *big.Rat            `bigquery:"fee"`
	Total        *big.Rat            `bigquery:"total"`
	ExecutedAt   time.Time           `bigquery:"executed_at"`
	Note         bigquery.NullString `bigquery:"note"`
}

type PositionRow struct {
	PortfolioID  string    `bigquery:"portfolio_id"`
	InstrumentID string    `bigquery:"instrument_id"`
	Quantity     *big.Rat  `bigquery:"quantity"`
	AvgCost      *big.Rat  `bigquery:"avg_cost"`
	UpdatedTS    time.Time `bigquery:"updated_ts"`
}

// ImportBatchRow keeps the mapping and the row errors as JSON text.
type ImportBatchRow struct {
	BatchID       string                 `bigquery:"batch_id"`
	OwnerID       string                 `bigquery:"owner_id"`
	AccountID     string                 `bigquery:"account_id"`
	Filename      string                 `bigquery:"filename"`
	Source        string                 `bigquery:"source"`
	Status        string                 `bigquery:"status"`
	Mapping       bigquery.NullString    `bigquery:"mapping"`
	TotalRows     int64                  `bigquery:"total_rows"`
	ImportedRows  int64                  `bigquery:"imported_rows"`
	DuplicateRows int64                  `bigquery:"duplicate_rows"`
	ErrorRows     int64                  `bigquery:"error_rows"`
	Errors        bigquery.NullString    `bigquery:"errors"`
	CreatedTS     time.Time              `bigquery:"created_ts"`
	CompletedTS   bigquery.NullTimestamp `bigquery:"completed_ts"`
}

func ratOf(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

// decimalOf converts a NUMERIC back to a decimal. NUMERIC never carries
// more than nine fractional digits, so FloatString is exact.
func decimalOf(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func stringOf(n bigquery.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.StringVal
	return &s
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func toAccountRow(a *domain.Account) *AccountRow {
	return &AccountRow{
		AccountID:      a.ID,
		OwnerID:        a.OwnerID,
		Name:           a.Name,
		Kind:           string(a.Kind),
		Currency:       a.Currency,
		InitialBalance: ratOf(a.InitialBalance),
		CurrentBalance: ratOf(a.CurrentBalance),
		IsActive:       a.IsActive,
		CreatedTS:      a.CreatedAt,
		UpdatedTS:      a.UpdatedAt,
	}
}

func (r *AccountRow) toDomain() *domain.Account {
	return &domain.Account{
		ID:             r.AccountID,
		OwnerID:        r.OwnerID,
		Name:           r.Name,
		Kind:           domain.AccountKind(r.Kind),
		Currency:       r.Currency,
		InitialBalance: decimalOf(r.InitialBalance),
		CurrentBalance: decimalOf(r.CurrentBalance),
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedTS,
		UpdatedAt:      r.UpdatedTS,
	}
}

func toTransactionRow(tx *domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:         tx.ID,
		OwnerID:               tx.OwnerID,
		AccountID:             tx.AccountID,
		Kind:                  string(tx.Kind),
		Amount:                ratOf(tx.Amount),
		AmountSettlement:      ratOf(tx.AmountSettlement),
		Currency:              tx.Currency,
		CategoryID:            nullString(tx.CategoryID),
		Merchant:              nullString(tx.Merchant),
		Description:           nullString(tx.Description),
		Note:                  nullString(tx.Note),
		OccurredAt:            tx.OccurredAt,
		LinkedTransferID:      nullString(tx.LinkedTransferID),
		TransferToAccountID:   nullString(tx.TransferToAccountID),
		TransferFromAccountID: nullString(tx.TransferFromAccountID),
		ExternalID:            nullString(nonEmpty(tx.ExternalID)),
		ImportBatchID:         nullString(tx.ImportBatchID),
		ImportSource:          string(tx.ImportSource),
		Fingerprint:           nullString(domain.StringPtr(tx.Fingerprint)),
		CreatedTS:             tx.CreatedAt,
		UpdatedTS:             tx.UpdatedAt,
	}
}

func (r *TransactionRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:                    r.TransactionID,
		OwnerID:               r.OwnerID,
		AccountID:             r.AccountID,
		Kind:                  domain.TransactionKind(r.Kind),
		Amount:                decimalOf(r.Amount),
		AmountSettlement:      decimalOf(r.AmountSettlement),
		Currency:              r.Currency,
		CategoryID:            stringOf(r.CategoryID),
		Merchant:              stringOf(r.Merchant),
		Description:           stringOf(r.Description),
		Note:                  stringOf(r.Note),
		OccurredAt:            r.OccurredAt,
		LinkedTransferID:      stringOf(r.LinkedTransferID),
		TransferToAccountID:   stringOf(r.TransferToAccountID),
		TransferFromAccountID: stringOf(r.TransferFromAccountID),
		ExternalID:            stringOf(r.ExternalID),
		ImportBatchID:         stringOf(r.ImportBatchID),
		ImportSource:          domain.ImportSource(r.ImportSource),
		Fingerprint:           r.Fingerprint.StringVal,
		CreatedAt:             r.CreatedTS,
		UpdatedAt:             r.UpdatedTS,
	}
}

// params lists the row as named query parameters, one per column.
func (r *TransactionRow) params() []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "transaction_id", Value: r.TransactionID},
		{Name: "owner_id", Value: r.OwnerID},
		{Name: "account_id", Value: r.AccountID},
		{Name: "kind", Value: r.Kind},
		{Name: "amount", Value: r.Amount},
		{Name: "amount_settlement", Value: r.AmountSettlement},
		{Name: "currency", Value: r.Currency},
		{Name: "category_id", Value: r.CategoryID},
		{Name: "merchant", Value: r.Merchant},
		{Name: "description", Value: r.Description},
		{Name: "note", Value: r.Note},
		{Name: "occurred_at", Value: r.OccurredAt},
		{Name: "linked_transfer_id", Value: r.LinkedTransferID},
		{Name: "transfer_to_account_id", Value: r.TransferToAccountID},
		{Name: "transfer_from_account_id", Value: r.TransferFromAccountID},
		{Name: "external_id", Value: r.ExternalID},
		{Name: "import_batch_id", Value: r.ImportBatchID},
		{Name: "import_source", Value: r.ImportSource},
		{Name: "fingerprint", Value: r.Fingerprint},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
	}
}

func toSnapshotRow(s *domain.BalanceSnapshot) *SnapshotRow {
	return &SnapshotRow{
		AccountID:    s.AccountID,
		SnapshotDate: civil.DateOf(s.Date),
		SnapshotTS:   s.Date,
		Balance:      ratOf(s.Balance),
	}
}

func (r *SnapshotRow) toDomain() *domain.BalanceSnapshot {
	return &domain.BalanceSnapshot{
		AccountID: r.AccountID,
		Date:      r.SnapshotTS,
		Balance:   decimalOf(r.Balance),
	}
}

func (r *PortfolioRow) toDomain() *domain.Portfolio {
	return &domain.Portfolio{
		ID:        r.PortfolioID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Kind:      r.Kind,
		CreatedAt: r.CreatedTS,
	}
}

func toTradeRow(t *domain.Trade) *TradeRow {
	return &TradeRow{
		TradeID:      t.ID,
		Seq:          t.Seq,
		OwnerID:      t.OwnerID,
		PortfolioID:  t.PortfolioID,
		InstrumentID: t.InstrumentID,
		Side:         string(t.Side),
		Quantity:     ratOf(t.Quantity),
		Price:        ratOf(t.Price),
		Fee:          ratOf(t.Fee),
		Total:        ratOf(t.Total),
		ExecutedAt:   t.ExecutedAt,
		Note:         nullString(t.Note),
	}
}

func (r *TradeRow) toDomain() *domain.Trade {
	return &domain.Trade{
		ID:           r.TradeID,
		Seq:          r.Seq,
		OwnerID:      r.OwnerID,
		PortfolioID:  r.PortfolioID,
		InstrumentID: r.InstrumentID,
		Side:         domain.TradeSide(r.Side),
		Quantity:     decimalOf(r.Quantity),
		Price:        decimalOf(r.Price),
		Fee:          decimalOf(r.Fee),
		Total:        decimalOf(r.Total),
		ExecutedAt:   r.ExecutedAt,
		Note:         stringOf(r.Note),
	}
}

func (r *TradeRow) params() []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "trade_id", Value: r.TradeID},
		{Name: "owner_id", Value: r.OwnerID},
		{Name: "portfolio_id", Value: r.PortfolioID},
		{Name: "instrument_id", Value: r.InstrumentID},
		{Name: "side", Value: r.Side},
		{Name: "quantity", Value: r.Quantity},
		{Name: "price", Value: r.Price},
		{Name: "fee", Value: r.Fee},
		{Name: "total", Value: r.Total},
		{Name: "executed_at", Value: r.ExecutedAt},
		{Name: "note", Value: r.Note},
	}
}

func (r *PositionRow) toDomain() *domain.Position {
	return &domain.Position{
		PortfolioID:  r.PortfolioID,
		InstrumentID: r.InstrumentID,
		Quantity:     decimalOf(r.Quantity),
		AvgCost:      decimalOf(r.AvgCost),
		UpdatedAt:    r.UpdatedTS,
	}
}

func toImportBatchRow(b *domain.ImportBatch) (*ImportBatchRow, error) {
	row := &ImportBatchRow{
		BatchID:       b.ID,
		OwnerID:       b.OwnerID,
		AccountID:     b.AccountID,
		Filename:      b.Filename,
		Source:        b.Source,
		Status:        string(b.Status),
		TotalRows:     int64(b.TotalRows),
		ImportedRows:  int64(b.ImportedRows),
		DuplicateRows: int64(b.DuplicateRows),
		ErrorRows:     int64(b.ErrorRows),
		CreatedTS:     b.CreatedAt,
		CompletedTS:   nullTimestamp(b.CompletedAt),
	}
	if len(b.Mapping) > 0 {
		row.Mapping = bigquery.NullString{StringVal: string(b.Mapping), Valid: true}
	}
	errs, err := encodeRowErrors(b.Errors)
	if err != nil {
		return nil, err
	}
	row.Errors = errs
	return row, nil
}

func encodeRowErrors(errs []domain.RowError) (bigquery.NullString, error) {
	if len(errs) == 0 {
		return bigquery.NullString{}, nil
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return bigquery.NullString{}, err
	}
	return bigquery.NullString{StringVal: string(raw), Valid: true}, nil
}

func (r *ImportBatchRow) toDomain() (*domain.ImportBatch, error) {
	b := &domain.ImportBatch{
		ID:            r.BatchID,
		OwnerID:       r.OwnerID,
		AccountID:     r.AccountID,
		Filename:      r.Filename,
		Source:        r.Source,
		Status:        domain.BatchStatus(r.Status),
		TotalRows:     int(r.TotalRows),
		ImportedRows:  int(r.ImportedRows),
		DuplicateRows: int(r.DuplicateRows),
		ErrorRows:     int(r.ErrorRows),
		CreatedAt:     r.CreatedTS,
	}
	if r.Mapping.Valid {
		b.Mapping = json.RawMessage(r.Mapping.StringVal)
	}
	if r.Errors.Valid && r.Errors.StringVal != "" {
		if err := json.Unmarshal([]byte(r.Errors.StringVal), &b.Errors); err != nil {
			return nil, err
		}
	}
	if r.CompletedTS.Valid {
		t := r.CompletedTS.Timestamp
		b.CompletedAt = &t
	}
	return b, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
