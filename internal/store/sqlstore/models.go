package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Decimal columns are TEXT so SQLite's numeric affinity never rounds them
// through float64.

type accountModel struct {
	ID             string          `gorm:"primaryKey;size:36"`
	OwnerID        string          `gorm:"index;size:64;not null"`
	Name           string          `gorm:"size:128;not null"`
	Kind           string          `gorm:"size:16;not null"`
	Currency       string          `gorm:"size:3;not null"`
	InitialBalance decimal.Decimal `gorm:"type:text;not null"`
	CurrentBalance decimal.Decimal `gorm:"type:text;not null"`
	IsActive       bool            `gorm:"not null"`
	CreatedAt      time.Time       `gorm:"index"`
	UpdatedAt      time.Time
}

func (accountModel) TableName() string { return "accounts" }

type transactionModel struct {
	ID                    string          `gorm:"primaryKey;size:36"`
	OwnerID               string          `gorm:"index;size:64;not null"`
	AccountID             string          `gorm:"index;uniqueIndex:ux_tx_account_fingerprint,priority:1;size:36;not null"`
	Kind                  string          `gorm:"size:16;not null"`
	Amount                decimal.Decimal `gorm:"type:text;not null"`
	AmountSettlement      decimal.Decimal `gorm:"type:text;not null"`
	Currency              string          `gorm:"size:3;not null"`
	CategoryID            *string         `gorm:"index;size:64"`
	Merchant              *string         `gorm:"size:255"`
	Description           *string         `gorm:"size:1024"`
	Note                  *string         `gorm:"size:1024"`
	OccurredAt            time.Time       `gorm:"index;not null"`
	LinkedTransferID      *string         `gorm:"index;size:36"`
	TransferToAccountID   *string         `gorm:"index;size:36"`
	TransferFromAccountID *string         `gorm:"index;size:36"`
	ExternalID            *string         `gorm:"index;size:255"`
	ImportBatchID         *string         `gorm:"index;size:36"`
	ImportSource          string          `gorm:"size:16;not null"`
	Fingerprint           *string         `gorm:"uniqueIndex:ux_tx_account_fingerprint,priority:2;size:512"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (transactionModel) TableName() string { return "transactions" }

type snapshotModel struct {
	AccountID string          `gorm:"primaryKey;size:36"`
	Day       string          `gorm:"primaryKey;size:10"`
	Date      time.Time       `gorm:"not null"`
	Balance   decimal.Decimal `gorm:"type:text;not null"`
}

func (snapshotModel) TableName() string { return "balance_snapshots" }

type portfolioModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   string `gorm:"index;size:64;not null"`
	Name      string `gorm:"size:128;not null"`
	Kind      string `gorm:"size:16;not null"`
	CreatedAt time.Time
}

func (portfolioModel) TableName() string { return "portfolios" }

// tradeModel uses the autoincrement row id as the insertion sequence.
type tradeModel struct {
	Seq          int64           `gorm:"primaryKey;autoIncrement"`
	ID           string          `gorm:"uniqueIndex;size:36;not null"`
	OwnerID      string          `gorm:"index;size:64;not null"`
	PortfolioID  string          `gorm:"index:ix_trade_position,priority:1;size:36;not null"`
	InstrumentID string          `gorm:"index:ix_trade_position,priority:2;size:64;not null"`
	Side         string          `gorm:"size:4;not null"`
	Quantity     decimal.Decimal `gorm:"type:text;not null"`
	Price        decimal.Decimal `gorm:"type:text;not null"`
	Fee          decimal.Decimal `gorm:"type:text;not null"`
	Total        decimal.Decimal `gorm:"type:text;not null"`
	ExecutedAt   time.Time       `gorm:"index;not null"`
	Note         *string         `gorm:"size:1024"`
}

func (tradeModel) TableName() string { return "trades" }

type positionModel struct {
	PortfolioID  string          `gorm:"primaryKey;size:36"`
	InstrumentID string          `gorm:"primaryKey;size:64"`
	Quantity     decimal.Decimal `gorm:"type:text;not null"`
	AvgCost      decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt    time.Time
}

func (positionModel) TableName() string { return "positions" }

type batchModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	OwnerID       string `gorm:"index;size:64;not null"`
	AccountID     string `gorm:"index;size:36;not null"`
	Filename      string `gorm:"size:255"`
	Source        string `gorm:"size:32"`
	Status        string `gorm:"index;size:16;not null"`
	Mapping       string `gorm:"type:text"`
	TotalRows     int
	ImportedRows  int
	DuplicateRows int
	ErrorRows     int
	Errors        string `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
	CompletedAt   *time.Time
}

func (batchModel) TableName() string { return "import_batches" }

var allModels = []interface{}{
	&accountModel{},
	&transactionModel{},
	&snapshotModel{},
	&portfolioModel{},
	&tradeModel{},
	&positionModel{},
	&batchModel{},
}

func fromAccount(a *domain.Account) *accountModel {
	return &accountModel{
		ID:             a.ID,
		OwnerID:        a.OwnerID,
		Name:           a.Name,
		Kind:           string(a.Kind),
		Currency:       a.Currency,
		InitialBalance: a.InitialBalance,
		CurrentBalance: a.CurrentBalance,
		IsActive:       a.IsActive,
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
}

func (m *accountModel) toDomain() *domain.Account {
	return &domain.Account{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		Name:           m.Name,
		Kind:           domain.AccountKind(m.Kind),
		Currency:       m.Currency,
		InitialBalance: m.InitialBalance,
		CurrentBalance: m.CurrentBalance,
		IsActive:       m.IsActive,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromTransaction(tx *domain.Transaction) *transactionModel {
	return &transactionModel{
		ID:                    tx.ID,
		OwnerID:               tx.OwnerID,
		AccountID:             tx.AccountID,
		Kind:                  string(tx.Kind),
		Amount:                tx.Amount,
		AmountSettlement:      tx.AmountSettlement,
		Currency:              tx.Currency,
		CategoryID:            tx.CategoryID,
		Merchant:              tx.Merchant,
		Description:           tx.Description,
		Note:                  tx.Note,
		OccurredAt:            tx.OccurredAt.UTC(),
		LinkedTransferID:      tx.LinkedTransferID,
		TransferToAccountID:   tx.TransferToAccountID,
		TransferFromAccountID: tx.TransferFromAccountID,
		ExternalID:            nonEmpty(tx.ExternalID),
		ImportBatchID:         tx.ImportBatchID,
		ImportSource:          string(tx.ImportSource),
		Fingerprint:           domain.StringPtr(tx.Fingerprint),
		CreatedAt:             tx.CreatedAt.UTC(),
		UpdatedAt:             tx.UpdatedAt.UTC(),
	}
}

// nonEmpty stores empty optional strings as NULL.
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func (m *transactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:                    m.ID,
		OwnerID:               m.OwnerID,
		AccountID:             m.AccountID,
		Kind:                  domain.TransactionKind(m.Kind),
		Amount:                m.Amount,
		AmountSettlement:      m.AmountSettlement,
		Currency:              m.Currency,
		CategoryID:            m.CategoryID,
		Merchant:              m.Merchant,
		Description:           m.Description,
		Note:                  m.Note,
		OccurredAt:            m.OccurredAt.UTC(),
		LinkedTransferID:      m.LinkedTransferID,
		TransferToAccountID:   m.TransferToAccountID,
		TransferFromAccountID: m.TransferFromAccountID,
		ExternalID:            m.ExternalID,
		ImportBatchID:         m.ImportBatchID,
		ImportSource:          domain.ImportSource(m.ImportSource),
		Fingerprint:           domain.Deref(m.Fingerprint),
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func fromTrade(t *domain.Trade) *tradeModel {
	return &tradeModel{
		Seq:          t.Seq,
		ID:           t.ID,
		OwnerID:      t.OwnerID,
		PortfolioID:  t.PortfolioID,
		InstrumentID: t.InstrumentID,
		Side:         string(t.Side),
		Quantity:     t.Quantity,
		Price:        t.Price,
		Fee:          t.Fee,
		Total:        t.Total,
		ExecutedAt:   t.ExecutedAt.UTC(),
		Note:         t.Note,
	}
}

func (m *tradeModel) toDomain() *domain.Trade {
	return &domain.Trade{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		PortfolioID:  m.PortfolioID,
		InstrumentID: m.InstrumentID,
		Side:         domain.TradeSide(m.Side),
		Quantity:     m.Quantity,
		Price:        m.Price,
		Fee:          m.Fee,
		Total:        m.Total,
		ExecutedAt:   m.ExecutedAt.UTC(),
		Note:         m.Note,
		Seq:          m.Seq,
	}
}

func fromBatch(b *domain.ImportBatch) (*batchModel, error) {
	errs, err := json.Marshal(b.Errors)
	if err != nil {
		return nil, err
	}
	return &batchModel{
		ID:            b.ID,
		OwnerID:       b.OwnerID,
		AccountID:     b.AccountID,
		Filename:      b.Filename,
		Source:        b.Source,
		Status:        string(b.Status),
		Mapping:       string(b.Mapping),
		TotalRows:     b.TotalRows,
		ImportedRows:  b.ImportedRows,
		DuplicateRows: b.DuplicateRows,
		ErrorRows:     b.ErrorRows,
		Errors:        string(errs),
		CreatedAt:     b.CreatedAt.UTC(),
		CompletedAt:   b.CompletedAt,
	}, nil
}

func (m *batchModel) toDomain() (*domain.ImportBatch, error) {
	b := &domain.ImportBatch{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		AccountID:     m.AccountID,
		Filename:      m.Filename,
		Source:        m.Source,
		Status:        domain.BatchStatus(m.Status),
		TotalRows:     m.TotalRows,
		ImportedRows:  m.ImportedRows,
		DuplicateRows: m.DuplicateRows,
		ErrorRows:     m.ErrorRows,
		CreatedAt:     m.CreatedAt,
		CompletedAt:   m.CompletedAt,
	}
	if m.Mapping != "" {
		b.Mapping = json.RawMessage(m.Mapping)
	}
	if m.Errors != "" && m.Errors != "null" {
		if err := json.Unmarshal([]byte(m.Errors), &b.Errors); err != nil {
			return nil, err
		}
	}
	return b, nil
}
