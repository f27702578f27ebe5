// Package store defines the persistence contract the ledger, the position
// accountant and the import pipeline consume.
//
// Every implementation must enforce uniqueness of imported rows on
// (account_id, fingerprint) and report a violation as domain.ErrDuplicate.
// External ids encode a row's position in its statement and are not unique
// across statements. The in-process fingerprint set used by
// the import pipeline is only an optimization on top of that constraint.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountStore provides account persistence.
type AccountStore interface {
	// CreateAccount inserts a new account.
	CreateAccount(ctx context.Context, a *domain.Account) error

	// GetAccount returns the owner's account or domain.ErrNotFound.
	GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error)

	// ListAccounts returns the owner's accounts, newest first.
	ListAccounts(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.Account, error)

	// UpdateAccount writes descriptive fields and the active flag.
	// It never writes CurrentBalance.
	UpdateAccount(ctx context.Context, a *domain.Account) error

	// UpdateAccountBalance is the only writer of CurrentBalance.
	UpdateAccountBalance(ctx context.Context, ownerID, accountID string, balance decimal.Decimal) error
}

// TransactionStore provides ledger transaction persistence.
type TransactionStore interface {
	// CreateTransaction inserts tx. Returns domain.ErrDuplicate when an
	// imported row collides on fingerprint for its account.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction returns the owner's transaction or domain.ErrNotFound.
	GetTransaction(ctx context.Context, ownerID, id string) (*domain.Transaction, error)

	// UpdateTransaction replaces a stored transaction.
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error

	// DeleteTransaction removes a transaction.
	DeleteTransaction(ctx context.Context, ownerID, id string) error

	// ListTransactions returns transactions matching the filter, newest first.
	ListTransactions(ctx context.Context, ownerID string, f TransactionFilter) ([]*domain.Transaction, error)

	// CountTransactions counts transactions matching the filter, ignoring paging.
	CountTransactions(ctx context.Context, ownerID string, f TransactionFilter) (int, error)

	// ListTransactionsForAccount returns every transaction referencing the
	// account as primary account, transfer source or transfer destination,
	// oldest first.
	ListTransactionsForAccount(ctx context.Context, ownerID, accountID string) ([]*domain.Transaction, error)

	// ListTransferLegs returns the legs sharing a linked transfer id.
	ListTransferLegs(ctx context.Context, ownerID, linkedTransferID string) ([]*domain.Transaction, error)

	// SetCategory assigns categoryID to the given transactions and returns
	// how many were updated.
	SetCategory(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error)
}

// SnapshotStore provides daily balance snapshots.
type SnapshotStore interface {
	// UpsertBalanceSnapshot writes one row per (account, date).
	UpsertBalanceSnapshot(ctx context.Context, s *domain.BalanceSnapshot) error

	// ListBalanceSnapshots returns snapshots on or after since, oldest first.
	ListBalanceSnapshots(ctx context.Context, accountID string, since time.Time) ([]*domain.BalanceSnapshot, error)
}

// PortfolioStore provides portfolio persistence.
type PortfolioStore interface {
	CreatePortfolio(ctx context.Context, p *domain.Portfolio) error
	GetPortfolio(ctx context.Context, ownerID, portfolioID string) (*domain.Portfolio, error)
	ListPortfolios(ctx context.Context, ownerID string) ([]*domain.Portfolio, error)
}

// TradeStore provides buy/sell history persistence.
type TradeStore interface {
	// CreateTrade inserts t and assigns its Seq.
	CreateTrade(ctx context.Context, t *domain.Trade) error

	GetTrade(ctx context.Context, ownerID, tradeID string) (*domain.Trade, error)

	// UpdateTrade replaces a trade, keeping its Seq.
	UpdateTrade(ctx context.Context, t *domain.Trade) error

	DeleteTrade(ctx context.Context, ownerID, tradeID string) error

	// ListTradesForPosition returns trades for the pair ordered by
	// ExecutedAt then Seq.
	ListTradesForPosition(ctx context.Context, portfolioID, instrumentID string) ([]*domain.Trade, error)

	// ListTrades returns a portfolio's trades, newest first.
	ListTrades(ctx context.Context, ownerID, portfolioID string, limit int) ([]*domain.Trade, error)
}

// PositionStore provides the materialized holdings.
type PositionStore interface {
	UpsertPosition(ctx context.Context, p *domain.Position) error
	DeletePosition(ctx context.Context, portfolioID, instrumentID string) error
	GetPosition(ctx context.Context, portfolioID, instrumentID string) (*domain.Position, error)
	ListPositions(ctx context.Context, portfolioID string) ([]*domain.Position, error)
}

// ImportBatchStore provides import batch records.
type ImportBatchStore interface {
	CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error
	UpdateImportBatch(ctx context.Context, ownerID, batchID string, patch domain.BatchPatch) error
	GetImportBatch(ctx context.Context, ownerID, batchID string) (*domain.ImportBatch, error)

	// ListImportBatches returns the owner's batches, newest first.
	ListImportBatches(ctx context.Context, ownerID string, limit int) ([]*domain.ImportBatch, error)
}

// Repository is the full persistence contract.
type Repository interface {
	AccountStore
	TransactionStore
	SnapshotStore
	PortfolioStore
	TradeStore
	PositionStore
	ImportBatchStore

	// RunInTx runs fn against a repository bound to one unit of work.
	// Backends without transactions run fn directly.
	RunInTx(ctx context.Context, fn func(Repository) error) error
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	AccountID     string
	Kind          domain.TransactionKind
	CategoryID    string
	Uncategorized bool
	ImportBatchID string
	// Merchant matches case-insensitively as a substring.
	Merchant string
	// MinAmount and MaxAmount bound the settlement amount, inclusive.
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Matches reports whether tx passes every set criterion. Paging is ignored.
func (f TransactionFilter) Matches(tx *domain.Transaction) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.Uncategorized {
		if tx.CategoryID != nil {
			return false
		}
	} else if f.CategoryID != "" && domain.Deref(tx.CategoryID) != f.CategoryID {
		return false
	}
	if f.ImportBatchID != "" && domain.Deref(tx.ImportBatchID) != f.ImportBatchID {
		return false
	}
	if f.Merchant != "" && !strings.Contains(strings.ToLower(domain.Deref(tx.Merchant)), strings.ToLower(f.Merchant)) {
		return false
	}
	if f.MinAmount != nil && tx.AmountSettlement.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && tx.AmountSettlement.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.From != nil && tx.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.OccurredAt.After(*f.To) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func Page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
