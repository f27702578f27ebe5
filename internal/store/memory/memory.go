// Package memory is an in-process Repository used by tests and the memory
// storage backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// Store keeps every entity in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	snapshots    map[string]domain.BalanceSnapshot
	portfolios   map[string]domain.Portfolio
	trades       map[string]domain.Trade
	positions    map[string]domain.Position
	batches      map[string]domain.ImportBatch

	// uniq maps "account|kind|value" to the owning transaction id.
	uniq    map[string]string
	nextSeq int64
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		snapshots:    make(map[string]domain.BalanceSnapshot),
		portfolios:   make(map[string]domain.Portfolio),
		trades:       make(map[string]domain.Trade),
		positions:    make(map[string]domain.Position),
		batches:      make(map[string]domain.ImportBatch),
		uniq:         make(map[string]string),
	}
}

// RunInTx runs fn against the store itself.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Repository) error) error {
	return fn(s)
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("CreateAccount: account %s: %w", a.ID, domain.ErrDuplicate)
	}
	s.accounts[a.ID] = *a
	return nil
}

func (s *Store) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok || a.OwnerID != ownerID {
		return nil, domain.NotFound("account", accountID)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Account
	for _, a := range s.accounts {
		if a.OwnerID != ownerID || (!includeInactive && !a.IsActive) {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok || cur.OwnerID != a.OwnerID {
		return domain.NotFound("account", a.ID)
	}
	cur.Name = a.Name
	cur.Kind = a.Kind
	cur.Currency = a.Currency
	cur.IsActive = a.IsActive
	cur.UpdatedAt = a.UpdatedAt
	s.accounts[a.ID] = cur
	return nil
}

func (s *Store) UpdateAccountBalance(ctx context.Context, ownerID, accountID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[accountID]
	if !ok || cur.OwnerID != ownerID {
		return domain.NotFound("account", accountID)
	}
	cur.CurrentBalance = balance
	cur.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = cur
	return nil
}

// Transactions

// uniqKeys returns the keys a transaction reserves. External ids encode the
// row position in a statement, so only the fingerprint identifies a row.
func uniqKeys(tx *domain.Transaction) []string {
	var keys []string
	if tx.Fingerprint != "" {
		keys = append(keys, tx.AccountID+"|fp|"+tx.Fingerprint)
	}
	return keys
}

func (s *Store) claim(tx *domain.Transaction) error {
	keys := uniqKeys(tx)
	for _, k := range keys {
		if owner, ok := s.uniq[k]; ok && owner != tx.ID {
			return fmt.Errorf("transaction %s collides with %s: %w", tx.ID, owner, domain.ErrDuplicate)
		}
	}
	for _, k := range keys {
		s.uniq[k] = tx.ID
	}
	return nil
}

func (s *Store) release(tx *domain.Transaction) {
	for _, k := range uniqKeys(tx) {
		if s.uniq[k] == tx.ID {
			delete(s.uniq, k)
		}
	}
}

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return fmt.Errorf("CreateTransaction: transaction %s: %w", tx.ID, domain.ErrDuplicate)
	}
	if err := s.claim(tx); err != nil {
		return fmt.Errorf("CreateTransaction: %w", err)
	}
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok || tx.OwnerID != ownerID {
		return nil, domain.NotFound("transaction", id)
	}
	return &tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[tx.ID]
	if !ok || cur.OwnerID != tx.OwnerID {
		return domain.NotFound("transaction", tx.ID)
	}
	s.release(&cur)
	if err := s.claim(tx); err != nil {
		_ = s.claim(&cur)
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[id]
	if !ok || cur.OwnerID != ownerID {
		return domain.NotFound("transaction", id)
	}
	s.release(&cur)
	delete(s.transactions, id)
	return nil
}

func (s *Store) filtered(ownerID string, f store.TransactionFilter) []*domain.Transaction {
	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID != ownerID || !f.Matches(&tx) {
			continue
		}
		tx := tx
		out = append(out, &tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Page(s.filtered(ownerID, f), f.Offset, f.Limit), nil
}

func (s *Store) CountTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filtered(ownerID, f)), nil
}

func (s *Store) ListTransactionsForAccount(ctx context.Context, ownerID, accountID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID != ownerID || !tx.References(accountID) {
			continue
		}
		tx := tx
		out = append(out, &tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (s *Store) ListTransferLegs(ctx context.Context, ownerID, linkedTransferID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID == ownerID && domain.Deref(tx.LinkedTransferID) == linkedTransferID {
			tx := tx
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetCategory(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		tx, ok := s.transactions[id]
		if !ok || tx.OwnerID != ownerID {
			continue
		}
		tx.CategoryID = domain.StringPtr(categoryID)
		s.transactions[id] = tx
		n++
	}
	return n, nil
}

// Snapshots

func snapshotKey(accountID string, date time.Time) string {
	return accountID + "|" + date.Format("2006-01-02")
}

func (s *Store) UpsertBalanceSnapshot(ctx context.Context, snap *domain.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshotKey(snap.AccountID, snap.Date)] = *snap
	return nil
}

func (s *Store) ListBalanceSnapshots(ctx context.Context, accountID string, since time.Time) ([]*domain.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if snap.AccountID != accountID || snap.Date.Before(since) {
			continue
		}
		snap := snap
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Portfolios

func (s *Store) CreatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.portfolios[p.ID]; ok {
		return fmt.Errorf("CreatePortfolio: portfolio %s: %w", p.ID, domain.ErrDuplicate)
	}
	s.portfolios[p.ID] = *p
	return nil
}

func (s *Store) GetPortfolio(ctx context.Context, ownerID, portfolioID string) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[portfolioID]
	if !ok || p.OwnerID != ownerID {
		return nil, domain.NotFound("portfolio", portfolioID)
	}
	return &p, nil
}

func (s *Store) ListPortfolios(ctx context.Context, ownerID string) ([]*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Portfolio
	for _, p := range s.portfolios {
		if p.OwnerID == ownerID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Trades

func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; ok {
		return fmt.Errorf("CreateTrade: trade %s: %w", t.ID, domain.ErrDuplicate)
	}
	s.nextSeq++
	t.Seq = s.nextSeq
	s.trades[t.ID] = *t
	return nil
}

func (s *Store) GetTrade(ctx context.Context, ownerID, tradeID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[tradeID]
	if !ok || t.OwnerID != ownerID {
		return nil, domain.NotFound("trade", tradeID)
	}
	return &t, nil
}

func (s *Store) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trades[t.ID]
	if !ok || cur.OwnerID != t.OwnerID {
		return domain.NotFound("trade", t.ID)
	}
	t.Seq = cur.Seq
	s.trades[t.ID] = *t
	return nil
}

func (s *Store) DeleteTrade(ctx context.Context, ownerID, tradeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trades[tradeID]
	if !ok || cur.OwnerID != ownerID {
		return domain.NotFound("trade", tradeID)
	}
	delete(s.trades, tradeID)
	return nil
}

func (s *Store) ListTradesForPosition(ctx context.Context, portfolioID, instrumentID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.PortfolioID == portfolioID && t.InstrumentID == instrumentID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out, nil
}

func (s *Store) ListTrades(ctx context.Context, ownerID, portfolioID string, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.OwnerID == ownerID && t.PortfolioID == portfolioID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return store.Page(out, 0, limit), nil
}

// Positions

func positionKey(portfolioID, instrumentID string) string {
	return portfolioID + "|" + instrumentID
}

func (s *Store) UpsertPosition(ctx context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey(p.PortfolioID, p.InstrumentID)] = *p
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, portfolioID, instrumentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, positionKey(portfolioID, instrumentID))
	return nil
}

func (s *Store) GetPosition(ctx context.Context, portfolioID, instrumentID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey(portfolioID, instrumentID)]
	if !ok {
		return nil, domain.NotFound("position", positionKey(portfolioID, instrumentID))
	}
	return &p, nil
}

func (s *Store) ListPositions(ctx context.Context, portfolioID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.PortfolioID == portfolioID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

// Import batches

func cloneBatch(b domain.ImportBatch) *domain.ImportBatch {
	if b.Errors != nil {
		b.Errors = append([]domain.RowError(nil), b.Errors...)
	}
	return &b
}

func (s *Store) CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("CreateImportBatch: batch %s: %w", b.ID, domain.ErrDuplicate)
	}
	s.batches[b.ID] = *cloneBatch(*b)
	return nil
}

func (s *Store) UpdateImportBatch(ctx context.Context, ownerID, batchID string, patch domain.BatchPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.OwnerID != ownerID {
		return domain.NotFound("import batch", batchID)
	}
	patch.Apply(&b)
	s.batches[batchID] = *cloneBatch(b)
	return nil
}

func (s *Store) GetImportBatch(ctx context.Context, ownerID, batchID string) (*domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok || b.OwnerID != ownerID {
		return nil, domain.NotFound("import batch", batchID)
	}
	return cloneBatch(b), nil
}

func (s *Store) ListImportBatches(ctx context.Context, ownerID string, limit int) ([]*domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ImportBatch
	for _, b := range s.batches {
		if b.OwnerID == ownerID {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return store.Page(out, 0, limit), nil
}
