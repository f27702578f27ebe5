// Package ledger keeps account balances consistent with their transaction
// history.
//
// An account's CurrentBalance is always InitialBalance plus the signed
// effect of every transaction referencing it, in the settlement currency.
// Creates apply an incremental delta; every edit or delete falls back to a
// full replay of the affected accounts.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/clock"
	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/locker"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the sign of an incremental balance change.
type Direction string

const (
	DirectionIncome      Direction = "income"
	DirectionExpense     Direction = "expense"
	DirectionTransferIn  Direction = "transfer_in"
	DirectionTransferOut Direction = "transfer_out"
)

func (d Direction) apply(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	switch d {
	case DirectionIncome, DirectionTransferIn:
		return balance.Add(amount), nil
	case DirectionExpense, DirectionTransferOut:
		return balance.Sub(amount), nil
	}
	return balance, domain.Invalid("unknown balance direction %q", d)
}

// Ledger is the account ledger service.
type Ledger struct {
	repo       store.Repository
	converter  currency.Converter
	clock      clock.Clock
	locks      *locker.Keyed
	settlement string
	newID      func() string
}

// New creates a ledger. A nil clock means the system clock.
func New(repo store.Repository, converter currency.Converter, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	return &Ledger{
		repo:       repo,
		converter:  converter,
		clock:      clk,
		locks:      locker.New(),
		settlement: currency.Settlement,
		newID:      uuid.NewString,
	}
}

// Settlement is the currency account balances are held in.
func (l *Ledger) Settlement() string { return l.settlement }

func accountKey(id string) string { return "account:" + id }

// Replay folds txs over the account's initial balance. Income adds and
// expense subtracts. A transfer adds when the account is its destination
// and subtracts when it is its source, once per transfer even when both
// legs reference the account.
func Replay(account *domain.Account, txs []*domain.Transaction) decimal.Decimal {
	balance := account.InitialBalance
	applied := make(map[string]struct{})

	for _, tx := range txs {
		switch tx.Kind {
		case domain.KindIncome:
			if tx.AccountID == account.ID {
				balance = balance.Add(tx.AmountSettlement)
			}
		case domain.KindExpense:
			if tx.AccountID == account.ID {
				balance = balance.Sub(tx.AmountSettlement)
			}
		case domain.KindTransfer:
			key := tx.TransferKey()
			if _, done := applied[key]; done {
				continue
			}
			applied[key] = struct{}{}
			if tx.TransferDestination() == account.ID {
				balance = balance.Add(tx.AmountSettlement)
			}
			if tx.TransferSource() == account.ID {
				balance = balance.Sub(tx.AmountSettlement)
			}
		}
	}
	return balance
}

// RecalculateBalance replays the account's full history and stores the
// result as its current balance.
func (l *Ledger) RecalculateBalance(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	unlock := l.locks.Lock(accountKey(accountID))
	defer unlock()
	return l.recalculate(ctx, ownerID, accountID)
}

func (l *Ledger) recalculate(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	account, err := l.repo.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("RecalculateBalance: %w", err)
	}
	txs, err := l.repo.ListTransactionsForAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("RecalculateBalance: listing transactions: %w", err)
	}

	balance := Replay(account, txs)
	if err := l.repo.UpdateAccountBalance(ctx, ownerID, accountID, balance); err != nil {
		return nil, fmt.Errorf("RecalculateBalance: updating balance: %w", err)
	}

	log := logger.FromContext(ctx)
	if !balance.Equal(account.CurrentBalance) {
		log.Debug().
			Str("account_id", accountID).
			Str("cached", account.CurrentBalance.String()).
			Str("replayed", balance.String()).
			Msg("Balance corrected by replay")
	}
	account.CurrentBalance = balance
	return account, nil
}

// recalculateAll replays each account once, in the given order, and stops
// at the first failure.
func (l *Ledger) recalculateAll(ctx context.Context, ownerID string, accountIDs []string) error {
	seen := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := l.RecalculateBalance(ctx, ownerID, id); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBalanceDelta adjusts the cached balance without a replay. It is only
// used on the create paths.
func (l *Ledger) ApplyBalanceDelta(ctx context.Context, ownerID, accountID string, amount decimal.Decimal, dir Direction) (*domain.Account, error) {
	unlock := l.locks.Lock(accountKey(accountID))
	defer unlock()

	account, err := l.repo.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("ApplyBalanceDelta: %w", err)
	}
	balance, err := dir.apply(account.CurrentBalance, amount)
	if err != nil {
		return nil, fmt.Errorf("ApplyBalanceDelta: %w", err)
	}
	if err := l.repo.UpdateAccountBalance(ctx, ownerID, accountID, balance); err != nil {
		return nil, fmt.Errorf("ApplyBalanceDelta: updating balance: %w", err)
	}
	account.CurrentBalance = balance
	return account, nil
}

// startOfDay is midnight of t's calendar day in t's location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CreateDailySnapshot stores today's balance for the account, replacing an
// earlier snapshot of the same day.
func (l *Ledger) CreateDailySnapshot(ctx context.Context, ownerID, accountID string) (*domain.BalanceSnapshot, error) {
	account, err := l.repo.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("CreateDailySnapshot: %w", err)
	}
	snap := &domain.BalanceSnapshot{
		AccountID: accountID,
		Date:      startOfDay(l.clock.Now()),
		Balance:   account.CurrentBalance,
	}
	if err := l.repo.UpsertBalanceSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("CreateDailySnapshot: %w", err)
	}
	return snap, nil
}

// SnapshotAll snapshots every active account of the owner.
func (l *Ledger) SnapshotAll(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	accounts, err := l.repo.ListAccounts(ctx, ownerID, false)
	if err != nil {
		return nil, fmt.Errorf("SnapshotAll: %w", err)
	}
	out := make([]*domain.BalanceSnapshot, 0, len(accounts))
	for _, a := range accounts {
		snap, err := l.CreateDailySnapshot(ctx, ownerID, a.ID)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// BalanceHistory returns the account's snapshots of the last days days.
func (l *Ledger) BalanceHistory(ctx context.Context, ownerID, accountID string, days int) ([]*domain.BalanceSnapshot, error) {
	if _, err := l.repo.GetAccount(ctx, ownerID, accountID); err != nil {
		return nil, fmt.Errorf("BalanceHistory: %w", err)
	}
	if days <= 0 {
		days = 30
	}
	since := startOfDay(l.clock.Now()).AddDate(0, 0, -days)
	snaps, err := l.repo.ListBalanceSnapshots(ctx, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("BalanceHistory: %w", err)
	}
	return snaps, nil
}

// TotalBalance is the sum of the owner's active balances in one currency.
type TotalBalance struct {
	Total         decimal.Decimal `json:"totalBalance"`
	Currency      string          `json:"currency"`
	AccountsCount int             `json:"accountsCount"`
}

// TotalBalance converts every active account's balance into ccy and sums it.
func (l *Ledger) TotalBalance(ctx context.Context, ownerID, ccy string) (*TotalBalance, error) {
	ccy, err := currency.Normalize(ccy)
	if err != nil {
		return nil, fmt.Errorf("TotalBalance: %w", err)
	}
	accounts, err := l.repo.ListAccounts(ctx, ownerID, false)
	if err != nil {
		return nil, fmt.Errorf("TotalBalance: %w", err)
	}

	total := decimal.Zero
	for _, a := range accounts {
		v, err := l.converter.Convert(ctx, a.CurrentBalance, l.settlement, ccy)
		if err != nil {
			return nil, fmt.Errorf("TotalBalance: account %s: %w", a.ID, err)
		}
		total = total.Add(v)
	}
	return &TotalBalance{Total: total.Round(2), Currency: ccy, AccountsCount: len(accounts)}, nil
}
