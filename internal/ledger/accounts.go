package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountInput describes a new account.
type AccountInput struct {
	Name           string             `json:"name"`
	Kind           domain.AccountKind `json:"type"`
	Currency       string             `json:"currency"`
	InitialBalance decimal.Decimal    `json:"initialBalance"`
}

// CreateAccount opens an account whose current balance starts at its
// initial balance.
func (l *Ledger) CreateAccount(ctx context.Context, ownerID string, in AccountInput) (*domain.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("CreateAccount: %w", domain.Invalid("name is required"))
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.AccountChecking
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("CreateAccount: %w", domain.Invalid("unknown account type %q", kind))
	}
	ccy, err := currency.Normalize(in.Currency)
	if err != nil {
		return nil, fmt.Errorf("CreateAccount: %w", err)
	}

	now := l.clock.Now()
	a := &domain.Account{
		ID:             l.newID(),
		OwnerID:        ownerID,
		Name:           name,
		Kind:           kind,
		Currency:       ccy,
		InitialBalance: in.InitialBalance,
		CurrentBalance: in.InitialBalance,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.repo.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("CreateAccount: %w", err)
	}
	return a, nil
}

// GetAccount returns one of the owner's accounts.
func (l *Ledger) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	a, err := l.repo.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, nil
}

// ListAccounts returns the owner's accounts, newest first.
func (l *Ledger) ListAccounts(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.Account, error) {
	accounts, err := l.repo.ListAccounts(ctx, ownerID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return accounts, nil
}

// AccountPatch is a partial account update. Balances are not patchable.
type AccountPatch struct {
	Name     *string             `json:"name"`
	Kind     *domain.AccountKind `json:"type"`
	Currency *string             `json:"currency"`
	IsActive *bool               `json:"isActive"`
}

// UpdateAccount changes descriptive fields of an account.
func (l *Ledger) UpdateAccount(ctx context.Context, ownerID, accountID string, p AccountPatch) (*domain.Account, error) {
	a, err := l.repo.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("UpdateAccount: %w", err)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("UpdateAccount: %w", domain.Invalid("name is required"))
		}
		a.Name = name
	}
	if p.Kind != nil {
		if !p.Kind.Valid() {
			return nil, fmt.Errorf("UpdateAccount: %w", domain.Invalid("unknown account type %q", *p.Kind))
		}
		a.Kind = *p.Kind
	}
	if p.Currency != nil {
		ccy, err := currency.Normalize(*p.Currency)
		if err != nil {
			return nil, fmt.Errorf("UpdateAccount: %w", err)
		}
		a.Currency = ccy
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	a.UpdatedAt = l.clock.Now()
	if err := l.repo.UpdateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("UpdateAccount: %w", err)
	}
	return a, nil
}

// DeactivateAccount soft-deletes an account. Its history is kept.
func (l *Ledger) DeactivateAccount(ctx context.Context, ownerID, accountID string) error {
	inactive := false
	if _, err := l.UpdateAccount(ctx, ownerID, accountID, AccountPatch{IsActive: &inactive}); err != nil {
		return fmt.Errorf("DeactivateAccount: %w", err)
	}
	return nil
}
