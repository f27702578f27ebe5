package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const accountColumns = `
	account_id, owner_id, name, kind, currency,
	initial_balance, current_balance, is_active,
	created_ts, updated_ts`

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	row := toAccountRow(a)
	sql := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (
			@account_id, @owner_id, @name, @kind, @currency,
			@initial_balance, @current_balance, @is_active,
			@created_ts, @updated_ts
		)
	`, s.table(accountsTable), accountColumns)

	_, err := s.exec(ctx, "CreateAccount", sql, []bigquery.QueryParameter{
		{Name: "account_id", Value: row.AccountID},
		{Name: "owner_id", Value: row.OwnerID},
		{Name: "name", Value: row.Name},
		{Name: "kind", Value: row.Kind},
		{Name: "currency", Value: row.Currency},
		{Name: "initial_balance", Value: row.InitialBalance},
		{Name: "current_balance", Value: row.CurrentBalance},
		{Name: "is_active", Value: row.IsActive},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	})
	return err
}

// GetAccount returns the owner's account or domain.ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id AND account_id = @account_id
		LIMIT 1
	`, accountColumns, s.table(accountsTable))

	row, err := readOne[AccountRow](ctx, s, "GetAccount", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "account_id", Value: accountID},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.NotFound("account", accountID)
	}
	return row.toDomain(), nil
}

// ListAccounts returns the owner's accounts, newest first.
func (s *Store) ListAccounts(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.Account, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id
		  AND (@include_inactive OR is_active)
		ORDER BY created_ts DESC, account_id
	`, accountColumns, s.table(accountsTable))

	rows, err := readRows[AccountRow](ctx, s, "ListAccounts", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "include_inactive", Value: includeInactive},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpdateAccount writes descriptive fields and the active flag. The balance
// column is left alone.
func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET name = @name,
		    kind = @kind,
		    currency = @currency,
		    is_active = @is_active,
		    updated_ts = @updated_ts
		WHERE owner_id = @owner_id AND account_id = @account_id
	`, s.table(accountsTable))

	n, err := s.exec(ctx, "UpdateAccount", sql, []bigquery.QueryParameter{
		{Name: "name", Value: a.Name},
		{Name: "kind", Value: string(a.Kind)},
		{Name: "currency", Value: a.Currency},
		{Name: "is_active", Value: a.IsActive},
		{Name: "updated_ts", Value: a.UpdatedAt},
		{Name: "owner_id", Value: a.OwnerID},
		{Name: "account_id", Value: a.ID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("account", a.ID)
	}
	return nil
}

// UpdateAccountBalance overwrites the materialized balance.
func (s *Store) UpdateAccountBalance(ctx context.Context, ownerID, accountID string, balance decimal.Decimal) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET current_balance = @balance,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE owner_id = @owner_id AND account_id = @account_id
	`, s.table(accountsTable))

	n, err := s.exec(ctx, "UpdateAccountBalance", sql, []bigquery.QueryParameter{
		{Name: "balance", Value: ratOf(balance)},
		{Name: "owner_id", Value: ownerID},
		{Name: "account_id", Value: accountID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("account", accountID)
	}
	return nil
}
