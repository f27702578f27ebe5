package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

const transactionColumns = `
	transaction_id, owner_id, account_id, kind,
	amount, amount_settlement, currency,
	category_id, merchant, description, note,
	occurred_at,
	linked_transfer_id, transfer_to_account_id, transfer_from_account_id,
	external_id, import_batch_id, import_source, fingerprint,
	created_ts, updated_ts`

const transactionValues = `
	@transaction_id, @owner_id, @account_id, @kind,
	@amount, @amount_settlement, @currency,
	@category_id, @merchant, @description, @note,
	@occurred_at,
	@linked_transfer_id, @transfer_to_account_id, @transfer_from_account_id,
	@external_id, @import_batch_id, @import_source, @fingerprint,
	@created_ts, @updated_ts`

// CreateTransaction inserts tx unless the account already holds a row with
// the same fingerprint, in which case it returns domain.ErrDuplicate.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	row := toTransactionRow(tx)
	sql := fmt.Sprintf(`
		MERGE %s T
		USING (
			SELECT @account_id AS account_id,
			       @fingerprint AS fingerprint
		) S
		ON T.account_id = S.account_id
		   AND S.fingerprint IS NOT NULL
		   AND T.fingerprint = S.fingerprint
		WHEN NOT MATCHED THEN
			INSERT (%s)
			VALUES (%s)
	`, s.table(transactionsTable), transactionColumns, transactionValues)

	n, err := s.exec(ctx, "CreateTransaction", sql, row.params())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("CreateTransaction: account %s: %w", tx.AccountID, domain.ErrDuplicate)
	}
	return nil
}

// GetTransaction returns the owner's transaction or domain.ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id AND transaction_id = @transaction_id
		LIMIT 1
	`, transactionColumns, s.table(transactionsTable))

	row, err := readOne[TransactionRow](ctx, s, "GetTransaction", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "transaction_id", Value: id},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.NotFound("transaction", id)
	}
	return row.toDomain(), nil
}

// UpdateTransaction replaces every mutable column of a stored transaction.
func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	row := toTransactionRow(tx)
	sql := fmt.Sprintf(`
		UPDATE %s
		SET account_id = @account_id,
		    kind = @kind,
		    amount = @amount,
		    amount_settlement = @amount_settlement,
		    currency = @currency,
		    category_id = @category_id,
		    merchant = @merchant,
		    description = @description,
		    note = @note,
		    occurred_at = @occurred_at,
		    linked_transfer_id = @linked_transfer_id,
		    transfer_to_account_id = @transfer_to_account_id,
		    transfer_from_account_id = @transfer_from_account_id,
		    external_id = @external_id,
		    import_batch_id = @import_batch_id,
		    import_source = @import_source,
		    fingerprint = @fingerprint,
		    updated_ts = @updated_ts
		WHERE owner_id = @owner_id AND transaction_id = @transaction_id
	`, s.table(transactionsTable))

	n, err := s.exec(ctx, "UpdateTransaction", sql, withoutParam(row.params(), "created_ts"))
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("transaction", tx.ID)
	}
	return nil
}

// withoutParam drops a named parameter the statement does not reference.
func withoutParam(params []bigquery.QueryParameter, name string) []bigquery.QueryParameter {
	out := params[:0:0]
	for _, p := range params {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}

// DeleteTransaction removes a transaction.
func (s *Store) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	sql := fmt.Sprintf(`
		DELETE FROM %s
		WHERE owner_id = @owner_id AND transaction_id = @transaction_id
	`, s.table(transactionsTable))

	n, err := s.exec(ctx, "DeleteTransaction", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "transaction_id", Value: id},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("transaction", id)
	}
	return nil
}

// transactionWhere renders the filter as a WHERE clause with its parameters.
func transactionWhere(ownerID string, f store.TransactionFilter) (string, []bigquery.QueryParameter) {
	clauses := []string{"owner_id = @owner_id"}
	params := []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}}

	add := func(clause, name string, value interface{}) {
		clauses = append(clauses, clause)
		params = append(params, bigquery.QueryParameter{Name: name, Value: value})
	}

	if f.AccountID != "" {
		add("account_id = @account_id", "account_id", f.AccountID)
	}
	if f.Kind != "" {
		add("kind = @kind", "kind", string(f.Kind))
	}
	if f.Uncategorized {
		clauses = append(clauses, "category_id IS NULL")
	} else if f.CategoryID != "" {
		add("category_id = @category_id", "category_id", f.CategoryID)
	}
	if f.ImportBatchID != "" {
		add("import_batch_id = @import_batch_id", "import_batch_id", f.ImportBatchID)
	}
	if f.Merchant != "" {
		add("STRPOS(LOWER(IFNULL(merchant, '')), @merchant) > 0", "merchant", strings.ToLower(f.Merchant))
	}
	if f.MinAmount != nil {
		add("amount_settlement >= @min_amount", "min_amount", ratOf(*f.MinAmount))
	}
	if f.MaxAmount != nil {
		add("amount_settlement <= @max_amount", "max_amount", ratOf(*f.MaxAmount))
	}
	if f.From != nil {
		add("occurred_at >= @from_ts", "from_ts", *f.From)
	}
	if f.To != nil {
		add("occurred_at <= @to_ts", "to_ts", *f.To)
	}
	return strings.Join(clauses, "\n\t\t  AND "), params
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *Store) ListTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) ([]*domain.Transaction, error) {
	where, params := transactionWhere(ownerID, f)
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY occurred_at DESC, created_ts DESC, transaction_id
	`, transactionColumns, s.table(transactionsTable), where)
	if f.Limit > 0 {
		sql += "\t\tLIMIT @limit OFFSET @offset\n"
		params = append(params,
			bigquery.QueryParameter{Name: "limit", Value: f.Limit},
			bigquery.QueryParameter{Name: "offset", Value: f.Offset},
		)
	} else if f.Offset > 0 {
		// BigQuery requires LIMIT before OFFSET.
		sql += "\t\tLIMIT 9223372036854775807 OFFSET @offset\n"
		params = append(params, bigquery.QueryParameter{Name: "offset", Value: f.Offset})
	}

	return s.listTransactions(ctx, "ListTransactions", sql, params)
}

// CountTransactions counts transactions matching the filter, ignoring paging.
func (s *Store) CountTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) (int, error) {
	where, params := transactionWhere(ownerID, f)
	sql := fmt.Sprintf(`
		SELECT COUNT(*) AS n
		FROM %s
		WHERE %s
	`, s.table(transactionsTable), where)

	row, err := readOne[struct {
		N int64 `bigquery:"n"`
	}](ctx, s, "CountTransactions", sql, params)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	return int(row.N), nil
}

// ListTransactionsForAccount returns every transaction referencing the
// account in any role, oldest first.
func (s *Store) ListTransactionsForAccount(ctx context.Context, ownerID, accountID string) ([]*domain.Transaction, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id
		  AND (account_id = @account_id
		    OR transfer_to_account_id = @account_id
		    OR transfer_from_account_id = @account_id)
		ORDER BY occurred_at, transaction_id
	`, transactionColumns, s.table(transactionsTable))

	return s.listTransactions(ctx, "ListTransactionsForAccount", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "account_id", Value: accountID},
	})
}

// ListTransferLegs returns the legs sharing a linked transfer id.
func (s *Store) ListTransferLegs(ctx context.Context, ownerID, linkedTransferID string) ([]*domain.Transaction, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id AND linked_transfer_id = @linked_transfer_id
		ORDER BY transaction_id
	`, transactionColumns, s.table(transactionsTable))

	return s.listTransactions(ctx, "ListTransferLegs", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "linked_transfer_id", Value: linkedTransferID},
	})
}

func (s *Store) listTransactions(ctx context.Context, op, sql string, params []bigquery.QueryParameter) ([]*domain.Transaction, error) {
	rows, err := readRows[TransactionRow](ctx, s, op, sql, params)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// SetCategory assigns categoryID to the owner's transactions among ids.
func (s *Store) SetCategory(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET category_id = @category_id,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE owner_id = @owner_id AND transaction_id IN UNNEST(@ids)
	`, s.table(transactionsTable))

	n, err := s.exec(ctx, "SetCategory", sql, []bigquery.QueryParameter{
		{Name: "category_id", Value: categoryID},
		{Name: "owner_id", Value: ownerID},
		{Name: "ids", Value: ids},
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
