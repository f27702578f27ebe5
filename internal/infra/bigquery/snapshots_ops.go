package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
)

// UpsertBalanceSnapshot writes one row per (account, snapshot_date).
func (s *Store) UpsertBalanceSnapshot(ctx context.Context, snap *domain.BalanceSnapshot) error {
	row := toSnapshotRow(snap)
	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @account_id AS account_id, @snapshot_date AS snapshot_date) S
		ON T.account_id = S.account_id AND T.snapshot_date = S.snapshot_date
		WHEN MATCHED THEN
			UPDATE SET balance = @balance, snapshot_ts = @snapshot_ts
		WHEN NOT MATCHED THEN
			INSERT (account_id, snapshot_date, snapshot_ts, balance)
			VALUES (@account_id, @snapshot_date, @snapshot_ts, @balance)
	`, s.table(snapshotsTable))

	_, err := s.exec(ctx, "UpsertBalanceSnapshot", sql, []bigquery.QueryParameter{
		{Name: "account_id", Value: row.AccountID},
		{Name: "snapshot_date", Value: row.SnapshotDate},
		{Name: "snapshot_ts", Value: row.SnapshotTS},
		{Name: "balance", Value: row.Balance},
	})
	return err
}

// ListBalanceSnapshots returns snapshots taken on or after since, oldest first.
func (s *Store) ListBalanceSnapshots(ctx context.Context, accountID string, since time.Time) ([]*domain.BalanceSnapshot, error) {
	sql := fmt.Sprintf(`
		SELECT account_id, snapshot_date, snapshot_ts, balance
		FROM %s
		WHERE account_id = @account_id AND snapshot_ts >= @since
		ORDER BY snapshot_date
	`, s.table(snapshotsTable))

	rows, err := readRows[SnapshotRow](ctx, s, "ListBalanceSnapshots", sql, []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "since", Value: since},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.BalanceSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
