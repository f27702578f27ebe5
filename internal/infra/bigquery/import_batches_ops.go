package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
)

const batchColumns = `
	batch_id, owner_id, account_id, filename, source, status, mapping,
	total_rows, imported_rows, duplicate_rows, error_rows, errors,
	created_ts, completed_ts`

// CreateImportBatch inserts a batch record, normally with status processing.
func (s *Store) CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error {
	row, err := toImportBatchRow(b)
	if err != nil {
		return fmt.Errorf("CreateImportBatch: encoding batch: %w", err)
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (
			@batch_id, @owner_id, @account_id, @filename, @source, @status, @mapping,
			@total_rows, @imported_rows, @duplicate_rows, @error_rows, @errors,
			@created_ts, @completed_ts
		)
	`, s.table(batchesTable), batchColumns)

	_, err = s.exec(ctx, "CreateImportBatch", sql, []bigquery.QueryParameter{
		{Name: "batch_id", Value: row.BatchID},
		{Name: "owner_id", Value: row.OwnerID},
		{Name: "account_id", Value: row.AccountID},
		{Name: "filename", Value: row.Filename},
		{Name: "source", Value: row.Source},
		{Name: "status", Value: row.Status},
		{Name: "mapping", Value: row.Mapping},
		{Name: "total_rows", Value: row.TotalRows},
		{Name: "imported_rows", Value: row.ImportedRows},
		{Name: "duplicate_rows", Value: row.DuplicateRows},
		{Name: "error_rows", Value: row.ErrorRows},
		{Name: "errors", Value: row.Errors},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "completed_ts", Value: row.CompletedTS},
	})
	return err
}

// UpdateImportBatch finalizes a batch with its counters and status.
func (s *Store) UpdateImportBatch(ctx context.Context, ownerID, batchID string, patch domain.BatchPatch) error {
	errs, err := encodeRowErrors(patch.Errors)
	if err != nil {
		return fmt.Errorf("UpdateImportBatch: encoding errors: %w", err)
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    total_rows = @total_rows,
		    imported_rows = @imported_rows,
		    duplicate_rows = @duplicate_rows,
		    error_rows = @error_rows,
		    errors = @errors,
		    completed_ts = @completed_ts
		WHERE owner_id = @owner_id AND batch_id = @batch_id
	`, s.table(batchesTable))

	n, err := s.exec(ctx, "UpdateImportBatch", sql, []bigquery.QueryParameter{
		{Name: "status", Value: string(patch.Status)},
		{Name: "total_rows", Value: patch.TotalRows},
		{Name: "imported_rows", Value: patch.ImportedRows},
		{Name: "duplicate_rows", Value: patch.DuplicateRows},
		{Name: "error_rows", Value: patch.ErrorRows},
		{Name: "errors", Value: errs},
		{Name: "completed_ts", Value: nullTimestamp(patch.CompletedAt)},
		{Name: "owner_id", Value: ownerID},
		{Name: "batch_id", Value: batchID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("import batch", batchID)
	}
	return nil
}

// GetImportBatch returns the owner's batch or domain.ErrNotFound.
func (s *Store) GetImportBatch(ctx context.Context, ownerID, batchID string) (*domain.ImportBatch, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id AND batch_id = @batch_id
		LIMIT 1
	`, batchColumns, s.table(batchesTable))

	row, err := readOne[ImportBatchRow](ctx, s, "GetImportBatch", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "batch_id", Value: batchID},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.NotFound("import batch", batchID)
	}
	b, err := row.toDomain()
	if err != nil {
		return nil, fmt.Errorf("GetImportBatch: decoding batch: %w", err)
	}
	return b, nil
}

// ListImportBatches returns the owner's batches, newest first.
func (s *Store) ListImportBatches(ctx context.Context, ownerID string, limit int) ([]*domain.ImportBatch, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id
		ORDER BY created_ts DESC
	`, batchColumns, s.table(batchesTable))
	params := []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}}
	if limit > 0 {
		sql += "\t\tLIMIT @limit\n"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	rows, err := readRows[ImportBatchRow](ctx, s, "ListImportBatches", sql, params)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ImportBatch, 0, len(rows))
	for _, r := range rows {
		b, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListImportBatches: decoding batch %s: %w", r.BatchID, err)
		}
		out = append(out, b)
	}
	return out, nil
}
