// Package bigquery is the BigQuery-backed store.Repository.
//
// BigQuery has no unique constraints, so imported rows are written with a
// MERGE that only inserts when no row of the same account already carries
// the fingerprint. A MERGE that affects zero rows is
// reported as domain.ErrDuplicate.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/store"
	"google.golang.org/api/iterator"
)

const (
	accountsTable     = "accounts"
	transactionsTable = "transactions"
	snapshotsTable    = "balance_snapshots"
	portfoliosTable   = "portfolios"
	tradesTable       = "trades"
	positionsTable    = "positions"
	batchesTable      = "import_batches"
)

// Store implements store.Repository on a shared BigQuery client.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

var _ store.Repository = (*Store)(nil)

// New creates a Store with its own BigQuery client.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient wraps an existing client. The caller keeps ownership only
// if it does not call Close.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// RunInTx runs fn directly. BigQuery DML is not grouped across calls.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Repository) error) error {
	return fn(s)
}

// table returns the fully qualified, backquoted table name.
func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// exec runs a DML statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}
	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return 0
	}
	return qs.NumDMLAffectedRows
}

// readRows runs a SELECT and decodes every row into T.
func readRows[T any](ctx context.Context, s *Store, op, sql string, params []bigquery.QueryParameter) ([]*T, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: reading query: %w", op, err)
	}

	var rows []*T
	for {
		var row T
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iterating: %w", op, err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

// readOne returns the first row or nil when the query is empty.
func readOne[T any](ctx context.Context, s *Store, op, sql string, params []bigquery.QueryParameter) (*T, error) {
	rows, err := readRows[T](ctx, s, op, sql, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
