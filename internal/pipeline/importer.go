// Package pipeline imports bank statements into an account: it detects the
// file layout, previews new versus duplicate rows and executes the import
// as a tracked batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/clock"
	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/fingerprint"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/statement"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
)

const (
	maxSampleRows      = 5
	maxPreviewSamples  = 10
	defaultHistorySize = 20

	// DefaultFilename and DefaultSource label batches whose caller gave none.
	DefaultFilename = "import.csv"
	DefaultSource   = "csv"
)

// Importer runs statement imports against a repository.
type Importer struct {
	repo       store.Repository
	converter  currency.Converter
	clock      clock.Clock
	settlement string
	newID      func() string
}

// NewImporter creates an importer converting into the EUR settlement currency.
func NewImporter(repo store.Repository, converter currency.Converter, clk clock.Clock) *Importer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Importer{
		repo:       repo,
		converter:  converter,
		clock:      clk,
		settlement: currency.Settlement,
		newID:      uuid.NewString,
	}
}

// DetectResult is the outcome of DetectColumns.
type DetectResult struct {
	Columns          []string                  `json:"columns"`
	SampleRows       [][]string                `json:"sampleRows"`
	SuggestedMapping *statement.PartialMapping `json:"suggestedMapping"`
}

// DetectColumns reads the header and up to five sample rows and suggests
// a mapping, or nil when no date column is recognized.
func DetectColumns(content string) (*DetectResult, error) {
	lines := statement.Lines(content)
	if len(lines) < 2 {
		return nil, domain.ErrInvalidFile
	}

	delimiter := statement.DetectDelimiter(lines[0])
	columns := statement.SplitLine(lines[0], delimiter)

	end := 1 + maxSampleRows
	if end > len(lines) {
		end = len(lines)
	}
	samples := make([][]string, 0, end-1)
	for _, l := range lines[1:end] {
		samples = append(samples, statement.SplitLine(l, delimiter))
	}

	suggested := statement.DetectMapping(columns, samples)
	if suggested != nil {
		suggested.Delimiter = delimiter
	}
	return &DetectResult{Columns: columns, SampleRows: samples, SuggestedMapping: suggested}, nil
}

// PreviewResult summarizes what an import would do.
type PreviewResult struct {
	TotalRows          int                           `json:"totalRows"`
	ValidRows          int                           `json:"validRows"`
	DuplicateRows      int                           `json:"duplicateRows"`
	ErrorRows          int                           `json:"errorRows"`
	SampleTransactions []statement.ParsedTransaction `json:"sampleTransactions"`
	Errors             []domain.RowError             `json:"errors"`

	accepted []statement.ParsedTransaction
}

// PreviewImport parses content and classifies each row as new or duplicate
// without writing anything.
func (im *Importer) PreviewImport(ctx context.Context, ownerID, accountID, content string, m statement.ImportMapping) (*PreviewResult, error) {
	if _, err := im.repo.GetAccount(ctx, ownerID, accountID); err != nil {
		return nil, fmt.Errorf("PreviewImport: %w", err)
	}
	res, err := im.preview(ctx, ownerID, accountID, content, m)
	if err != nil {
		return nil, fmt.Errorf("PreviewImport: %w", err)
	}
	return res, nil
}

func (im *Importer) preview(ctx context.Context, ownerID, accountID, content string, m statement.ImportMapping) (*PreviewResult, error) {
	parsed, err := statement.Parse(content, m)
	if err != nil {
		return nil, err
	}

	existing, err := im.repo.ListTransactionsForAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing account transactions: %w", err)
	}
	seen := make(map[string]struct{}, len(existing)+len(parsed.Rows))
	for _, tx := range existing {
		if tx.AccountID != accountID {
			continue
		}
		seen[fingerprint.Compute(tx.OccurredAt, tx.Amount, domain.Deref(tx.Description))] = struct{}{}
	}

	res := &PreviewResult{
		TotalRows: len(parsed.Rows),
		ErrorRows: len(parsed.Warnings),
		Errors:    parsed.Warnings,
	}
	if res.Errors == nil {
		res.Errors = []domain.RowError{}
	}
	for _, row := range parsed.Rows {
		fp := fingerprint.Compute(row.OccurredAt, row.Amount, row.Description)
		if _, dup := seen[fp]; dup {
			res.DuplicateRows++
			continue
		}
		seen[fp] = struct{}{}
		res.accepted = append(res.accepted, row)
	}
	res.ValidRows = len(res.accepted)

	n := len(res.accepted)
	if n > maxPreviewSamples {
		n = maxPreviewSamples
	}
	res.SampleTransactions = append([]statement.ParsedTransaction{}, res.accepted[:n]...)
	return res, nil
}

// ExecuteResult is returned by a successful import.
type ExecuteResult struct {
	BatchID    string `json:"batchId"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
}

// ImportRequest carries one import execution.
type ImportRequest struct {
	OwnerID   string
	AccountID string
	Content   string
	Mapping   statement.ImportMapping
	Filename  string
	Source    string
}

// ExecuteImport imports content into the account under a new batch.
// It does not touch the account balance.
func (im *Importer) ExecuteImport(ctx context.Context, ownerID, accountID, content string, m statement.ImportMapping) (*ExecuteResult, error) {
	return im.Execute(ctx, ImportRequest{OwnerID: ownerID, AccountID: accountID, Content: content, Mapping: m})
}

// Execute runs the import pipeline. Any failure after the batch record
// exists marks the batch failed and is returned as *domain.BatchFailure.
func (im *Importer) Execute(ctx context.Context, req ImportRequest) (*ExecuteResult, error) {
	if req.Filename == "" {
		req.Filename = DefaultFilename
	}
	if req.Source == "" {
		req.Source = DefaultSource
	}
	state := &PipelineState{
		OwnerID:   req.OwnerID,
		AccountID: req.AccountID,
		Filename:  req.Filename,
		Source:    req.Source,
		Content:   req.Content,
		Mapping:   req.Mapping,
	}
	ctx = logger.With(ctx, "owner_id", req.OwnerID, "account_id", req.AccountID)
	log := logger.FromContext(ctx)

	if err := newImportPipeline(im).Execute(ctx, state); err != nil {
		if state.Batch == nil {
			return nil, fmt.Errorf("ExecuteImport: %w", err)
		}
		im.markBatchFailed(ctx, state, err)
		return nil, &domain.BatchFailure{BatchID: state.Batch.ID, Err: err}
	}

	log.Info().
		Str("batch_id", state.Batch.ID).
		Int("imported", state.Imported).
		Int("duplicates", state.Batch.DuplicateRows).
		Int("errors", state.Batch.ErrorRows).
		Msg("Statement import completed")

	return &ExecuteResult{
		BatchID:    state.Batch.ID,
		Imported:   state.Imported,
		Duplicates: state.Batch.DuplicateRows,
		Errors:     state.Batch.ErrorRows,
	}, nil
}

// markBatchFailed records the failure on the batch. It is best effort:
// a failure to update is logged, the original error is what the caller sees.
func (im *Importer) markBatchFailed(ctx context.Context, state *PipelineState, cause error) {
	log := logger.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	msg := cause.Error()
	const maxLen = 2000
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}

	completed := im.clock.Now()
	patch := domain.BatchPatch{
		Status:        domain.BatchFailed,
		ImportedRows:  im.storedRows(ctx, state),
		DuplicateRows: state.Duplicates,
		CompletedAt:   &completed,
	}
	if p := state.Preview; p != nil {
		patch.TotalRows = p.TotalRows
		patch.DuplicateRows += p.DuplicateRows
		patch.ErrorRows = p.ErrorRows
		patch.Errors = append(patch.Errors, p.Errors...)
	}
	patch.Errors = append(patch.Errors, domain.RowError{Message: msg})

	if err := im.repo.UpdateImportBatch(ctx, state.OwnerID, state.Batch.ID, patch); err != nil {
		log.Error().Err(err).Str("batch_id", state.Batch.ID).Msg("Failed to mark import batch as failed")
		return
	}
	log.Warn().Err(cause).Str("batch_id", state.Batch.ID).Msg("Statement import failed")
}

// storedRows counts the rows persisted under the batch. Stores without
// transactions keep the rows written before a failure, stores with them
// keep none, so the count comes from the store rather than the step.
func (im *Importer) storedRows(ctx context.Context, state *PipelineState) int {
	n, err := im.repo.CountTransactions(ctx, state.OwnerID, store.TransactionFilter{ImportBatchID: state.Batch.ID})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("batch_id", state.Batch.ID).Msg("Failed to count imported rows")
		return state.Imported
	}
	return n
}

// ImportHistory returns the owner's most recent batches.
func (im *Importer) ImportHistory(ctx context.Context, ownerID string, limit int) ([]*domain.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	batches, err := im.repo.ListImportBatches(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ImportHistory: %w", err)
	}
	return batches, nil
}

// GetBatch returns one batch.
func (im *Importer) GetBatch(ctx context.Context, ownerID, batchID string) (*domain.ImportBatch, error) {
	b, err := im.repo.GetImportBatch(ctx, ownerID, batchID)
	if err != nil {
		return nil, fmt.Errorf("GetBatch: %w", err)
	}
	return b, nil
}

// IsBatchFailure reports whether err came from a batch marked failed.
func IsBatchFailure(err error) (*domain.BatchFailure, bool) {
	var bf *domain.BatchFailure
	if errors.As(err, &bf) {
		return bf, true
	}
	return nil, false
}

