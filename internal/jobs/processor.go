package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/statement"
)

// StatementImporter runs a remote statement import end to end.
type StatementImporter interface {
	ImportFromGCS(ctx context.Context, ownerID, accountID, gcsURI string, mapping *statement.ImportMapping) (*pipeline.ImportResult, error)
}

// BalanceKeeper is the part of the ledger background jobs drive.
type BalanceKeeper interface {
	RecalculateBalance(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
	SnapshotAll(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error)
}

// Processor dispatches jobs to the import service and the ledger.
type Processor struct {
	imports StatementImporter
	ledger  BalanceKeeper
}

// NewProcessor creates a Processor. imports may be nil when no statement
// storage is configured; import jobs then fail without retry.
func NewProcessor(imports StatementImporter, ledger BalanceKeeper) *Processor {
	return &Processor{imports: imports, ledger: ledger}
}

// Handle is a JobHandler.
func (p *Processor) Handle(ctx context.Context, job *Job) error {
	ctx = logger.With(ctx, "job_id", job.JobID, "job_type", string(job.Type), "owner_id", job.OwnerID)
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("Handle: %w", err)
	}

	switch job.Type {
	case JobTypeImportStatement:
		if p.imports == nil {
			return domain.Invalid("statement imports are not configured")
		}
		res, err := p.imports.ImportFromGCS(ctx, job.OwnerID, job.AccountID, job.GCSURI, job.Mapping)
		if res != nil && res.ExecuteResult != nil {
			job.BatchID = res.BatchID
		}
		var failure *domain.BatchFailure
		if errors.As(err, &failure) {
			job.BatchID = failure.BatchID
		}
		if err != nil {
			return fmt.Errorf("Handle: importing %s: %w", job.GCSURI, err)
		}
		log.Info().
			Str("batch_id", res.BatchID).
			Int("imported", res.Imported).
			Int("duplicates", res.Duplicates).
			Msg("Import job completed")

	case JobTypeRecalculateBalance:
		acc, err := p.ledger.RecalculateBalance(ctx, job.OwnerID, job.AccountID)
		if err != nil {
			return fmt.Errorf("Handle: recalculating %s: %w", job.AccountID, err)
		}
		log.Info().Str("account_id", acc.ID).Str("balance", acc.CurrentBalance.String()).Msg("Recalculation job completed")

	case JobTypeSnapshotBalances:
		snaps, err := p.ledger.SnapshotAll(ctx, job.OwnerID)
		if err != nil {
			return fmt.Errorf("Handle: snapshotting: %w", err)
		}
		log.Info().Int("accounts", len(snaps)).Msg("Snapshot job completed")
	}
	return nil
}
