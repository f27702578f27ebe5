package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/fingerprint"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Step 1: CreateBatchStep records the attempt in processing state.
type CreateBatchStep struct{ im *Importer }

func (s *CreateBatchStep) Execute(ctx context.Context, state *PipelineState) error {
	mapping, err := json.Marshal(state.Mapping)
	if err != nil {
		return fmt.Errorf("CreateBatchStep: encoding mapping: %w", err)
	}
	batch := &domain.ImportBatch{
		ID:        s.im.newID(),
		OwnerID:   state.OwnerID,
		AccountID: state.AccountID,
		Filename:  state.Filename,
		Source:    state.Source,
		Status:    domain.BatchProcessing,
		Mapping:   mapping,
		CreatedAt: s.im.clock.Now(),
	}
	if err := s.im.repo.CreateImportBatch(ctx, batch); err != nil {
		return fmt.Errorf("CreateBatchStep: %w", err)
	}
	state.Batch = batch
	return nil
}

// Step 2: VerifyAccountStep loads the target account.
type VerifyAccountStep struct{ im *Importer }

func (s *VerifyAccountStep) Execute(ctx context.Context, state *PipelineState) error {
	account, err := s.im.repo.GetAccount(ctx, state.OwnerID, state.AccountID)
	if err != nil {
		return fmt.Errorf("VerifyAccountStep: %w", err)
	}
	state.Account = account
	return nil
}

// Step 3: PreviewStep parses the file and splits new rows from duplicates.
type PreviewStep struct{ im *Importer }

func (s *PreviewStep) Execute(ctx context.Context, state *PipelineState) error {
	preview, err := s.im.preview(ctx, state.OwnerID, state.AccountID, state.Content, state.Mapping)
	if err != nil {
		return fmt.Errorf("PreviewStep: %w", err)
	}
	state.Preview = preview
	return nil
}

// Step 4: PersistTransactionsStep writes every accepted row in one unit of work.
type PersistTransactionsStep struct{ im *Importer }

func (s *PersistTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	batchID := state.Batch.ID
	ccy := state.Account.Currency

	// Counters only reach state once the unit of work commits, so a
	// rolled-back transaction never shows up as imported rows.
	var imported, duplicates int
	err := s.im.repo.RunInTx(ctx, func(repo store.Repository) error {
		imported, duplicates = 0, 0
		for _, row := range state.Preview.accepted {
			settlement, err := s.im.converter.Convert(ctx, row.Amount, ccy, s.im.settlement)
			if err != nil {
				return fmt.Errorf("row %d: converting %s %s: %w", row.Row, row.Amount, ccy, err)
			}
			now := s.im.clock.Now()
			tx := &domain.Transaction{
				ID:               s.im.newID(),
				OwnerID:          state.OwnerID,
				AccountID:        state.AccountID,
				Kind:             row.Kind,
				Amount:           row.Amount,
				AmountSettlement: settlement,
				Currency:         ccy,
				Merchant:         domain.StringPtr(row.Merchant),
				Description:      domain.StringPtr(row.Description),
				OccurredAt:       row.OccurredAt,
				ExternalID:       domain.StringPtr(row.ExternalID),
				ImportBatchID:    &batchID,
				ImportSource:     domain.SourceCSVImport,
				Fingerprint:      fingerprint.Compute(row.OccurredAt, row.Amount, row.Description),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := repo.CreateTransaction(ctx, tx); err != nil {
				if errors.Is(err, domain.ErrDuplicate) {
					log.Debug().Int("row", row.Row).Str("external_id", row.ExternalID).Msg("Row rejected by uniqueness constraint")
					duplicates++
					continue
				}
				return fmt.Errorf("row %d: %w", row.Row, err)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("PersistTransactionsStep: %w", err)
	}
	state.Imported, state.Duplicates = imported, duplicates
	return nil
}

// Step 5: FinalizeStep marks the batch completed with its counters.
type FinalizeStep struct{ im *Importer }

func (s *FinalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	completed := s.im.clock.Now()
	p := state.Preview
	patch := domain.BatchPatch{
		Status:        domain.BatchCompleted,
		TotalRows:     p.TotalRows,
		ImportedRows:  state.Imported,
		DuplicateRows: p.DuplicateRows + state.Duplicates,
		ErrorRows:     p.ErrorRows,
		Errors:        p.Errors,
		CompletedAt:   &completed,
	}
	if err := s.im.repo.UpdateImportBatch(ctx, state.OwnerID, state.Batch.ID, patch); err != nil {
		return fmt.Errorf("FinalizeStep: %w", err)
	}
	patch.Apply(state.Batch)
	return nil
}
