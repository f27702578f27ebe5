package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/statement"
)

// PipelineStep represents a single step of an import execution.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all steps of one execution.
type PipelineState struct {
	OwnerID   string
	AccountID string
	Filename  string
	Source    string
	Content   string
	Mapping   statement.ImportMapping

	Batch   *domain.ImportBatch
	Account *domain.Account
	Preview *PreviewResult

	Imported int
	// Duplicates counts rows rejected by the store's uniqueness constraint
	// after passing the in-memory fingerprint check.
	Duplicates int
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// newImportPipeline wires the standard five import steps.
func newImportPipeline(im *Importer) *Pipeline {
	return NewPipeline(
		&CreateBatchStep{im: im},
		&VerifyAccountStep{im: im},
		&PreviewStep{im: im},
		&PersistTransactionsStep{im: im},
		&FinalizeStep{im: im},
	)
}
