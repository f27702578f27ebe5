package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/statement"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeImportStatement imports a statement file stored in GCS.
	JobTypeImportStatement JobType = "import_statement"
	// JobTypeRecalculateBalance replays one account's history into its balance.
	JobTypeRecalculateBalance JobType = "recalculate_balance"
	// JobTypeSnapshotBalances writes today's snapshot for every active account of an owner.
	JobTypeSnapshotBalances JobType = "snapshot_balances"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeImportStatement, JobTypeRecalculateBalance, JobTypeSnapshotBalances:
		return true
	}
	return false
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a published job does not set MaxRetries.
const DefaultMaxRetries = 3

// Job is one unit of background work for an owner.
type Job struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type    JobType `json:"type"`
	OwnerID string  `json:"owner_id"`

	// AccountID is required for imports and recalculations.
	AccountID string `json:"account_id,omitempty"`

	// GCSURI is the statement location for imports.
	GCSURI string `json:"gcs_uri,omitempty"`

	// Mapping is optional; imports without one detect it from the file.
	Mapping *statement.ImportMapping `json:"mapping,omitempty"`

	// BatchID is the import batch the job produced, set once known.
	BatchID string `json:"batch_id,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Validate rejects jobs no handler could run.
func (j *Job) Validate() error {
	if !j.Type.Valid() {
		return domain.Invalid("unknown job type %q", j.Type)
	}
	if j.OwnerID == "" {
		return domain.Invalid("job owner is required")
	}
	switch j.Type {
	case JobTypeImportStatement:
		if j.AccountID == "" || j.GCSURI == "" {
			return domain.Invalid("import jobs need account_id and gcs_uri")
		}
	case JobTypeRecalculateBalance:
		if j.AccountID == "" {
			return domain.Invalid("recalculation jobs need account_id")
		}
	}
	return nil
}

// Retryable reports whether a failed job may succeed on another attempt.
// Invalid input and missing entities fail the same way every time.
func Retryable(err error) bool {
	return !errors.Is(err, domain.ErrInvalidInput) && !errors.Is(err, domain.ErrNotFound)
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish validates and enqueues a job.
	Publish(ctx context.Context, job *Job) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID or returns domain.ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	OwnerID   string
	AccountID string
	Type      JobType
	Status    JobStatus

	Limit  int
	Offset int
}

// Matches reports whether job passes every set criterion.
func (f JobFilter) Matches(job *Job) bool {
	if f.OwnerID != "" && job.OwnerID != f.OwnerID {
		return false
	}
	if f.AccountID != "" && job.AccountID != f.AccountID {
		return false
	}
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	return f.Status == "" || job.Status == f.Status
}
