package domain

import (
	"encoding/json"
	"time"
)

// BatchStatus is the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// RowError is a non-fatal, row-level problem found while importing.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportBatch records one statement-import attempt.
type ImportBatch struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	AccountID string      `json:"accountId"`
	Filename  string      `json:"filename"`
	Source    string      `json:"source"`
	Status    BatchStatus `json:"status"`

	// Mapping is the serialized column mapping the run used.
	Mapping json.RawMessage `json:"mapping,omitempty"`

	TotalRows     int        `json:"totalRows"`
	ImportedRows  int        `json:"importedRows"`
	DuplicateRows int        `json:"duplicateRows"`
	ErrorRows     int        `json:"errorRows"`
	Errors        []RowError `json:"errors,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// BatchPatch is a partial update applied to an ImportBatch when it is
// finalized.
type BatchPatch struct {
	Status        BatchStatus
	TotalRows     int
	ImportedRows  int
	DuplicateRows int
	ErrorRows     int
	Errors        []RowError
	CompletedAt   *time.Time
}

// Apply copies the patch onto b.
func (p BatchPatch) Apply(b *ImportBatch) {
	b.Status = p.Status
	b.TotalRows = p.TotalRows
	b.ImportedRows = p.ImportedRows
	b.DuplicateRows = p.DuplicateRows
	b.ErrorRows = p.ErrorRows
	b.Errors = p.Errors
	b.CompletedAt = p.CompletedAt
}
