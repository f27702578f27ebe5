package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an account, transaction, trade, position,
	// portfolio or batch does not exist for the owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput covers requests that can never succeed as given.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned by stores when a uniqueness constraint on
	// (account, external id) or (account, fingerprint) rejects a write.
	ErrDuplicate = errors.New("duplicate")

	// ErrConversion marks a failure reported by the currency converter.
	ErrConversion = errors.New("currency conversion failed")
)

var (
	// ErrInvalidTransfer is returned for a transfer whose source and
	// destination are the same account.
	ErrInvalidTransfer = fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidInput)

	// ErrInvalidFile is returned when a statement has no data rows.
	ErrInvalidFile = fmt.Errorf("%w: file must have at least 2 rows (header + data)", ErrInvalidInput)
)

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// Invalid builds an ErrInvalidInput with a message.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// BatchFailure is returned from an import execution that failed after its
// batch record was created. The batch has already been marked failed.
type BatchFailure struct {
	BatchID string
	Err     error
}

func (e *BatchFailure) Error() string {
	return fmt.Sprintf("import batch %s failed: %v", e.BatchID, e.Err)
}

func (e *BatchFailure) Unwrap() error { return e.Err }
