package store

import (
	"errors"
	"fmt"
)

var (
	ErrImportInProgress = errors.New("another import is already in progress")
	ErrVersionConflict  = errors.New("current state changed concurrently")
	ErrBatchNotFound    = errors.New("import batch not found")
	ErrBatchClosed      = errors.New("import batch is no longer in progress")
	ErrNotReadOnly      = errors.New("only read-only statements are allowed")
)

// PersistenceError wraps a failed write unit. The chunk it names was rolled
// back; earlier chunks stay committed.
type PersistenceError struct {
	Op      string
	BatchID string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.BatchID != "" {
		return fmt.Sprintf("%s (batch %s): %v", e.Op, e.BatchID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
