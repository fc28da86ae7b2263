package store

import (
	"context"
)

// Store is the durable home for current state, transition history and the
// import audit trail.
type Store interface {
	Close(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	BeginBatch(ctx context.Context, meta BatchMeta) (string, error)
	CompleteBatch(ctx context.Context, batchID string, stats BatchStats) error
	FailBatch(ctx context.Context, batchID, reason string, stats BatchStats) error
	GetBatch(ctx context.Context, batchID string) (*ImportBatch, error)
	ListBatches(ctx context.Context, limit int) ([]ImportBatch, error)

	GetCurrent(ctx context.Context, businessID string) (*BusinessRecord, error)
	ListTransitions(ctx context.Context, filter TransitionFilter) ([]TransitionRecord, error)

	// InChunk runs fn in one transaction. It commits only when fn returns
	// nil; otherwise every write made through the Tx is discarded.
	InChunk(ctx context.Context, fn func(tx Tx) error) error

	ListCurrentWithoutHistory(ctx context.Context) ([]string, error)
	ListHistoryMismatches(ctx context.Context) ([]HistoryMismatch, error)
	ListStatusCounts(ctx context.Context) ([]StatusCount, error)
}

type Tx interface {
	GetCurrent(ctx context.Context, businessID string) (*BusinessRecord, error)
	GetCurrentMany(ctx context.Context, businessIDs []string) (map[string]*BusinessRecord, error)
	// UpsertCurrent writes rec when the stored version equals expectedVersion.
	// An expectedVersion of 0 means the row must not exist yet.
	UpsertCurrent(ctx context.Context, rec BusinessRecord, expectedVersion int64) error
	AppendTransition(ctx context.Context, rec TransitionRecord) error
}

// SQLRunner executes read-only ad-hoc queries.
type SQLRunner interface {
	RunSQL(ctx context.Context, query string, args []any) ([]map[string]any, error)
}
