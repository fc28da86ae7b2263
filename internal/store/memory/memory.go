// Package memory is an in-process Store used for offline comparisons and
// tests. Chunks stage their writes and apply them only on success.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"statusdrift/internal/store"
)

var _ store.Store = (*Store)(nil)

// FailFunc lets tests inject a write failure. op is "upsert" or "append".
type FailFunc func(op, businessID string) error

type Store struct {
	mu          sync.Mutex
	current     map[string]store.BusinessRecord
	transitions []store.TransitionRecord
	batches     map[string]store.ImportBatch
	batchOrder  []string
	nextID      int64
	nowFn       func() time.Time
	failFn      FailFunc
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

func WithFailure(fn FailFunc) Option {
	return func(s *Store) { s.failFn = fn }
}

func New(opts ...Option) *Store {
	s := &Store{
		current: make(map[string]store.BusinessRecord),
		batches: make(map[string]store.ImportBatch),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close(ctx context.Context) error        { return nil }
func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) BeginBatch(ctx context.Context, meta store.BatchMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.batches {
		if b.Status == store.BatchInProgress {
			return "", store.ErrImportInProgress
		}
	}

	id := uuid.NewString()
	s.batches[id] = store.ImportBatch{
		ID:         id,
		SourceName: meta.SourceName,
		ImportedAt: s.nowFn(),
		SnapshotAt: meta.SnapshotAt,
		Status:     store.BatchInProgress,
	}
	s.batchOrder = append(s.batchOrder, id)
	return id, nil
}

func (s *Store) CompleteBatch(ctx context.Context, batchID string, stats store.BatchStats) error {
	return s.closeBatch(batchID, store.BatchCompleted, "", stats)
}

func (s *Store) FailBatch(ctx context.Context, batchID, reason string, stats store.BatchStats) error {
	return s.closeBatch(batchID, store.BatchFailed, reason, stats)
}

func (s *Store) closeBatch(batchID string, status store.BatchStatus, reason string, stats store.BatchStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrBatchNotFound
	}
	if b.Status != store.BatchInProgress {
		return store.ErrBatchClosed
	}
	now := s.nowFn()
	b.Status = status
	b.FailureReason = reason
	b.Stats = stats
	b.CompletedAt = &now
	s.batches[batchID] = b
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*store.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// ListBatches returns the newest batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]store.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = store.ClampLimit(limit)
	out := make([]store.ImportBatch, 0, min(limit, len(s.batchOrder)))
	for i := len(s.batchOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.batches[s.batchOrder[i]])
	}
	return out, nil
}

func (s *Store) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.current[businessID]
	if !ok {
		return nil, nil
	}
	cp := store.CopyRecord(rec)
	return &cp, nil
}

// ListTransitions returns matching history oldest first.
func (s *Store) ListTransitions(ctx context.Context, filter store.TransitionFilter) ([]store.TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := store.ClampLimit(filter.Limit)
	out := make([]store.TransitionRecord, 0)
	for _, tr := range s.transitions {
		if filter.BusinessID != "" && tr.BusinessID != filter.BusinessID {
			continue
		}
		if filter.BatchID != "" && tr.BatchID != filter.BatchID {
			continue
		}
		if filter.Classification != "" && tr.Classification != filter.Classification {
			continue
		}
		out = append(out, tr)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// InChunk holds the store lock for the whole chunk so chunks never
// interleave.
func (s *Store) InChunk(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &chunkTx{
		store:   s,
		current: make(map[string]store.BusinessRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, rec := range tx.current {
		s.current[id] = rec
	}
	for _, tr := range tx.transitions {
		s.nextID++
		tr.ID = s.nextID
		s.transitions = append(s.transitions, tr)
	}
	return nil
}

func (s *Store) ListCurrentWithoutHistory(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.current))
	for _, tr := range s.transitions {
		seen[tr.BusinessID] = struct{}{}
	}
	var out []string
	for id := range s.current {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListHistoryMismatches(ctx context.Context) ([]store.HistoryMismatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]string)
	for _, tr := range s.transitions {
		latest[tr.BusinessID] = tr.ToStatus
	}
	var out []store.HistoryMismatch
	for id, rec := range s.current {
		last, ok := latest[id]
		if ok && last != rec.Status {
			out = append(out, store.HistoryMismatch{BusinessID: id, CurrentStatus: rec.Status, HistoryStatus: last})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	return out, nil
}

func (s *Store) ListStatusCounts(ctx context.Context) ([]store.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, rec := range s.current {
		counts[rec.Status]++
	}
	out := make([]store.StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, store.StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// TransitionCount is a test convenience.
func (s *Store) TransitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transitions)
}

type chunkTx struct {
	store       *Store
	current     map[string]store.BusinessRecord
	transitions []store.TransitionRecord
}

func (tx *chunkTx) lookup(id string) (store.BusinessRecord, bool) {
	if rec, ok := tx.current[id]; ok {
		return rec, true
	}
	rec, ok := tx.store.current[id]
	return rec, ok
}

func (tx *chunkTx) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	rec, ok := tx.lookup(businessID)
	if !ok {
		return nil, nil
	}
	cp := store.CopyRecord(rec)
	return &cp, nil
}

func (tx *chunkTx) GetCurrentMany(ctx context.Context, businessIDs []string) (map[string]*store.BusinessRecord, error) {
	out := make(map[string]*store.BusinessRecord, len(businessIDs))
	for _, id := range businessIDs {
		if rec, ok := tx.lookup(id); ok {
			cp := store.CopyRecord(rec)
			out[id] = &cp
		}
	}
	return out, nil
}

func (tx *chunkTx) UpsertCurrent(ctx context.Context, rec store.BusinessRecord, expectedVersion int64) error {
	if tx.store.failFn != nil {
		if err := tx.store.failFn("upsert", rec.BusinessID); err != nil {
			return err
		}
	}
	existing, ok := tx.lookup(rec.BusinessID)
	switch {
	case !ok && expectedVersion != 0:
		return fmt.Errorf("%w: %s does not exist", store.ErrVersionConflict, rec.BusinessID)
	case ok && existing.Version != expectedVersion:
		return fmt.Errorf("%w: %s is at version %d, expected %d", store.ErrVersionConflict, rec.BusinessID, existing.Version, expectedVersion)
	}

	rec = store.CopyRecord(rec)
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = tx.store.nowFn()
	tx.current[rec.BusinessID] = rec
	return nil
}

func (tx *chunkTx) AppendTransition(ctx context.Context, rec store.TransitionRecord) error {
	if tx.store.failFn != nil {
		if err := tx.store.failFn("append", rec.BusinessID); err != nil {
			return err
		}
	}
	rec.ID = 0
	tx.transitions = append(tx.transitions, rec)
	return nil
}
