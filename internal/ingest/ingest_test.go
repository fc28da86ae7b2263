package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"statusdrift/internal/lattice"
	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
	"statusdrift/internal/store/memory"
)

const header = "Property ID,Status,Location Address\n"

func writeSnapshot(t *testing.T, dir, name string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(header+strings.Join(rows, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}
	return path
}

func onlyBatch(t *testing.T, db *memory.Store) store.ImportBatch {
	t.Helper()
	batches, err := db.ListBatches(context.Background(), 10)
	if err != nil {
		t.Fatalf("listing batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	return batches[0]
}

func TestRun_CompletesBatch(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	path := writeSnapshot(t, t.TempDir(), "Lawley_22052025.csv",
		"1001,Pole Permission: Approved,1 Oak St",
		"1002,Home Installation: Installed,2 Oak St",
	)

	result, err := Run(ctx, path, lattice.Default(), db, Options{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Counts.New != 2 || result.Status != store.BatchCompleted {
		t.Fatalf("unexpected result: %+v", result.Counts)
	}
	if result.Source != "Lawley_22052025.csv" {
		t.Fatalf("expected source from file name, got %q", result.Source)
	}

	batch := onlyBatch(t, db)
	if batch.Status != store.BatchCompleted || batch.Stats.New != 2 || batch.Stats.TotalRows != 2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	want := time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)
	if !batch.SnapshotAt.Equal(want) {
		t.Fatalf("expected snapshot date from file name, got %v", batch.SnapshotAt)
	}

	history, _ := db.ListTransitions(ctx, store.TransitionFilter{BusinessID: "1001"})
	if len(history) != 1 || !history[0].ObservedAt.Equal(want) || history[0].BatchID != batch.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	dir := t.TempDir()
	path := writeSnapshot(t, dir, "snap.csv", "1001,Pole Permission: Approved,1 Oak St")

	result, err := Run(ctx, path, lattice.Default(), db, Options{DryRun: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.DryRun || result.Counts.New != 1 {
		t.Fatalf("expected classified dry run, got %+v", result)
	}
	if rec, _ := db.GetCurrent(ctx, "1001"); rec != nil {
		t.Fatalf("dry run must not write current state, got %+v", rec)
	}
	if db.TransitionCount() != 0 {
		t.Fatalf("dry run must not write history")
	}
	if batches, _ := db.ListBatches(ctx, 10); len(batches) != 0 {
		t.Fatalf("dry run must not record a batch, got %+v", batches)
	}
}

func TestRun_MalformedSourceFailsBatch(t *testing.T) {
	db := memory.New()
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte(header), 0o600); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}

	result, err := Run(context.Background(), path, lattice.Default(), db, Options{})
	var mse *snapshot.MalformedSourceError
	if !errors.As(err, &mse) {
		t.Fatalf("expected MalformedSourceError, got %v", err)
	}
	if result == nil || result.Status != store.BatchFailed {
		t.Fatalf("expected failed result, got %+v", result)
	}

	batch := onlyBatch(t, db)
	if batch.Status != store.BatchFailed || batch.FailureReason == "" {
		t.Fatalf("expected failed batch with reason, got %+v", batch)
	}
}

func TestRun_PersistenceFailureKeepsCommittedChunks(t *testing.T) {
	ctx := context.Background()
	injected := errors.New("connection reset")
	db := memory.New(memory.WithFailure(func(op, businessID string) error {
		if op == "upsert" && businessID == "1003" {
			return injected
		}
		return nil
	}))
	path := writeSnapshot(t, t.TempDir(), "snap.csv",
		"1001,Pole Permission: Approved,1 Oak St",
		"1002,Pole Permission: Approved,2 Oak St",
		"1003,Pole Permission: Approved,3 Oak St",
	)

	result, err := Run(ctx, path, lattice.Default(), db, Options{ChunkSize: 2})
	var perr *store.PersistenceError
	if !errors.As(err, &perr) || !errors.Is(err, injected) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if result.ChunksCommitted != 1 || result.Counts.New != 2 {
		t.Fatalf("expected first chunk committed, got %+v", result)
	}

	batch := onlyBatch(t, db)
	if batch.Status != store.BatchFailed || batch.Stats.New != 2 {
		t.Fatalf("expected failed batch with committed counts, got %+v", batch)
	}
	if rec, _ := db.GetCurrent(ctx, "1002"); rec == nil {
		t.Fatalf("expected committed chunk to survive")
	}
}

func TestRun_CancelledStillClosesBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := memory.New()
	path := writeSnapshot(t, t.TempDir(), "snap.csv", "1001,Pole Permission: Approved,1 Oak St")

	if _, err := Run(ctx, path, lattice.Default(), db, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if batch := onlyBatch(t, db); batch.Status != store.BatchFailed {
		t.Fatalf("expected failed batch, got %+v", batch)
	}
}

type mockStore struct {
	*memory.Store
	beginErr   error
	failCalls  []string
	completeOK bool
}

func (m *mockStore) BeginBatch(ctx context.Context, meta store.BatchMeta) (string, error) {
	if m.beginErr != nil {
		return "", m.beginErr
	}
	return m.Store.BeginBatch(ctx, meta)
}

func (m *mockStore) CompleteBatch(ctx context.Context, batchID string, stats store.BatchStats) error {
	if !m.completeOK {
		return errors.New("batch table locked")
	}
	return m.Store.CompleteBatch(ctx, batchID, stats)
}

func (m *mockStore) FailBatch(ctx context.Context, batchID, reason string, stats store.BatchStats) error {
	m.failCalls = append(m.failCalls, reason)
	return m.Store.FailBatch(ctx, batchID, reason, stats)
}

func TestRun_ImportInProgress(t *testing.T) {
	db := &mockStore{Store: memory.New(), beginErr: store.ErrImportInProgress}
	path := writeSnapshot(t, t.TempDir(), "snap.csv", "1001,Pole Permission: Approved,1 Oak St")

	if _, err := Run(context.Background(), path, lattice.Default(), db, Options{}); !errors.Is(err, store.ErrImportInProgress) {
		t.Fatalf("expected ErrImportInProgress, got %v", err)
	}
	if len(db.failCalls) != 0 {
		t.Fatalf("no batch was opened, nothing to fail")
	}
}

func TestRun_CompleteFailureMarksFailed(t *testing.T) {
	db := &mockStore{Store: memory.New()}
	path := writeSnapshot(t, t.TempDir(), "snap.csv", "1001,Pole Permission: Approved,1 Oak St")

	result, err := Run(context.Background(), path, lattice.Default(), db, Options{})
	var perr *store.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(db.failCalls) != 1 || result.Status != store.BatchFailed {
		t.Fatalf("expected one FailBatch call, got %v", db.failCalls)
	}
}

func TestSnapshotTime(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	override := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	if got := SnapshotTime("Lawley_22052025.xlsx", override, now); !got.Equal(override) {
		t.Fatalf("expected override, got %v", got)
	}
	if got := SnapshotTime("Lawley_22052025.xlsx", time.Time{}, now); !got.Equal(time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected file name date, got %v", got)
	}
	if got := SnapshotTime("export.xlsx", time.Time{}, now); !got.Equal(now()) {
		t.Fatalf("expected now, got %v", got)
	}
}

func TestSnapshotFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_23052025.xlsx", "a_22052025.csv", "~$b_23052025.xlsx", ".hidden.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "archive", "old.csv"), []byte("x"), 0o600); err != nil {
		t.Fatalf("writing archive file: %v", err)
	}

	files, err := SnapshotFiles(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []string{filepath.Join(dir, "a_22052025.csv"), filepath.Join(dir, "b_23052025.xlsx")}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
}

func TestFileHash(t *testing.T) {
	dir := t.TempDir()
	a := writeSnapshot(t, dir, "a.csv", "1001,Pending,x")
	b := writeSnapshot(t, dir, "b.csv", "1001,Pending,x")
	c := writeSnapshot(t, dir, "c.csv", "1001,Approved,x")

	ha, err := FileHash(a)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	hb, _ := FileHash(b)
	hc, _ := FileHash(c)
	if ha != hb || ha == hc {
		t.Fatalf("expected content-based hashes, got %s %s %s", ha, hb, hc)
	}
}

func TestCompare(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeSnapshot(t, dir, "Lawley_21052025.csv",
		"1001,Home Installation: Installed,1 Oak St",
		"1002,Pole Permission: Pending,2 Oak St",
		"1003,Pole Permission: Approved,3 Oak St",
	)
	newPath := writeSnapshot(t, dir, "Lawley_22052025.csv",
		"1001,Pole Permission: Pending,1 Oak St",
		"1002,Home Sign Ups: Approved,2 Oak St",
		"1003,Pole Permission: Approved,3 Oak St",
		"1004,Pole Permission: Pending,4 Oak St",
	)

	result, err := Compare(context.Background(), oldPath, newPath, lattice.Default(), Options{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.DryRun || result.Source != "Lawley_22052025.csv" {
		t.Fatalf("unexpected result metadata: %+v", result)
	}
	c := result.Counts
	if c.New != 1 || c.Unchanged != 1 || c.Updated != 2 || c.Reverts != 1 || c.Bypasses != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}
	if len(result.Reverts) != 1 || result.Reverts[0].BusinessID != "1001" {
		t.Fatalf("expected 1001 reverted, got %+v", result.Reverts)
	}
	if !result.ObservedAt.Equal(time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected newer snapshot date, got %v", result.ObservedAt)
	}
}

func TestCompare_MalformedInput(t *testing.T) {
	dir := t.TempDir()
	good := writeSnapshot(t, dir, "good.csv", "1001,Pole Permission: Pending,1 Oak St")
	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(bad, []byte("Status\nPending\n"), 0o600); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}

	_, err := Compare(context.Background(), bad, good, lattice.Default(), Options{})
	var mse *snapshot.MalformedSourceError
	if !errors.As(err, &mse) {
		t.Fatalf("expected MalformedSourceError, got %v", err)
	}
}
