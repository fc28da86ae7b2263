package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "statusdrift.db")
	client, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close(ctx) })
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return client
}

func strPtr(s string) *string { return &s }

func TestEnsureSchemaIdempotent(t *testing.T) {
	client := openTestClient(t)
	if err := client.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	batchID, err := client.BeginBatch(ctx, store.BatchMeta{SourceName: "Lawley_22052025.xlsx", SnapshotAt: time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("begin batch: %v", err)
	}

	observed := time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)
	err = client.InChunk(ctx, func(tx store.Tx) error {
		rec := store.BusinessRecord{
			BusinessID: "249111",
			Status:     "Home Installation: Installed",
			Address:    "12 Oak St",
			Assignee:   "Sipho",
			Attributes: map[string]string{"pole_number": "LAW.P.A001"},
			BatchID:    batchID,
		}
		if err := tx.UpsertCurrent(ctx, rec, 0); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, store.TransitionRecord{
			BusinessID:     "249111",
			ToStatus:       rec.Status,
			ObservedAt:     observed,
			Classification: lattice.ClassNormal,
			Severity:       lattice.SeverityNone,
			BatchID:        batchID,
		})
	})
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	rec, err := client.GetCurrent(ctx, "249111")
	if err != nil || rec == nil {
		t.Fatalf("get current: %v %v", rec, err)
	}
	if rec.Version != 1 || rec.Attributes["pole_number"] != "LAW.P.A001" || rec.Assignee != "Sipho" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	err = client.InChunk(ctx, func(tx store.Tx) error {
		current, err := tx.GetCurrentMany(ctx, []string{"249111", "missing"})
		if err != nil {
			return err
		}
		if len(current) != 1 {
			t.Fatalf("expected one existing record, got %d", len(current))
		}
		prev := current["249111"]
		next := *prev
		next.Status = "Home Installation: In Progress"
		if err := tx.UpsertCurrent(ctx, next, prev.Version); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, store.TransitionRecord{
			BusinessID:     "249111",
			FromStatus:     strPtr(prev.Status),
			ToStatus:       next.Status,
			ObservedAt:     observed,
			Classification: lattice.ClassRevert,
			Severity:       lattice.SeverityLow,
			Distance:       1,
			BatchID:        batchID,
		})
	})
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}

	history, err := client.ListTransitions(ctx, store.TransitionFilter{BusinessID: "249111"})
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(history))
	}
	if history[0].FromStatus != nil {
		t.Fatalf("expected first transition to have nil from status")
	}
	if history[1].Classification != lattice.ClassRevert || *history[1].FromStatus != "Home Installation: Installed" {
		t.Fatalf("unexpected second transition: %+v", history[1])
	}
	if !history[1].ObservedAt.Equal(observed) {
		t.Fatalf("expected observed_at %v, got %v", observed, history[1].ObservedAt)
	}

	reverts, _ := client.ListTransitions(ctx, store.TransitionFilter{Classification: lattice.ClassRevert})
	if len(reverts) != 1 {
		t.Fatalf("expected 1 revert, got %d", len(reverts))
	}

	if err := client.CompleteBatch(ctx, batchID, store.BatchStats{TotalRows: 1, New: 1}); err != nil {
		t.Fatalf("complete batch: %v", err)
	}
	batch, err := client.GetBatch(ctx, batchID)
	if err != nil || batch == nil {
		t.Fatalf("get batch: %v %v", batch, err)
	}
	if batch.Status != store.BatchCompleted || batch.Stats.New != 1 || batch.CompletedAt == nil {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if !batch.SnapshotAt.Equal(observed) {
		t.Fatalf("expected snapshot_at %v, got %v", observed, batch.SnapshotAt)
	}
}

func TestVersionConflict(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	upsert := func(expected int64) error {
		return client.InChunk(ctx, func(tx store.Tx) error {
			return tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P1", Status: "A", BatchID: "b"}, expected)
		})
	}
	if err := upsert(0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := upsert(0); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
	if err := upsert(5); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
	if err := upsert(1); err != nil {
		t.Fatalf("update: %v", err)
	}
}

// A failing history insert must take the paired current-state write with it.
func TestChunkRollbackKeepsStateAndHistoryPaired(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	_, err := client.db.ExecContext(ctx, `
		CREATE TRIGGER reject_bad BEFORE INSERT ON status_transitions
		WHEN NEW.business_id = 'BAD'
		BEGIN
			SELECT RAISE(ABORT, 'injected failure');
		END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	write := func(tx store.Tx, id string) error {
		if err := tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: id, Status: "A", BatchID: "b"}, 0); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: id, ToStatus: "A", Classification: lattice.ClassUnknown, Severity: lattice.SeverityNone, BatchID: "b"})
	}

	if err := client.InChunk(ctx, func(tx store.Tx) error { return write(tx, "GOOD1") }); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	err = client.InChunk(ctx, func(tx store.Tx) error {
		if err := write(tx, "GOOD2"); err != nil {
			return err
		}
		return write(tx, "BAD")
	})
	if err == nil {
		t.Fatalf("expected injected failure")
	}

	for _, id := range []string{"GOOD2", "BAD"} {
		if rec, _ := client.GetCurrent(ctx, id); rec != nil {
			t.Fatalf("expected %s rolled back, found %+v", id, rec)
		}
	}
	if rec, _ := client.GetCurrent(ctx, "GOOD1"); rec == nil {
		t.Fatalf("expected earlier chunk to stay committed")
	}
	orphans, err := client.ListCurrentWithoutHistory(ctx)
	if err != nil {
		t.Fatalf("list orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no current rows without history, got %v", orphans)
	}
	history, _ := client.ListTransitions(ctx, store.TransitionFilter{})
	if len(history) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(history))
	}
}

func TestTransitionsAppendOnly(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	err := client.InChunk(ctx, func(tx store.Tx) error {
		return tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: "P1", ToStatus: "A", Classification: lattice.ClassNormal, Severity: lattice.SeverityNone, BatchID: "b"})
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := client.db.ExecContext(ctx, `UPDATE status_transitions SET to_status = 'B'`); err == nil {
		t.Fatalf("expected update to be rejected")
	}
	if _, err := client.db.ExecContext(ctx, `DELETE FROM status_transitions`); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
}

func TestSingleInFlightImport(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	first, err := client.BeginBatch(ctx, store.BatchMeta{SourceName: "a.csv"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := client.BeginBatch(ctx, store.BatchMeta{SourceName: "b.csv"}); !errors.Is(err, store.ErrImportInProgress) {
		t.Fatalf("expected ErrImportInProgress, got %v", err)
	}
	if err := client.FailBatch(ctx, first, "aborted", store.BatchStats{Errors: 2}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := client.CompleteBatch(ctx, first, store.BatchStats{}); !errors.Is(err, store.ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed, got %v", err)
	}
	if err := client.CompleteBatch(ctx, "missing", store.BatchStats{}); !errors.Is(err, store.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if _, err := client.BeginBatch(ctx, store.BatchMeta{SourceName: "b.csv"}); err != nil {
		t.Fatalf("begin after failure: %v", err)
	}

	batches, err := client.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	failed, _ := client.GetBatch(ctx, first)
	if failed.Status != store.BatchFailed || failed.FailureReason != "aborted" || failed.Stats.Errors != 2 {
		t.Fatalf("unexpected failed batch: %+v", failed)
	}
}

func TestHistoryMismatchAndStatusCounts(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	err := client.InChunk(ctx, func(tx store.Tx) error {
		if err := tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P1", Status: "B", BatchID: "b"}, 0); err != nil {
			return err
		}
		if err := tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P2", Status: "B", BatchID: "b"}, 0); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: "P1", ToStatus: "A", Classification: lattice.ClassUnknown, Severity: lattice.SeverityNone, BatchID: "b"}); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: "P2", ToStatus: "B", Classification: lattice.ClassUnknown, Severity: lattice.SeverityNone, BatchID: "b"})
	})
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	mismatches, err := client.ListHistoryMismatches(ctx)
	if err != nil {
		t.Fatalf("mismatches: %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].BusinessID != "P1" || mismatches[0].HistoryStatus != "A" {
		t.Fatalf("unexpected mismatches: %+v", mismatches)
	}
	counts, err := client.ListStatusCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestRunSQLReadOnly(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	rows, err := client.RunSQL(ctx, "SELECT COUNT(*) AS n FROM current_state WHERE status = ?", []any{"A"})
	if err != nil {
		t.Fatalf("run sql: %v", err)
	}
	if len(rows) != 1 || rows[0]["n"] != int64(0) {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if _, err := client.RunSQL(ctx, "DELETE FROM current_state", nil); !errors.Is(err, store.ErrNotReadOnly) {
		t.Fatalf("expected ErrNotReadOnly, got %v", err)
	}
}
