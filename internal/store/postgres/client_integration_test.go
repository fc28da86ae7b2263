//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"statusdrift/internal/config"
	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

// STATUSDRIFT_TEST_PG_DSN points the suite at an existing database instead
// of starting a container.
func openIntegrationClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("STATUSDRIFT_TEST_PG_DSN")
	if dsn == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16",
			tcpostgres.WithDatabase("statusdrift"),
			tcpostgres.WithUsername("statusdrift"),
			tcpostgres.WithPassword("statusdrift"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("starting postgres container: %v", err)
		}
		t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("connection string: %v", err)
		}
	}

	client, err := New(ctx, config.DatabaseConfig{DSN: dsn, StatementTimeout: "30s"})
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { client.Close(ctx) })

	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}
	// TRUNCATE does not fire the row-level append-only trigger.
	if _, err := client.pool.Exec(ctx, `TRUNCATE current_state, status_transitions, import_batches`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return client
}

func TestIntegrationImportLifecycle(t *testing.T) {
	ctx := context.Background()
	client := openIntegrationClient(t)

	snapshotAt := time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)
	batchID, err := client.BeginBatch(ctx, store.BatchMeta{SourceName: "Lawley_22052025.xlsx", SnapshotAt: snapshotAt})
	if err != nil {
		t.Fatalf("begin batch: %v", err)
	}
	if _, err := client.BeginBatch(ctx, store.BatchMeta{SourceName: "other.xlsx"}); !errors.Is(err, store.ErrImportInProgress) {
		t.Fatalf("expected ErrImportInProgress, got %v", err)
	}

	err = client.InChunk(ctx, func(tx store.Tx) error {
		rec := store.BusinessRecord{BusinessID: "P1", Status: "Home Installation: Installed", Attributes: map[string]string{"pon": "12"}, BatchID: batchID}
		if err := tx.UpsertCurrent(ctx, rec, 0); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: "P1", ToStatus: rec.Status, ObservedAt: snapshotAt, Classification: lattice.ClassNormal, Severity: lattice.SeverityNone, BatchID: batchID})
	})
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	err = client.InChunk(ctx, func(tx store.Tx) error {
		current, err := tx.GetCurrentMany(ctx, []string{"P1"})
		if err != nil {
			return err
		}
		prev := current["P1"]
		if prev == nil {
			t.Fatalf("expected P1 in current state")
		}
		next := *prev
		next.Status = "Home Installation: In Progress"
		if err := tx.UpsertCurrent(ctx, next, prev.Version); err != nil {
			return err
		}
		from := prev.Status
		return tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: "P1", FromStatus: &from, ToStatus: next.Status, ObservedAt: snapshotAt, Classification: lattice.ClassRevert, Severity: lattice.SeverityLow, Distance: 1, BatchID: batchID})
	})
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}

	rec, err := client.GetCurrent(ctx, "P1")
	if err != nil || rec == nil {
		t.Fatalf("get current: %v %v", rec, err)
	}
	if rec.Version != 2 || rec.Attributes["pon"] != "12" || rec.BatchID != batchID {
		t.Fatalf("unexpected record: %+v", rec)
	}

	history, err := client.ListTransitions(ctx, store.TransitionFilter{BatchID: batchID})
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(history) != 2 || history[0].FromStatus != nil || history[1].Classification != lattice.ClassRevert {
		t.Fatalf("unexpected history: %+v", history)
	}

	if _, err := client.pool.Exec(ctx, `DELETE FROM status_transitions`); err == nil {
		t.Fatalf("expected history delete to be rejected")
	}

	if err := client.CompleteBatch(ctx, batchID, store.BatchStats{TotalRows: 2, New: 1, Updated: 1, Reverts: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := client.FailBatch(ctx, batchID, "late", store.BatchStats{}); !errors.Is(err, store.ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed, got %v", err)
	}
	if err := client.FailBatch(ctx, uuid.NewString(), "missing", store.BatchStats{}); !errors.Is(err, store.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}

	batch, err := client.GetBatch(ctx, batchID)
	if err != nil || batch == nil {
		t.Fatalf("get batch: %v %v", batch, err)
	}
	if batch.Status != store.BatchCompleted || batch.Stats.Reverts != 1 || !batch.SnapshotAt.Equal(snapshotAt) {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	mismatches, err := client.ListHistoryMismatches(ctx)
	if err != nil || len(mismatches) != 0 {
		t.Fatalf("expected no mismatches, got %v %v", mismatches, err)
	}
	orphans, err := client.ListCurrentWithoutHistory(ctx)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("expected no orphans, got %v %v", orphans, err)
	}
}

func TestIntegrationChunkRollback(t *testing.T) {
	ctx := context.Background()
	client := openIntegrationClient(t)
	batchID := uuid.NewString()

	err := client.InChunk(ctx, func(tx store.Tx) error {
		if err := tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P9", Status: "A", BatchID: batchID}, 0); err != nil {
			return err
		}
		return errors.New("injected")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if rec, _ := client.GetCurrent(ctx, "P9"); rec != nil {
		t.Fatalf("expected rollback, found %+v", rec)
	}

	rows, err := client.RunSQL(ctx, "SELECT COUNT(*) AS n FROM current_state", nil)
	if err != nil {
		t.Fatalf("run sql: %v", err)
	}
	if rows[0]["n"] != int64(0) {
		t.Fatalf("expected zero rows, got %v", rows[0]["n"])
	}
}
