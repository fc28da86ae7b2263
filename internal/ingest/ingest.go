// Package ingest runs one snapshot import end to end: open the batch, diff
// the file, and close the batch with its final counts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"statusdrift/internal/diff"
	"statusdrift/internal/lattice"
	"statusdrift/internal/logging"
	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
)

// Store is what an import needs from the state store.
type Store interface {
	diff.Chunker
	BeginBatch(ctx context.Context, meta store.BatchMeta) (string, error)
	CompleteBatch(ctx context.Context, batchID string, stats store.BatchStats) error
	FailBatch(ctx context.Context, batchID, reason string, stats store.BatchStats) error
}

// Options tune one import. SnapshotAt overrides the date parsed from the
// file name. DryRun classifies against the store and rolls every chunk back
// without writing a batch row.
type Options struct {
	SourceName string
	SnapshotAt time.Time
	DryRun     bool
	ChunkSize  int
	Policy     diff.Policy
	Aliases    snapshot.AliasTable
	Observer   diff.Observer
	Logger     *logrus.Entry
	Now        func() time.Time
}

var errDryRun = errors.New("dry run")

type dryRunStore struct {
	diff.Chunker
}

func (d dryRunStore) InChunk(ctx context.Context, fn func(tx store.Tx) error) error {
	err := d.Chunker.InChunk(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errDryRun
	})
	if errors.Is(err, errDryRun) {
		return nil
	}
	return err
}

func Run(ctx context.Context, path string, lat *lattice.Lattice, db Store, opts Options) (*diff.Result, error) {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	aliases := opts.Aliases
	if aliases == nil {
		aliases = snapshot.DefaultAliases()
	}

	source := opts.SourceName
	if source == "" {
		source = filepath.Base(path)
	}
	snapshotAt := SnapshotTime(path, opts.SnapshotAt, now)
	log = log.WithField(logging.FieldSource, source)

	var (
		batchID string
		chunker diff.Chunker = db
	)
	if opts.DryRun {
		batchID = uuid.NewString()
		chunker = dryRunStore{Chunker: db}
	} else {
		var err error
		batchID, err = db.BeginBatch(ctx, store.BatchMeta{SourceName: source, SnapshotAt: snapshotAt})
		if err != nil {
			return nil, fmt.Errorf("beginning import batch: %w", err)
		}
	}
	log = log.WithField(logging.FieldBatchID, batchID)
	log.Infof("importing snapshot taken %s", snapshotAt.Format(time.DateOnly))

	snap, err := snapshot.Open(path, aliases)
	if err != nil {
		result := &diff.Result{BatchID: batchID, Source: source, DryRun: opts.DryRun, ObservedAt: snapshotAt}
		return failBatch(ctx, db, log, result, opts.DryRun, err)
	}

	engine := diff.New(chunker, lat, diff.Options{
		ChunkSize:  opts.ChunkSize,
		Policy:     opts.Policy,
		ObservedAt: snapshotAt,
		Observer:   opts.Observer,
		Logger:     log,
	})
	result, err := engine.Run(ctx, batchID, snap.Rows())
	result.Source = source
	result.DryRun = opts.DryRun
	if err != nil {
		return failBatch(ctx, db, log, result, opts.DryRun, err)
	}

	if opts.DryRun {
		log.Info("dry run finished, nothing committed")
		return result, nil
	}
	if err := db.CompleteBatch(ctx, batchID, result.Stats()); err != nil {
		perr := &store.PersistenceError{Op: "completing import batch", BatchID: batchID, Err: err}
		return failBatch(ctx, db, log, result, false, perr)
	}
	return result, nil
}

// failBatch records the failure on the batch row. The batch is closed even
// when ctx was cancelled.
func failBatch(ctx context.Context, db Store, log *logrus.Entry, result *diff.Result, dryRun bool, cause error) (*diff.Result, error) {
	result.Status = store.BatchFailed
	result.FailureReason = cause.Error()
	log.WithError(cause).Error("import failed")
	if dryRun {
		return result, cause
	}
	if err := db.FailBatch(context.WithoutCancel(ctx), result.BatchID, cause.Error(), result.Stats()); err != nil {
		log.WithError(err).Error("marking batch failed")
		return result, errors.Join(cause, &store.PersistenceError{Op: "failing import batch", BatchID: result.BatchID, Err: err})
	}
	return result, cause
}

// SnapshotTime picks the explicit override, then the date in the file name,
// then the current time.
func SnapshotTime(path string, override time.Time, now func() time.Time) time.Time {
	if !override.IsZero() {
		return override
	}
	if at, ok := snapshot.DateFromFilename(path); ok {
		return at
	}
	return now()
}
