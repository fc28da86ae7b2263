package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"statusdrift/internal/diff"
	"statusdrift/internal/lattice"
	"statusdrift/internal/logging"
	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
	"statusdrift/internal/store/memory"
)

// Compare diffs two snapshot files without touching a database. The older
// file seeds an in-memory store and the newer one is classified against it.
// DryRun and SourceName in opts are ignored.
func Compare(ctx context.Context, oldPath, newPath string, lat *lattice.Lattice, opts Options) (*diff.Result, error) {
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

	var baseline, current *snapshot.Snapshot
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := snapshot.Open(oldPath, aliases)
		baseline = s
		return err
	})
	g.Go(func() error {
		s, err := snapshot.Open(newPath, aliases)
		current = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	db := memory.New(memory.WithClock(now))
	seed := func(s *snapshot.Snapshot, at time.Time, observer diff.Observer) (*diff.Result, error) {
		batchID, err := db.BeginBatch(ctx, store.BatchMeta{SourceName: s.Name(), SnapshotAt: at})
		if err != nil {
			return nil, err
		}
		engine := diff.New(db, lat, diff.Options{
			ChunkSize:  opts.ChunkSize,
			Policy:     opts.Policy,
			ObservedAt: at,
			Observer:   observer,
			Logger:     log.WithField(logging.FieldSource, s.Name()),
		})
		result, err := engine.Run(ctx, batchID, s.Rows())
		if err != nil {
			return result, err
		}
		result.Source = s.Name()
		return result, db.CompleteBatch(ctx, batchID, result.Stats())
	}

	if _, err := seed(baseline, SnapshotTime(oldPath, time.Time{}, now), nil); err != nil {
		return nil, fmt.Errorf("loading baseline %s: %w", filepath.Base(oldPath), err)
	}
	result, err := seed(current, SnapshotTime(newPath, opts.SnapshotAt, now), opts.Observer)
	if result != nil {
		result.DryRun = true
	}
	if err != nil {
		return result, fmt.Errorf("comparing %s: %w", filepath.Base(newPath), err)
	}
	return result, nil
}
