// Package diff compares a snapshot with stored current state and records
// every classified change.
package diff

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"

	"statusdrift/internal/lattice"
	"statusdrift/internal/logging"
	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
)

const DefaultChunkSize = 500

// Chunker is the slice of the store the engine writes through.
type Chunker interface {
	InChunk(ctx context.Context, fn func(tx store.Tx) error) error
}

type Options struct {
	ChunkSize  int
	Policy     Policy
	ObservedAt time.Time // zero means the time Run starts
	Observer   Observer
	Logger     *logrus.Entry
}

type Engine struct {
	store   Chunker
	lattice *lattice.Lattice
	opts    Options
}

func New(st Chunker, lat *lattice.Lattice, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Policy == "" {
		opts.Policy = PolicyStatus
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Engine{store: st, lattice: lat, opts: opts}
}

type pendingRow struct {
	record store.BusinessRecord
	line   int
}

// Run walks rows twice. The first pass finds the last row for every
// business id so that earlier duplicates are counted and never written.
// The second pass writes in chunks; each chunk commits or rolls back as a
// whole. On error the returned Result holds the committed chunks only.
func (e *Engine) Run(ctx context.Context, batchID string, rows iter.Seq2[snapshot.RawRow, error]) (*Result, error) {
	observedAt := e.opts.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	result := &Result{BatchID: batchID, ObservedAt: observedAt, Status: store.BatchInProgress}
	log := e.opts.Logger.WithField(logging.FieldBatchID, batchID)

	lastIndex, total, err := e.index(rows)
	if err != nil {
		return e.fail(result, err)
	}
	e.opts.Observer.Started(total)

	var (
		pending []pendingRow
		ordinal int
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import cancelled after %d chunks: %w", result.ChunksCommitted, err)
		}
		chunk := result.ChunksCommitted + 1
		started := time.Now()

		var (
			counts  Counts
			changes []Change
		)
		err := e.store.InChunk(ctx, func(tx store.Tx) error {
			counts, changes = Counts{}, changes[:0]
			return e.writeChunk(ctx, tx, batchID, observedAt, pending, &counts, &changes)
		})
		if err != nil {
			log.WithField(logging.FieldChunk, chunk).WithError(err).Error("chunk rolled back")
			return &store.PersistenceError{Op: fmt.Sprintf("writing chunk %d", chunk), BatchID: batchID, Err: err}
		}

		elapsed := time.Since(started)
		result.ChunksCommitted = chunk
		result.Counts.add(counts)
		for _, c := range changes {
			switch c.Transition.Classification {
			case lattice.ClassRevert:
				result.Reverts = append(result.Reverts, c)
			case lattice.ClassBypass:
				result.Bypasses = append(result.Bypasses, c)
			}
			e.opts.Observer.RowClassified(c.Outcome, c.Transition)
		}
		for i := 0; i < counts.Unchanged; i++ {
			e.opts.Observer.RowClassified(OutcomeUnchanged, lattice.Transition{})
		}
		e.opts.Observer.ChunkCommitted(len(pending), elapsed)
		log.WithFields(logrus.Fields{
			logging.FieldChunk: chunk,
			logging.FieldRows:  len(pending),
		}).Debugf("chunk committed in %s", elapsed)

		pending = pending[:0]
		return nil
	}

	for row, rowErr := range rows {
		if rowErr != nil {
			var readErr *snapshot.RowReadError
			if !errors.As(rowErr, &readErr) {
				return e.fail(result, rowErr)
			}
			result.Counts.Total++
			e.reject(result, log, RowError{Line: readErr.Line, Reason: ReasonUnreadable, Err: readErr.Err})
			continue
		}

		ordinal++
		result.Counts.Total++

		id := row.BusinessID()
		if id == "" {
			e.reject(result, log, RowError{Line: row.Line, Reason: ReasonMissingID})
			continue
		}
		if lastIndex[id] != ordinal {
			result.Counts.Duplicates++
			e.opts.Observer.RowClassified(OutcomeDuplicate, lattice.Transition{})
			continue
		}

		rec, bad := toRecord(id, row)
		if bad != nil {
			e.reject(result, log, *bad)
			continue
		}
		pending = append(pending, pendingRow{record: rec, line: row.Line})

		if len(pending) >= e.opts.ChunkSize {
			if err := flush(); err != nil {
				return e.fail(result, err)
			}
		}
	}
	if err := flush(); err != nil {
		return e.fail(result, err)
	}

	result.Status = store.BatchCompleted
	log.WithField(logging.FieldRows, result.Counts.Total).Infof(
		"diff finished: %d new, %d updated, %d unchanged, %d reverts, %d bypasses, %d errors",
		result.Counts.New, result.Counts.Updated, result.Counts.Unchanged,
		result.Counts.Reverts, result.Counts.Bypasses, result.Counts.Errors)
	return result, nil
}

// index records, for each business id, the ordinal of its last row among
// the successfully read rows, and counts every row including unreadable ones.
func (e *Engine) index(rows iter.Seq2[snapshot.RawRow, error]) (map[string]int, int, error) {
	lastIndex := make(map[string]int)
	var ordinal, total int
	for row, err := range rows {
		if err != nil {
			var readErr *snapshot.RowReadError
			if errors.As(err, &readErr) {
				total++
				continue
			}
			return nil, 0, err
		}
		ordinal++
		total++
		if id := row.BusinessID(); id != "" {
			lastIndex[id] = ordinal
		}
	}
	return lastIndex, total, nil
}

func (e *Engine) writeChunk(ctx context.Context, tx store.Tx, batchID string, observedAt time.Time, pending []pendingRow, counts *Counts, changes *[]Change) error {
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.record.BusinessID
	}
	current, err := tx.GetCurrentMany(ctx, ids)
	if err != nil {
		return err
	}

	for _, p := range pending {
		rec := p.record
		rec.BatchID = batchID
		prev := current[rec.BusinessID]

		if prev == nil {
			if err := tx.UpsertCurrent(ctx, rec, 0); err != nil {
				return err
			}
			tr := e.lattice.Observe(rec.Status)
			if err := tx.AppendTransition(ctx, store.TransitionRecord{
				BusinessID:     rec.BusinessID,
				ToStatus:       rec.Status,
				ObservedAt:     observedAt,
				Classification: tr.Classification,
				Severity:       tr.Severity,
				BatchID:        batchID,
			}); err != nil {
				return err
			}
			counts.New++
			if tr.Classification == lattice.ClassUnknown {
				counts.Unknown++
			}
			*changes = append(*changes, Change{
				BusinessID: rec.BusinessID, To: rec.Status, Outcome: OutcomeNew, Transition: tr, Line: p.line,
			})
			continue
		}

		if !e.changed(prev, rec) {
			counts.Unchanged++
			continue
		}

		tr := e.lattice.Classify(prev.Status, rec.Status)
		if err := tx.UpsertCurrent(ctx, rec, prev.Version); err != nil {
			return err
		}
		from := prev.Status
		if err := tx.AppendTransition(ctx, store.TransitionRecord{
			BusinessID:     rec.BusinessID,
			FromStatus:     &from,
			ToStatus:       rec.Status,
			ObservedAt:     observedAt,
			Classification: tr.Classification,
			Severity:       tr.Severity,
			Distance:       tr.Distance,
			BatchID:        batchID,
		}); err != nil {
			return err
		}

		counts.Updated++
		switch tr.Classification {
		case lattice.ClassRevert:
			counts.Reverts++
		case lattice.ClassBypass:
			counts.Bypasses++
		case lattice.ClassUnknown:
			counts.Unknown++
		}
		*changes = append(*changes, Change{
			BusinessID: rec.BusinessID, From: &from, To: rec.Status, Outcome: OutcomeUpdated, Transition: tr, Line: p.line,
		})
	}
	return nil
}

// changed applies the configured policy. Statuses that differ only in case,
// spacing or by lattice alias are equal.
func (e *Engine) changed(prev *store.BusinessRecord, next store.BusinessRecord) bool {
	if !e.sameStatus(prev.Status, next.Status) {
		return true
	}
	if e.opts.Policy == PolicyTracked {
		return prev.Address != next.Address || prev.Assignee != next.Assignee
	}
	return false
}

func (e *Engine) sameStatus(a, b string) bool {
	if lattice.Normalize(a) == lattice.Normalize(b) {
		return true
	}
	ca, okA := e.lattice.Canonical(a)
	cb, okB := e.lattice.Canonical(b)
	return okA && okB && ca == cb
}

func (e *Engine) reject(result *Result, log *logrus.Entry, rowErr RowError) {
	result.Counts.Errors++
	result.RowErrors = append(result.RowErrors, rowErr)
	e.opts.Observer.RowRejected(rowErr.Reason)
	log.WithField(logging.FieldBusinessID, rowErr.BusinessID).Warn(rowErr.Error())
}

func (e *Engine) fail(result *Result, err error) (*Result, error) {
	result.Status = store.BatchFailed
	result.FailureReason = err.Error()
	return result, err
}
