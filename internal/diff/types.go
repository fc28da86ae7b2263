package diff

import (
	"fmt"
	"time"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeError     Outcome = "error"
)

// Policy decides which field differences count as a change.
type Policy string

const (
	// PolicyStatus treats only a status difference as a change.
	PolicyStatus Policy = "status"
	// PolicyTracked also compares address and assignee.
	PolicyTracked Policy = "tracked"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStatus:
		return PolicyStatus, nil
	case PolicyTracked:
		return PolicyTracked, nil
	default:
		return "", fmt.Errorf("unknown change policy %q", s)
	}
}

type Counts struct {
	Total      int `json:"total_rows"`
	New        int `json:"new"`
	Unchanged  int `json:"unchanged"`
	Updated    int `json:"updated"`
	Reverts    int `json:"reverts"`
	Bypasses   int `json:"bypasses"`
	Unknown    int `json:"unknown"`
	Errors     int `json:"errors"`
	Duplicates int `json:"duplicates"`
}

func (c *Counts) add(o Counts) {
	c.Total += o.Total
	c.New += o.New
	c.Unchanged += o.Unchanged
	c.Updated += o.Updated
	c.Reverts += o.Reverts
	c.Bypasses += o.Bypasses
	c.Unknown += o.Unknown
	c.Errors += o.Errors
	c.Duplicates += o.Duplicates
}

// Change is one committed write. From is nil for a newly observed record.
type Change struct {
	BusinessID string             `json:"business_id"`
	From       *string            `json:"from"`
	To         string             `json:"to"`
	Outcome    Outcome            `json:"outcome"`
	Transition lattice.Transition `json:"transition"`
	Line       int                `json:"line"`
}

// RowError is a row that was skipped. It never aborts the import.
type RowError struct {
	Line       int    `json:"line"`
	BusinessID string `json:"business_id,omitempty"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

func (e *RowError) Error() string {
	msg := fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	if e.BusinessID != "" {
		msg = fmt.Sprintf("line %d (%s): %s", e.Line, e.BusinessID, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Row error reasons.
const (
	ReasonMissingID    = "missing business_id"
	ReasonUnreadable   = "unreadable row"
	ReasonBadLatitude  = "unparseable latitude"
	ReasonBadLongitude = "unparseable longitude"
)

type Result struct {
	BatchID         string            `json:"batch_id"`
	Source          string            `json:"source,omitempty"`
	DryRun          bool              `json:"dry_run,omitempty"`
	Counts          Counts            `json:"counts"`
	RowErrors       []RowError        `json:"row_errors"`
	Reverts         []Change          `json:"reverts"`
	Bypasses        []Change          `json:"bypasses"`
	ChunksCommitted int               `json:"chunks_committed"`
	Status          store.BatchStatus `json:"status"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	ObservedAt      time.Time         `json:"observed_at"`
}

// Stats converts the counts into the audit-row shape.
func (r *Result) Stats() store.BatchStats {
	return store.BatchStats{
		TotalRows:  r.Counts.Total,
		New:        r.Counts.New,
		Updated:    r.Counts.Updated,
		Unchanged:  r.Counts.Unchanged,
		Errors:     r.Counts.Errors,
		Reverts:    r.Counts.Reverts,
		Bypasses:   r.Counts.Bypasses,
		Duplicates: r.Counts.Duplicates,
	}
}

// Observer receives progress from a running engine. Methods are called
// from the engine goroutine.
type Observer interface {
	Started(total int)
	ChunkCommitted(rows int, elapsed time.Duration)
	RowClassified(outcome Outcome, transition lattice.Transition)
	RowRejected(reason string)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) Started(int)                               {}
func (NopObserver) ChunkCommitted(int, time.Duration)         {}
func (NopObserver) RowClassified(Outcome, lattice.Transition) {}
func (NopObserver) RowRejected(string)                        {}

// Observers fans every call out to each member.
type Observers []Observer

func (o Observers) Started(total int) {
	for _, obs := range o {
		obs.Started(total)
	}
}

func (o Observers) ChunkCommitted(rows int, elapsed time.Duration) {
	for _, obs := range o {
		obs.ChunkCommitted(rows, elapsed)
	}
}

func (o Observers) RowClassified(outcome Outcome, transition lattice.Transition) {
	for _, obs := range o {
		obs.RowClassified(outcome, transition)
	}
}

func (o Observers) RowRejected(reason string) {
	for _, obs := range o {
		obs.RowRejected(reason)
	}
}
