// Package validate checks that stored current state, history and the batch
// audit trail agree with each other and with the lattice.
package validate

import (
	"context"
	"fmt"
	"time"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeCurrentWithoutHistory = "current_without_history"
	codeHistoryMismatch       = "history_mismatch"
	codeUnknownStatus         = "unknown_status"
	codeStaleBatch            = "stale_batch"
)

// DefaultStaleAfter is how long a batch may stay in progress before it is
// reported.
const DefaultStaleAfter = 2 * time.Hour

// batchScanLimit bounds how many recent batches are checked for staleness.
const batchScanLimit = 50

type Checker interface {
	ListCurrentWithoutHistory(ctx context.Context) ([]string, error)
	ListHistoryMismatches(ctx context.Context) ([]store.HistoryMismatch, error)
	ListStatusCounts(ctx context.Context) ([]store.StatusCount, error)
	ListBatches(ctx context.Context, limit int) ([]store.ImportBatch, error)
}

type Issue struct {
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	BusinessID string   `json:"business_id,omitempty"`
	BatchID    string   `json:"batch_id,omitempty"`
	Status     string   `json:"status,omitempty"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

func (r *Report) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

type Options struct {
	Now        time.Time
	StaleAfter time.Duration
}

func Run(ctx context.Context, lat *lattice.Lattice, checker Checker, opts Options) (*Report, error) {
	if lat == nil {
		return nil, fmt.Errorf("lattice is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	issues := make([]Issue, 0)

	orphans, err := checker.ListCurrentWithoutHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("list current state without history: %w", err)
	}
	for _, id := range orphans {
		issues = append(issues, Issue{
			Severity:   SeverityError,
			Code:       codeCurrentWithoutHistory,
			Message:    "current state row has no transition history",
			BusinessID: id,
		})
	}

	mismatches, err := checker.ListHistoryMismatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list history mismatches: %w", err)
	}
	for _, m := range mismatches {
		issues = append(issues, Issue{
			Severity:   SeverityError,
			Code:       codeHistoryMismatch,
			Message:    fmt.Sprintf("current status %q but latest transition ends at %q", m.CurrentStatus, m.HistoryStatus),
			BusinessID: m.BusinessID,
			Status:     m.CurrentStatus,
		})
	}

	counts, err := checker.ListStatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	for _, sc := range counts {
		if sc.Status == "" || lat.Contains(sc.Status) {
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeUnknownStatus,
			Message:  fmt.Sprintf("%d records have a status outside the lattice", sc.Count),
			Status:   sc.Status,
		})
	}

	batches, err := checker.ListBatches(ctx, batchScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	for _, b := range batches {
		if b.Status != store.BatchInProgress {
			continue
		}
		age := opts.Now.Sub(b.ImportedAt)
		if age < opts.StaleAfter {
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeStaleBatch,
			Message:  fmt.Sprintf("batch for %s has been in progress for %s; abort it to unblock imports", b.SourceName, age.Round(time.Minute)),
			BatchID:  b.ID,
		})
	}

	return &Report{Issues: issues}, nil
}
