// Package report turns a diff result into a summary and renders it.
package report

import (
	"sort"
	"time"

	"statusdrift/internal/diff"
	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

// maxErrorLines caps the line numbers listed per error reason.
const maxErrorLines = 20

type Report struct {
	BatchID         string            `json:"batch_id"`
	Source          string            `json:"source,omitempty"`
	DryRun          bool              `json:"dry_run"`
	Status          store.BatchStatus `json:"status"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	ObservedAt      time.Time         `json:"observed_at"`
	ChunksCommitted int               `json:"chunks_committed"`
	Counts          diff.Counts       `json:"counts"`
	Severities      []SeverityCount   `json:"severities"`
	Reverts         []diff.Change     `json:"reverts"`
	Bypasses        []diff.Change     `json:"bypasses"`
	Errors          []ErrorGroup      `json:"errors"`
}

type SeverityCount struct {
	Severity lattice.Severity `json:"severity"`
	Reverts  int              `json:"reverts"`
	Bypasses int              `json:"bypasses"`
}

// ErrorGroup collects skipped rows that share a reason.
type ErrorGroup struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
	Lines  []int  `json:"lines"`
}

// Summarize is pure; it copies what it keeps from result.
func Summarize(result *diff.Result) Report {
	r := Report{
		BatchID:         result.BatchID,
		Source:          result.Source,
		DryRun:          result.DryRun,
		Status:          result.Status,
		FailureReason:   result.FailureReason,
		ObservedAt:      result.ObservedAt,
		ChunksCommitted: result.ChunksCommitted,
		Counts:          result.Counts,
		Reverts:         sortedChanges(result.Reverts),
		Bypasses:        sortedChanges(result.Bypasses),
		Errors:          groupErrors(result.RowErrors),
	}

	bySeverity := make(map[lattice.Severity]*SeverityCount)
	for _, sev := range lattice.Severities {
		if sev == lattice.SeverityNone {
			continue
		}
		bySeverity[sev] = &SeverityCount{Severity: sev}
	}
	for _, c := range r.Reverts {
		if sc, ok := bySeverity[c.Transition.Severity]; ok {
			sc.Reverts++
		}
	}
	for _, c := range r.Bypasses {
		if sc, ok := bySeverity[c.Transition.Severity]; ok {
			sc.Bypasses++
		}
	}
	for i := len(lattice.Severities) - 1; i >= 0; i-- {
		if sc, ok := bySeverity[lattice.Severities[i]]; ok {
			r.Severities = append(r.Severities, *sc)
		}
	}
	return r
}

// Completed is false for failed batches and for any batch that never
// closed.
func (r Report) Completed() bool {
	return r.Status == store.BatchCompleted
}

func severityRank(s lattice.Severity) int {
	for i, sev := range lattice.Severities {
		if sev == s {
			return i
		}
	}
	return -1
}

// sortedChanges orders the most severe first, then by business id.
func sortedChanges(changes []diff.Change) []diff.Change {
	out := append([]diff.Change(nil), changes...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := severityRank(out[i].Transition.Severity), severityRank(out[j].Transition.Severity)
		if ri != rj {
			return ri > rj
		}
		return out[i].BusinessID < out[j].BusinessID
	})
	return out
}

func groupErrors(rowErrors []diff.RowError) []ErrorGroup {
	index := make(map[string]int)
	var groups []ErrorGroup
	for _, re := range rowErrors {
		i, ok := index[re.Reason]
		if !ok {
			i = len(groups)
			index[re.Reason] = i
			groups = append(groups, ErrorGroup{Reason: re.Reason})
		}
		groups[i].Count++
		if len(groups[i].Lines) < maxErrorLines {
			groups[i].Lines = append(groups[i].Lines, re.Line)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	return groups
}
