package store

import (
	"time"

	"statusdrift/internal/lattice"
)

type BusinessRecord struct {
	BusinessID string
	Status     string
	Address    string
	Assignee   string
	Attributes map[string]string
	Version    int64
	BatchID    string
	UpdatedAt  time.Time
}

// TransitionRecord is one row of the append-only history. A nil FromStatus
// marks the first sighting of a record.
type TransitionRecord struct {
	ID             int64
	BusinessID     string
	FromStatus     *string
	ToStatus       string
	ObservedAt     time.Time
	Classification lattice.Classification
	Severity       lattice.Severity
	Distance       int
	BatchID        string
}

type BatchStatus string

const (
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

type BatchMeta struct {
	SourceName string
	SnapshotAt time.Time
}

type BatchStats struct {
	TotalRows  int `json:"total_rows"`
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Errors     int `json:"errors"`
	Reverts    int `json:"reverts"`
	Bypasses   int `json:"bypasses"`
	Duplicates int `json:"duplicates"`
}

type ImportBatch struct {
	ID            string
	SourceName    string
	ImportedAt    time.Time
	SnapshotAt    time.Time
	Stats         BatchStats
	Status        BatchStatus
	FailureReason string
	CompletedAt   *time.Time
}

type TransitionFilter struct {
	BusinessID     string
	BatchID        string
	Classification lattice.Classification
	Limit          int
}

// HistoryMismatch is a current-state row whose latest transition ends on a
// different status.
type HistoryMismatch struct {
	BusinessID    string
	CurrentStatus string
	HistoryStatus string
}

type StatusCount struct {
	Status string
	Count  int
}
