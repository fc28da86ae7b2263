package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

type mockQuerier struct {
	record         *store.BusinessRecord
	transitions    []store.TransitionRecord
	batches        []store.ImportBatch
	transitionsErr error

	lastGetID      string
	lastFilter     store.TransitionFilter
	lastLimit      int
	lastGetBatchID string
}

func (m *mockQuerier) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	m.lastGetID = businessID
	return m.record, nil
}

func (m *mockQuerier) ListTransitions(ctx context.Context, filter store.TransitionFilter) ([]store.TransitionRecord, error) {
	m.lastFilter = filter
	return m.transitions, m.transitionsErr
}

func (m *mockQuerier) GetBatch(ctx context.Context, batchID string) (*store.ImportBatch, error) {
	m.lastGetBatchID = batchID
	for _, b := range m.batches {
		if b.ID == batchID {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *mockQuerier) ListBatches(ctx context.Context, limit int) ([]store.ImportBatch, error) {
	m.lastLimit = limit
	return m.batches, nil
}

func TestGetRecord(t *testing.T) {
	q := &mockQuerier{record: &store.BusinessRecord{
		BusinessID: "1001",
		Status:     "Pole Permission: Approved",
		Attributes: map[string]string{"pole_number": "LAW.P.A001"},
		Version:    3,
	}}
	server := NewServer(lattice.Default(), q, "test")

	_, output, err := server.handleGetRecord(context.Background(), nil, GetRecordInput{BusinessID: "1001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Status != "Pole Permission: Approved" || output.Version != 3 || output.Attributes["pole_number"] != "LAW.P.A001" {
		t.Fatalf("unexpected record output: %+v", output)
	}
	if q.lastGetID != "1001" {
		t.Fatalf("unexpected lookup id %q", q.lastGetID)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	server := NewServer(lattice.Default(), &mockQuerier{}, "test")

	if _, _, err := server.handleGetRecord(context.Background(), nil, GetRecordInput{BusinessID: "missing"}); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := server.handleGetRecord(context.Background(), nil, GetRecordInput{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestListTransitions(t *testing.T) {
	from := "Home Installation: Installed"
	q := &mockQuerier{transitions: []store.TransitionRecord{{
		BusinessID:     "1001",
		FromStatus:     &from,
		ToStatus:       "Pole Permission: Pending",
		ObservedAt:     time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC),
		Classification: lattice.ClassRevert,
		Severity:       lattice.SeverityCritical,
		Distance:       6,
	}}}
	server := NewServer(lattice.Default(), q, "test")

	_, output, err := server.handleListTransitions(context.Background(), nil, ListTransitionsInput{BatchID: "b1", Classification: "revert", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Transitions) != 1 || output.Transitions[0].Severity != "critical" || *output.Transitions[0].FromStatus != from {
		t.Fatalf("unexpected transitions output: %+v", output)
	}
	if q.lastFilter.BatchID != "b1" || q.lastFilter.Classification != lattice.ClassRevert || q.lastFilter.Limit != 10 {
		t.Fatalf("unexpected filter: %+v", q.lastFilter)
	}
}

func TestListTransitions_Errors(t *testing.T) {
	server := NewServer(lattice.Default(), &mockQuerier{}, "test")
	if _, _, err := server.handleListTransitions(context.Background(), nil, ListTransitionsInput{Classification: "sideways"}); err == nil {
		t.Fatalf("expected error for unknown classification")
	}

	failing := NewServer(lattice.Default(), &mockQuerier{transitionsErr: errors.New("db down")}, "test")
	if _, _, err := failing.handleListTransitions(context.Background(), nil, ListTransitionsInput{}); err == nil {
		t.Fatalf("expected store error to surface")
	}
}

func TestBatches(t *testing.T) {
	q := &mockQuerier{batches: []store.ImportBatch{
		{ID: "b2", SourceName: "Lawley_23052025.xlsx", Status: store.BatchInProgress},
		{ID: "b1", SourceName: "Lawley_22052025.xlsx", Status: store.BatchCompleted, Stats: store.BatchStats{TotalRows: 12, Reverts: 2}},
	}}
	server := NewServer(lattice.Default(), q, "test")

	_, list, err := server.handleListBatches(context.Background(), nil, ListBatchesInput{Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Batches) != 2 || list.Batches[0].ID != "b2" || q.lastLimit != 5 {
		t.Fatalf("unexpected batches output: %+v", list)
	}

	_, batch, err := server.handleGetBatch(context.Background(), nil, GetBatchInput{BatchID: "b1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Status != "completed" || batch.Stats.Reverts != 2 {
		t.Fatalf("unexpected batch output: %+v", batch)
	}

	if _, _, err := server.handleGetBatch(context.Background(), nil, GetBatchInput{BatchID: "nope"}); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetLattice(t *testing.T) {
	server := NewServer(lattice.Default(), &mockQuerier{}, "test")

	_, output, err := server.handleGetLattice(context.Background(), nil, GetLatticeInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Stages) != 8 || output.Stages[0].Rank != 1 || output.Stages[7].Aliases[0] != "Home Installation: Completed" {
		t.Fatalf("unexpected lattice output: %+v", output)
	}
}
