package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

type GetRecordInput struct {
	BusinessID string `json:"business_id" jsonschema:"business identifier of the record"`
}

type ListTransitionsInput struct {
	BusinessID     string `json:"business_id,omitempty" jsonschema:"restrict to one record"`
	BatchID        string `json:"batch_id,omitempty" jsonschema:"restrict to one import batch"`
	Classification string `json:"classification,omitempty" jsonschema:"normal, revert, bypass, or unknown"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum rows returned"`
}

type ListBatchesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum batches returned, newest first"`
}

type GetBatchInput struct {
	BatchID string `json:"batch_id" jsonschema:"import batch id"`
}

type GetLatticeInput struct{}

type RecordOutput struct {
	BusinessID string            `json:"business_id"`
	Status     string            `json:"status"`
	Address    string            `json:"address,omitempty"`
	Assignee   string            `json:"assignee,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Version    int64             `json:"version"`
	BatchID    string            `json:"batch_id"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type TransitionOutput struct {
	BusinessID     string    `json:"business_id"`
	FromStatus     *string   `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	ObservedAt     time.Time `json:"observed_at"`
	Classification string    `json:"classification"`
	Severity       string    `json:"severity"`
	Distance       int       `json:"distance"`
	BatchID        string    `json:"batch_id"`
}

type ListTransitionsOutput struct {
	Transitions []TransitionOutput `json:"transitions"`
}

type BatchOutput struct {
	ID            string           `json:"id"`
	SourceName    string           `json:"source_name"`
	ImportedAt    time.Time        `json:"imported_at"`
	SnapshotAt    time.Time        `json:"snapshot_at"`
	Status        string           `json:"status"`
	FailureReason string           `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Stats         store.BatchStats `json:"stats"`
}

type ListBatchesOutput struct {
	Batches []BatchOutput `json:"batches"`
}

type StageOutput struct {
	Name    string   `json:"name"`
	Rank    int      `json:"rank"`
	Aliases []string `json:"aliases,omitempty"`
}

type LatticeOutput struct {
	Stages []StageOutput `json:"stages"`
}

var errNotFound = errors.New("not found")

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_record",
		Description: "Return the current state of one record",
	}, s.handleGetRecord)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_transitions",
		Description: "List status transitions oldest first, filtered by record, batch or classification",
	}, s.handleListTransitions)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_batches",
		Description: "List import batches, newest first",
	}, s.handleListBatches)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_batch",
		Description: "Return one import batch with its counts",
	}, s.handleGetBatch)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_lattice",
		Description: "Return the ordered workflow stages used for classification",
	}, s.handleGetLattice)
}

func (s *Server) handleGetRecord(ctx context.Context, req *sdk.CallToolRequest, input GetRecordInput) (*sdk.CallToolResult, RecordOutput, error) {
	if input.BusinessID == "" {
		return nil, RecordOutput{}, fmt.Errorf("business_id is required")
	}
	rec, err := s.db.GetCurrent(ctx, input.BusinessID)
	if err != nil {
		return nil, RecordOutput{}, err
	}
	if rec == nil {
		return nil, RecordOutput{}, fmt.Errorf("record %q: %w", input.BusinessID, errNotFound)
	}
	return nil, recordOutputFromStore(rec), nil
}

func (s *Server) handleListTransitions(ctx context.Context, req *sdk.CallToolRequest, input ListTransitionsInput) (*sdk.CallToolResult, ListTransitionsOutput, error) {
	class := lattice.Classification(input.Classification)
	switch class {
	case "", lattice.ClassNormal, lattice.ClassRevert, lattice.ClassBypass, lattice.ClassUnknown:
	default:
		return nil, ListTransitionsOutput{}, fmt.Errorf("unknown classification %q", input.Classification)
	}
	rows, err := s.db.ListTransitions(ctx, store.TransitionFilter{
		BusinessID:     input.BusinessID,
		BatchID:        input.BatchID,
		Classification: class,
		Limit:          input.Limit,
	})
	if err != nil {
		return nil, ListTransitionsOutput{}, err
	}

	output := make([]TransitionOutput, 0, len(rows))
	for _, row := range rows {
		output = append(output, transitionOutputFromStore(row))
	}
	return nil, ListTransitionsOutput{Transitions: output}, nil
}

func (s *Server) handleListBatches(ctx context.Context, req *sdk.CallToolRequest, input ListBatchesInput) (*sdk.CallToolResult, ListBatchesOutput, error) {
	batches, err := s.db.ListBatches(ctx, input.Limit)
	if err != nil {
		return nil, ListBatchesOutput{}, err
	}

	output := make([]BatchOutput, 0, len(batches))
	for _, b := range batches {
		output = append(output, batchOutputFromStore(b))
	}
	return nil, ListBatchesOutput{Batches: output}, nil
}

func (s *Server) handleGetBatch(ctx context.Context, req *sdk.CallToolRequest, input GetBatchInput) (*sdk.CallToolResult, BatchOutput, error) {
	if input.BatchID == "" {
		return nil, BatchOutput{}, fmt.Errorf("batch_id is required")
	}
	batch, err := s.db.GetBatch(ctx, input.BatchID)
	if err != nil {
		return nil, BatchOutput{}, err
	}
	if batch == nil {
		return nil, BatchOutput{}, fmt.Errorf("batch %q: %w", input.BatchID, errNotFound)
	}
	return nil, batchOutputFromStore(*batch), nil
}

func (s *Server) handleGetLattice(ctx context.Context, req *sdk.CallToolRequest, input GetLatticeInput) (*sdk.CallToolResult, LatticeOutput, error) {
	return nil, latticeOutput(s.lattice), nil
}

func latticeOutput(lat *lattice.Lattice) LatticeOutput {
	if lat == nil {
		return LatticeOutput{}
	}
	stages := lat.Stages()
	out := LatticeOutput{Stages: make([]StageOutput, 0, len(stages))}
	for _, stage := range stages {
		out.Stages = append(out.Stages, StageOutput{Name: stage.Name, Rank: stage.Rank, Aliases: stage.Aliases})
	}
	return out
}

func recordOutputFromStore(rec *store.BusinessRecord) RecordOutput {
	attrs := make(map[string]string, len(rec.Attributes))
	for key, value := range rec.Attributes {
		attrs[key] = value
	}
	return RecordOutput{
		BusinessID: rec.BusinessID,
		Status:     rec.Status,
		Address:    rec.Address,
		Assignee:   rec.Assignee,
		Attributes: attrs,
		Version:    rec.Version,
		BatchID:    rec.BatchID,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func transitionOutputFromStore(row store.TransitionRecord) TransitionOutput {
	return TransitionOutput{
		BusinessID:     row.BusinessID,
		FromStatus:     row.FromStatus,
		ToStatus:       row.ToStatus,
		ObservedAt:     row.ObservedAt,
		Classification: string(row.Classification),
		Severity:       string(row.Severity),
		Distance:       row.Distance,
		BatchID:        row.BatchID,
	}
}

func batchOutputFromStore(b store.ImportBatch) BatchOutput {
	return BatchOutput{
		ID:            b.ID,
		SourceName:    b.SourceName,
		ImportedAt:    b.ImportedAt,
		SnapshotAt:    b.SnapshotAt,
		Status:        string(b.Status),
		FailureReason: b.FailureReason,
		CompletedAt:   b.CompletedAt,
		Stats:         b.Stats,
	}
}
