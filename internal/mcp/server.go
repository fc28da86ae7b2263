package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

// Querier is the read side of the state store the tools expose.
type Querier interface {
	GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error)
	ListTransitions(ctx context.Context, filter store.TransitionFilter) ([]store.TransitionRecord, error)
	GetBatch(ctx context.Context, batchID string) (*store.ImportBatch, error)
	ListBatches(ctx context.Context, limit int) ([]store.ImportBatch, error)
}

type Server struct {
	lattice *lattice.Lattice
	db      Querier
	mcp     *sdk.Server
}

func NewServer(lat *lattice.Lattice, db Querier, version string) *Server {
	s := &Server{
		lattice: lat,
		db:      db,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "statusdrift",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
