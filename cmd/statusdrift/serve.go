package main

import (
	"github.com/spf13/cobra"

	"statusdrift/internal/mcp"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	server := mcp.NewServer(a.lattice, db, version)
	return server.Run(ctx, &sdk.StdioTransport{})
}
