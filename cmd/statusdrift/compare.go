package main

import (
	"github.com/spf13/cobra"

	"statusdrift/internal/ingest"
	"statusdrift/internal/report"
)

func compareCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "compare <old-snapshot> <new-snapshot>",
		Short: "Diff two snapshot files offline, without a database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, args[0], args[1], format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text, json or markdown")
	return cmd
}

func runCompare(cmd *cobra.Command, oldPath, newPath, format string) error {
	renderer, err := report.NewRenderer(format)
	if err != nil {
		return withCode(exitUsage, err)
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	opts, err := a.ingestOptions(0)
	if err != nil {
		return err
	}

	result, err := ingest.Compare(cmd.Context(), oldPath, newPath, a.lattice, opts)
	if err != nil {
		return importExit(err)
	}
	return renderer.Render(cmd.OutOrStdout(), report.Summarize(result))
}
