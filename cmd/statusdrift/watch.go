package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"statusdrift/internal/ingest"
	"statusdrift/internal/logging"
	"statusdrift/internal/report"
)

func watchCmd() *cobra.Command {
	var (
		format   string
		settle   time.Duration
		existing bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import snapshot files as they are dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], format, ingest.WatchOptions{Settle: settle, Existing: existing})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text, json or markdown")
	cmd.Flags().DurationVar(&settle, "settle", ingest.DefaultSettle, "Quiet period before a new file is imported")
	cmd.Flags().BoolVar(&existing, "existing", false, "Also import files already in the directory")
	return cmd
}

func runWatch(cmd *cobra.Command, dir, format string, watchOpts ingest.WatchOptions) error {
	ctx := cmd.Context()

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

	db, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.WithoutCancel(ctx))

	watchOpts.Logger = a.log
	a.log.WithField(logging.FieldSource, dir).Info("watching for snapshots")
	return ingest.Watch(ctx, dir, watchOpts, func(ctx context.Context, path string) error {
		result, err := ingest.Run(ctx, path, a.lattice, db, opts)
		if result != nil {
			if rerr := renderer.Render(cmd.OutOrStdout(), report.Summarize(result)); rerr != nil {
				a.log.WithError(rerr).Error("rendering report")
			}
		}
		return err
	})
}
