package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"statusdrift/internal/config"
	"statusdrift/internal/diff"
	"statusdrift/internal/ingest"
	"statusdrift/internal/metrics"
	"statusdrift/internal/report"
)

type importOptions struct {
	snapshotDate string
	sourceName   string
	format       string
	metricsFile  string
	chunkSize    int
	dryRun       bool
	progress     bool
}

func importCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import <snapshot>",
		Short: "Import a snapshot file and report status drift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.snapshotDate, "snapshot-date", "", "Snapshot date (YYYY-MM-DD); defaults to the date in the file name")
	cmd.Flags().StringVar(&opts.sourceName, "source-name", "", "Source name recorded on the batch; defaults to the file name")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Report format: text, json or markdown")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write import metrics in Prometheus textfile format")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Rows per transaction; overrides import.chunk_size")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Classify against the store without committing anything")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Show a progress bar when stderr is a terminal")
	return cmd
}

func runImport(cmd *cobra.Command, path string, opts importOptions) error {
	ctx := cmd.Context()

	renderer, err := report.NewRenderer(opts.format)
	if err != nil {
		return withCode(exitUsage, err)
	}
	snapshotAt, err := parseSnapshotDate(opts.snapshotDate)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if opts.chunkSize < 0 || opts.chunkSize > config.MaxChunkSize {
		return withCode(exitUsage, fmt.Errorf("--chunk-size must be between 1 and %d", config.MaxChunkSize))
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ingestOpts, err := a.ingestOptions(opts.chunkSize)
	if err != nil {
		return err
	}
	ingestOpts.SourceName = opts.sourceName
	ingestOpts.SnapshotAt = snapshotAt
	ingestOpts.DryRun = opts.dryRun

	db, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	recorder := metrics.New()
	observers := diff.Observers{recorder}
	var bar *progressObserver
	if opts.progress {
		if bar = newProgress(os.Stderr); bar != nil {
			observers = append(observers, bar)
		}
	}
	ingestOpts.Observer = observers

	result, runErr := ingest.Run(ctx, path, a.lattice, db, ingestOpts)
	if bar != nil {
		bar.Finish()
	}
	if result != nil {
		recorder.BatchFinished(result.Status)
		if err := renderer.Render(cmd.OutOrStdout(), report.Summarize(result)); err != nil {
			a.log.WithError(err).Error("rendering report")
		}
	}
	if opts.metricsFile != "" {
		if err := recorder.WriteTextfile(opts.metricsFile); err != nil {
			a.log.WithError(err).Warn("writing metrics file")
		}
	}
	return importExit(runErr)
}

// ingestOptions carries config-level import settings; a positive chunkSize
// overrides the configured one.
func (a *app) ingestOptions(chunkSize int) (ingest.Options, error) {
	policy, err := diff.ParsePolicy(a.cfg.Import.ChangePolicy)
	if err != nil {
		return ingest.Options{}, withCode(exitUsage, err)
	}
	if chunkSize <= 0 {
		chunkSize = a.cfg.Import.ChunkSize
	}
	return ingest.Options{
		ChunkSize: chunkSize,
		Policy:    policy,
		Aliases:   a.cfg.Aliases(),
		Logger:    a.log,
	}, nil
}

func parseSnapshotDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	at, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --snapshot-date %q, expected YYYY-MM-DD", value)
	}
	return at, nil
}
