package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect stored state from the CLI",
	}
	cmd.AddCommand(queryRecordCmd())
	cmd.AddCommand(queryHistoryCmd())
	cmd.AddCommand(queryBatchesCmd())
	cmd.AddCommand(querySQLCmd())
	return cmd
}

// withStore loads config, opens the store and runs fn against it.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, db appStore) error) error {
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
	return fn(ctx, db)
}

func queryRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <business-id>",
		Short: "Show the current state of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, db appStore) error {
				rec, err := db.GetCurrent(ctx, args[0])
				if err != nil {
					return withCode(exitDB, err)
				}
				if rec == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "No record found for %q.\n", args[0])
					return nil
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func printRecord(out io.Writer, rec *store.BusinessRecord) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "business_id:\t%s\n", rec.BusinessID)
	fmt.Fprintf(tw, "status:\t%s\n", rec.Status)
	if rec.Address != "" {
		fmt.Fprintf(tw, "address:\t%s\n", rec.Address)
	}
	if rec.Assignee != "" {
		fmt.Fprintf(tw, "assignee:\t%s\n", rec.Assignee)
	}
	fmt.Fprintf(tw, "version:\t%d\n", rec.Version)
	fmt.Fprintf(tw, "batch:\t%s\n", rec.BatchID)
	fmt.Fprintf(tw, "updated:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
	keys := make([]string, 0, len(rec.Attributes))
	for key := range rec.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(tw, "%s:\t%s\n", key, rec.Attributes[key])
	}
	tw.Flush()
}

func queryHistoryCmd() *cobra.Command {
	var (
		limit int
		class string
	)
	cmd := &cobra.Command{
		Use:   "history <business-id>",
		Short: "List the status transitions of one record, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, db appStore) error {
				rows, err := db.ListTransitions(ctx, store.TransitionFilter{
					BusinessID:     args[0],
					Classification: lattice.Classification(class),
					Limit:          limit,
				})
				if err != nil {
					return withCode(exitDB, err)
				}
				if len(rows) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No history for %q.\n", args[0])
					return nil
				}
				printTransitions(cmd.OutOrStdout(), rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows")
	cmd.Flags().StringVar(&class, "classification", "", "Only normal, revert, bypass or unknown transitions")
	return cmd
}

func printTransitions(out io.Writer, rows []store.TransitionRecord) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OBSERVED\tFROM\tTO\tCLASS\tSEVERITY\tBATCH")
	for _, row := range rows {
		from := "(new)"
		if row.FromStatus != nil {
			from = *row.FromStatus
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.ObservedAt.Format(time.DateOnly), from, row.ToStatus, row.Classification, row.Severity, row.BatchID)
	}
	tw.Flush()
}

func queryBatchesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List import batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, db appStore) error {
				batches, err := db.ListBatches(ctx, limit)
				if err != nil {
					return withCode(exitDB, err)
				}
				printBatches(cmd.OutOrStdout(), batches)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum batches")
	return cmd
}

func printBatches(out io.Writer, batches []store.ImportBatch) {
	if len(batches) == 0 {
		fmt.Fprintln(out, "No import batches.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tSNAPSHOT\tSTATUS\tROWS\tNEW\tUPDATED\tREVERTS\tBYPASSES\tERRORS")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			b.ID, b.SourceName, b.SnapshotAt.Format(time.DateOnly), b.Status,
			b.Stats.TotalRows, b.Stats.New, b.Stats.Updated, b.Stats.Reverts, b.Stats.Bypasses, b.Stats.Errors)
	}
	tw.Flush()
}

func querySQLCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Execute a read-only SQL query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withStore(cmd, func(ctx context.Context, db appStore) error {
				rows, err := db.RunSQL(ctx, query, sqlArgs(params))
				if errors.Is(err, store.ErrNotReadOnly) {
					return withCode(exitUsage, err)
				}
				if err != nil {
					return withCode(exitDB, err)
				}
				payload, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding result: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Positional query parameter (repeatable)")
	return cmd
}

func sqlArgs(params []string) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}
	return args
}
