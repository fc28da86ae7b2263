package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"statusdrift/internal/store"
)

func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Manage import batches",
	}
	cmd.AddCommand(batchesAbortCmd())
	return cmd
}

func batchesAbortCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abort <batch-id>",
		Short: "Mark a stuck in-progress batch as failed so imports can resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := args[0]
			return withStore(cmd, func(ctx context.Context, db appStore) error {
				batch, err := db.GetBatch(ctx, batchID)
				if err != nil {
					return withCode(exitDB, err)
				}
				if batch == nil {
					return withCode(exitUsage, fmt.Errorf("batch %s: %w", batchID, store.ErrBatchNotFound))
				}
				err = db.FailBatch(ctx, batchID, reason, batch.Stats)
				switch {
				case errors.Is(err, store.ErrBatchClosed):
					return withCode(exitUsage, fmt.Errorf("batch %s is already %s: %w", batchID, batch.Status, err))
				case err != nil:
					return withCode(exitDBWrite, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s marked failed.\n", batchID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "aborted by operator", "Failure reason recorded on the batch")
	return cmd
}
