package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"statusdrift/internal/validate"
)

func validateCmd() *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run consistency checks against the state store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, staleAfter)
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", validate.DefaultStaleAfter, "Report in-progress batches older than this")
	return cmd
}

func runValidate(cmd *cobra.Command, staleAfter time.Duration) error {
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

	report, err := validate.Run(ctx, a.lattice, db, validate.Options{StaleAfter: staleAfter})
	if err != nil {
		return withCode(exitDB, err)
	}

	out := cmd.OutOrStdout()
	var errorIssues []validate.Issue
	var warnIssues []validate.Issue
	for _, issue := range report.Issues {
		switch issue.Severity {
		case validate.SeverityError:
			errorIssues = append(errorIssues, issue)
		case validate.SeverityWarn:
			warnIssues = append(warnIssues, issue)
		}
	}

	if len(errorIssues) == 0 && len(warnIssues) == 0 {
		fmt.Fprintln(out, "No issues found.")
		return nil
	}

	if len(errorIssues) > 0 {
		fmt.Fprintf(out, "Errors (%d):\n", len(errorIssues))
		printIssues(out, errorIssues)
	}
	if len(warnIssues) > 0 {
		if len(errorIssues) > 0 {
			fmt.Fprintln(out, "")
		}
		fmt.Fprintf(out, "Warnings (%d):\n", len(warnIssues))
		printIssues(out, warnIssues)
	}

	if report.HasErrors() {
		return fmt.Errorf("validation found errors")
	}
	return nil
}

func printIssues(out io.Writer, issues []validate.Issue) {
	for _, issue := range issues {
		location := "store"
		switch {
		case issue.BusinessID != "":
			location = "record " + issue.BusinessID
		case issue.BatchID != "":
			location = "batch " + issue.BatchID
		case issue.Status != "":
			location = fmt.Sprintf("status %q", issue.Status)
		}
		fmt.Fprintf(out, "  - %s: %s (%s)\n", location, issue.Message, issue.Code)
	}
}
