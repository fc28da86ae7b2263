package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"statusdrift/internal/config"
)

func initCmd() *cobra.Command {
	var projectName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a statusdrift project config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectName) == "" {
				return withCode(exitUsage, fmt.Errorf("--name is required"))
			}
			if err := runInit(configPath, projectName); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s.\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectName, "name", "", "Project name")
	return cmd
}

func runInit(path, projectName string) error {
	if _, err := os.Stat(path); err == nil {
		return withCode(exitUsage, fmt.Errorf("%s already exists", path))
	}
	contents, err := config.Template(projectName)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
