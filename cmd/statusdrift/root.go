package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"statusdrift/internal/config"
	"statusdrift/internal/lattice"
	"statusdrift/internal/logging"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "statusdrift",
		Short:         "Snapshot import and workflow status drift detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Project config file")

	cmd.AddCommand(importCmd())
	cmd.AddCommand(compareCmd())
	cmd.AddCommand(watchCmd())
	cmd.AddCommand(queryCmd())
	cmd.AddCommand(batchesCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(initCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

type app struct {
	cfg     *config.ProjectConfig
	lattice *lattice.Lattice
	log     *logrus.Entry
}

// loadApp reads env files and the project config. The config file may be
// absent unless --config was given explicitly.
func loadApp(cmd *cobra.Command) (*app, error) {
	if _, err := config.LoadEnvFiles(config.DefaultEnvFiles); err != nil {
		return nil, withCode(exitUsage, err)
	}
	cfg, err := config.Load(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	lat, err := cfg.StatusLattice()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return &app{cfg: cfg, lattice: lat, log: log.WithField("project", cfg.Project)}, nil
}
