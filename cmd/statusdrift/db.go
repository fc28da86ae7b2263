package main

import (
	"context"
	"fmt"

	"statusdrift/internal/config"
	"statusdrift/internal/store"
	"statusdrift/internal/store/postgres"
	"statusdrift/internal/store/sqlite"
)

type appStore interface {
	store.Store
	store.SQLRunner
}

// openStore connects to the configured backend and makes sure the schema
// exists.
func openStore(ctx context.Context, cfg *config.ProjectConfig) (appStore, error) {
	var (
		db  appStore
		err error
	)
	switch cfg.Database.Scheme() {
	case "postgres":
		var c *postgres.Client
		c, err = postgres.New(ctx, cfg.Database)
		if err == nil {
			db = c
		}
	case "sqlite":
		var c *sqlite.Client
		c, err = sqlite.New(ctx, cfg.Database.DSN)
		if err == nil {
			db = c
		}
	default:
		return nil, withCode(exitUsage, fmt.Errorf("unsupported database DSN, expected postgres:// or sqlite://"))
	}
	if err != nil {
		return nil, withCode(exitDB, err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close(ctx)
		return nil, withCode(exitDB, fmt.Errorf("preparing schema: %w", err))
	}
	return db, nil
}
