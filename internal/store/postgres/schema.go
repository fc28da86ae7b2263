package postgres

import (
	"context"
	"fmt"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	// Sent as one simple-protocol call, which PostgreSQL runs in an implicit
	// transaction. Every statement is safe to repeat.
	ddl := `
CREATE TABLE IF NOT EXISTS import_batches (
    batch_id        UUID PRIMARY KEY,
    source_name     TEXT NOT NULL,
    imported_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    snapshot_at     TIMESTAMPTZ,
    total_rows      INTEGER NOT NULL DEFAULT 0,
    new_count       INTEGER NOT NULL DEFAULT 0,
    updated_count   INTEGER NOT NULL DEFAULT 0,
    unchanged_count INTEGER NOT NULL DEFAULT 0,
    error_count     INTEGER NOT NULL DEFAULT 0,
    revert_count    INTEGER NOT NULL DEFAULT 0,
    bypass_count    INTEGER NOT NULL DEFAULT 0,
    duplicate_count INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL CHECK (status IN ('in_progress', 'completed', 'failed')),
    failure_reason  TEXT NOT NULL DEFAULT '',
    completed_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_import_batches_in_progress
    ON import_batches (status) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS idx_import_batches_imported_at ON import_batches (imported_at DESC);

CREATE TABLE IF NOT EXISTS current_state (
    business_id TEXT PRIMARY KEY,
    status      TEXT NOT NULL DEFAULT '',
    address     TEXT NOT NULL DEFAULT '',
    assignee    TEXT NOT NULL DEFAULT '',
    attributes  JSONB NOT NULL DEFAULT '{}',
    version     BIGINT NOT NULL,
    batch_id    UUID NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_current_state_status ON current_state (status);

CREATE TABLE IF NOT EXISTS status_transitions (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    business_id    TEXT NOT NULL,
    from_status    TEXT,
    to_status      TEXT NOT NULL,
    observed_at    TIMESTAMPTZ NOT NULL,
    classification TEXT NOT NULL,
    severity       TEXT NOT NULL,
    distance       INTEGER NOT NULL DEFAULT 0,
    batch_id       UUID NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_status_transitions_business ON status_transitions (business_id, id);
CREATE INDEX IF NOT EXISTS idx_status_transitions_batch ON status_transitions (batch_id);
CREATE INDEX IF NOT EXISTS idx_status_transitions_class ON status_transitions (classification);

CREATE OR REPLACE FUNCTION statusdrift_reject_history_change() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'status_transitions is append-only';
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE TRIGGER status_transitions_append_only
    BEFORE UPDATE OR DELETE ON status_transitions
    FOR EACH ROW EXECUTE FUNCTION statusdrift_reject_history_change();

CREATE OR REPLACE FUNCTION statusdrift_reject_closed_batch() RETURNS trigger AS $$
BEGIN
    IF OLD.status <> 'in_progress' THEN
        RAISE EXCEPTION 'import batch % is closed', OLD.batch_id;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE TRIGGER import_batches_closed
    BEFORE UPDATE ON import_batches
    FOR EACH ROW EXECUTE FUNCTION statusdrift_reject_closed_batch();
`
	_, err := c.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
