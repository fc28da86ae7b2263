package sqlite

import (
	"context"
	"fmt"
	"strings"
)

const ddl = `
CREATE TABLE IF NOT EXISTS import_batches (
	batch_id        TEXT PRIMARY KEY,
	source_name     TEXT NOT NULL,
	imported_at     TEXT NOT NULL,
	snapshot_at     TEXT,
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
	completed_at    TEXT
);

-- at most one import may be running
CREATE UNIQUE INDEX IF NOT EXISTS uq_import_batches_in_progress
	ON import_batches (status) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS idx_import_batches_imported_at ON import_batches (imported_at);

CREATE TRIGGER IF NOT EXISTS import_batches_closed BEFORE UPDATE ON import_batches
WHEN OLD.status <> 'in_progress'
BEGIN
	SELECT RAISE(ABORT, 'import batch is closed');
END;

CREATE TABLE IF NOT EXISTS current_state (
	business_id TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	assignee    TEXT NOT NULL DEFAULT '',
	attributes  TEXT NOT NULL DEFAULT '{}',
	version     INTEGER NOT NULL,
	batch_id    TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_current_state_status ON current_state (status);

CREATE TABLE IF NOT EXISTS status_transitions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	business_id    TEXT NOT NULL,
	from_status    TEXT,
	to_status      TEXT NOT NULL,
	observed_at    TEXT NOT NULL,
	classification TEXT NOT NULL,
	severity       TEXT NOT NULL,
	distance       INTEGER NOT NULL DEFAULT 0,
	batch_id       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_status_transitions_business ON status_transitions (business_id, id);
CREATE INDEX IF NOT EXISTS idx_status_transitions_batch ON status_transitions (batch_id);
CREATE INDEX IF NOT EXISTS idx_status_transitions_class ON status_transitions (classification);

CREATE TRIGGER IF NOT EXISTS status_transitions_no_update BEFORE UPDATE ON status_transitions
BEGIN
	SELECT RAISE(ABORT, 'status_transitions is append-only');
END;

CREATE TRIGGER IF NOT EXISTS status_transitions_no_delete BEFORE DELETE ON status_transitions
BEGIN
	SELECT RAISE(ABORT, 'status_transitions is append-only');
END;
`

func (c *Client) EnsureSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(ddl) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

// splitStatements breaks a DDL script on trailing semicolons. Trigger bodies
// are kept whole until their closing END;.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inTrigger := false

	for _, line := range strings.Split(script, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "--") {
			continue
		}
		upper := strings.ToUpper(stripped)
		if strings.HasPrefix(upper, "CREATE TRIGGER") {
			inTrigger = true
		}
		current.WriteString(line)
		current.WriteString("\n")

		if !strings.HasSuffix(stripped, ";") {
			continue
		}
		if inTrigger && upper != "END;" {
			continue
		}
		inTrigger = false
		statements = append(statements, current.String())
		current.Reset()
	}

	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}

	return statements
}
