package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"statusdrift/internal/store"
)

const batchColumns = `batch_id::text, source_name, imported_at, snapshot_at, total_rows, new_count,
	updated_count, unchanged_count, error_count, revert_count, bypass_count, duplicate_count,
	status, failure_reason, completed_at`

func (c *Client) BeginBatch(ctx context.Context, meta store.BatchMeta) (string, error) {
	id := uuid.NewString()
	var snapshotAt *time.Time
	if !meta.SnapshotAt.IsZero() {
		snapshotAt = &meta.SnapshotAt
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO import_batches (batch_id, source_name, snapshot_at, status)
		VALUES ($1, $2, $3, $4)`,
		id, meta.SourceName, snapshotAt, string(store.BatchInProgress))
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrImportInProgress
		}
		return "", fmt.Errorf("beginning batch: %w", err)
	}
	return id, nil
}

func (c *Client) CompleteBatch(ctx context.Context, batchID string, stats store.BatchStats) error {
	return c.closeBatch(ctx, batchID, store.BatchCompleted, "", stats)
}

func (c *Client) FailBatch(ctx context.Context, batchID, reason string, stats store.BatchStats) error {
	return c.closeBatch(ctx, batchID, store.BatchFailed, reason, stats)
}

func (c *Client) closeBatch(ctx context.Context, batchID string, status store.BatchStatus, reason string, stats store.BatchStats) error {
	if _, err := uuid.Parse(batchID); err != nil {
		return store.ErrBatchNotFound
	}
	tag, err := c.pool.Exec(ctx, `
		UPDATE import_batches SET
			total_rows = $1, new_count = $2, updated_count = $3, unchanged_count = $4, error_count = $5,
			revert_count = $6, bypass_count = $7, duplicate_count = $8,
			status = $9, failure_reason = $10, completed_at = now()
		WHERE batch_id = $11 AND status = 'in_progress'`,
		stats.TotalRows, stats.New, stats.Updated, stats.Unchanged, stats.Errors,
		stats.Reverts, stats.Bypasses, stats.Duplicates,
		string(status), reason, batchID)
	if err != nil {
		return fmt.Errorf("closing batch %s: %w", batchID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := c.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if existing == nil {
		return store.ErrBatchNotFound
	}
	return store.ErrBatchClosed
}

func (c *Client) GetBatch(ctx context.Context, batchID string) (*store.ImportBatch, error) {
	if _, err := uuid.Parse(batchID); err != nil {
		return nil, nil
	}
	row := c.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE batch_id = $1`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting batch %s: %w", batchID, err)
	}
	return b, nil
}

func (c *Client) ListBatches(ctx context.Context, limit int) ([]store.ImportBatch, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM import_batches ORDER BY imported_at DESC LIMIT $1`,
		store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var out []store.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batches: %w", err)
	}
	return out, nil
}

func scanBatch(row pgx.Row) (*store.ImportBatch, error) {
	var (
		b          store.ImportBatch
		snapshotAt *time.Time
		status     string
	)
	err := row.Scan(&b.ID, &b.SourceName, &b.ImportedAt, &snapshotAt,
		&b.Stats.TotalRows, &b.Stats.New, &b.Stats.Updated, &b.Stats.Unchanged, &b.Stats.Errors,
		&b.Stats.Reverts, &b.Stats.Bypasses, &b.Stats.Duplicates,
		&status, &b.FailureReason, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Status = store.BatchStatus(status)
	if snapshotAt != nil {
		b.SnapshotAt = *snapshotAt
	}
	return &b, nil
}
