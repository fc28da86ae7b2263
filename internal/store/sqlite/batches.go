package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"statusdrift/internal/store"
)

const batchColumns = `batch_id, source_name, imported_at, snapshot_at, total_rows, new_count,
	updated_count, unchanged_count, error_count, revert_count, bypass_count, duplicate_count,
	status, failure_reason, completed_at`

func (c *Client) BeginBatch(ctx context.Context, meta store.BatchMeta) (string, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO import_batches (batch_id, source_name, imported_at, snapshot_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		id, meta.SourceName, formatTime(c.nowFn()), nullableTime(meta.SnapshotAt), string(store.BatchInProgress))
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
	res, err := c.db.ExecContext(ctx, `
		UPDATE import_batches SET
			total_rows = ?, new_count = ?, updated_count = ?, unchanged_count = ?, error_count = ?,
			revert_count = ?, bypass_count = ?, duplicate_count = ?,
			status = ?, failure_reason = ?, completed_at = ?
		WHERE batch_id = ? AND status = 'in_progress'`,
		stats.TotalRows, stats.New, stats.Updated, stats.Unchanged, stats.Errors,
		stats.Reverts, stats.Bypasses, stats.Duplicates,
		string(status), reason, formatTime(c.nowFn()), batchID)
	if err != nil {
		return fmt.Errorf("closing batch %s: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing batch %s: %w", batchID, err)
	}
	if n == 1 {
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
	row := c.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE batch_id = ?`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting batch %s: %w", batchID, err)
	}
	return b, nil
}

func (c *Client) ListBatches(ctx context.Context, limit int) ([]store.ImportBatch, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM import_batches ORDER BY imported_at DESC, rowid DESC LIMIT ?`,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*store.ImportBatch, error) {
	var (
		b                                 store.ImportBatch
		importedAt, snapshotAt, completed sql.NullString
		status                            string
	)
	err := row.Scan(&b.ID, &b.SourceName, &importedAt, &snapshotAt,
		&b.Stats.TotalRows, &b.Stats.New, &b.Stats.Updated, &b.Stats.Unchanged, &b.Stats.Errors,
		&b.Stats.Reverts, &b.Stats.Bypasses, &b.Stats.Duplicates,
		&status, &b.FailureReason, &completed)
	if err != nil {
		return nil, err
	}
	b.Status = store.BatchStatus(status)

	if b.ImportedAt, err = parseTime(importedAt); err != nil {
		return nil, err
	}
	if b.SnapshotAt, err = parseTime(snapshotAt); err != nil {
		return nil, err
	}
	done, err := parseTime(completed)
	if err != nil {
		return nil, err
	}
	if !done.IsZero() {
		b.CompletedAt = &done
	}
	return &b, nil
}
