package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"statusdrift/internal/store"
)

const currentColumns = `business_id, status, address, assignee, attributes, version, batch_id, updated_at`

// sqlite caps bound parameters per statement; stay well below it.
const maxInParams = 500

type chunkTx struct {
	q     queryer
	nowFn func() time.Time
}

func (c *Client) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	return getCurrent(ctx, c.db, businessID)
}

func (tx *chunkTx) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	return getCurrent(ctx, tx.q, businessID)
}

func getCurrent(ctx context.Context, q queryer, businessID string) (*store.BusinessRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+currentColumns+` FROM current_state WHERE business_id = ?`, businessID)
	rec, err := scanCurrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting current state for %s: %w", businessID, err)
	}
	return rec, nil
}

func (tx *chunkTx) GetCurrentMany(ctx context.Context, businessIDs []string) (map[string]*store.BusinessRecord, error) {
	out := make(map[string]*store.BusinessRecord, len(businessIDs))
	for start := 0; start < len(businessIDs); start += maxInParams {
		end := min(start+maxInParams, len(businessIDs))
		part := businessIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}

		rows, err := tx.q.QueryContext(ctx,
			`SELECT `+currentColumns+` FROM current_state WHERE business_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("loading current state: %w", err)
		}
		for rows.Next() {
			rec, err := scanCurrent(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning current state: %w", err)
			}
			out[rec.BusinessID] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating current state: %w", err)
		}
	}
	return out, nil
}

func (tx *chunkTx) UpsertCurrent(ctx context.Context, rec store.BusinessRecord, expectedVersion int64) error {
	attrs, err := store.EncodeAttributes(rec.Attributes)
	if err != nil {
		return err
	}
	now := formatTime(tx.nowFn())

	if expectedVersion == 0 {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO current_state (business_id, status, address, assignee, attributes, version, batch_id, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			rec.BusinessID, rec.Status, rec.Address, rec.Assignee, string(attrs), rec.BatchID, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already exists", store.ErrVersionConflict, rec.BusinessID)
			}
			return fmt.Errorf("inserting current state for %s: %w", rec.BusinessID, err)
		}
		return nil
	}

	res, err := tx.q.ExecContext(ctx, `
		UPDATE current_state
		SET status = ?, address = ?, assignee = ?, attributes = ?, version = version + 1, batch_id = ?, updated_at = ?
		WHERE business_id = ? AND version = ?`,
		rec.Status, rec.Address, rec.Assignee, string(attrs), rec.BatchID, now, rec.BusinessID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating current state for %s: %w", rec.BusinessID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating current state for %s: %w", rec.BusinessID, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s is not at version %d", store.ErrVersionConflict, rec.BusinessID, expectedVersion)
	}
	return nil
}

func scanCurrent(row rowScanner) (*store.BusinessRecord, error) {
	var (
		rec       store.BusinessRecord
		attrs     string
		updatedAt sql.NullString
	)
	if err := row.Scan(&rec.BusinessID, &rec.Status, &rec.Address, &rec.Assignee, &attrs, &rec.Version, &rec.BatchID, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Attributes, err = store.DecodeAttributes([]byte(attrs)); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
