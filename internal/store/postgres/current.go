package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"statusdrift/internal/store"
)

const currentColumns = `business_id, status, address, assignee, attributes, version, batch_id::text, updated_at`

type chunkTx struct {
	q queryer
}

func (c *Client) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	return getCurrent(ctx, c.pool, businessID)
}

func (tx *chunkTx) GetCurrent(ctx context.Context, businessID string) (*store.BusinessRecord, error) {
	return getCurrent(ctx, tx.q, businessID)
}

func getCurrent(ctx context.Context, q queryer, businessID string) (*store.BusinessRecord, error) {
	row := q.QueryRow(ctx, `SELECT `+currentColumns+` FROM current_state WHERE business_id = $1`, businessID)
	rec, err := scanCurrent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting current state for %s: %w", businessID, err)
	}
	return rec, nil
}

func (tx *chunkTx) GetCurrentMany(ctx context.Context, businessIDs []string) (map[string]*store.BusinessRecord, error) {
	out := make(map[string]*store.BusinessRecord, len(businessIDs))
	if len(businessIDs) == 0 {
		return out, nil
	}

	rows, err := tx.q.Query(ctx,
		`SELECT `+currentColumns+` FROM current_state WHERE business_id = ANY($1) FOR UPDATE`, businessIDs)
	if err != nil {
		return nil, fmt.Errorf("loading current state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanCurrent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning current state: %w", err)
		}
		out[rec.BusinessID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating current state: %w", err)
	}
	return out, nil
}

func (tx *chunkTx) UpsertCurrent(ctx context.Context, rec store.BusinessRecord, expectedVersion int64) error {
	attrs, err := store.EncodeAttributes(rec.Attributes)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err := tx.q.Exec(ctx, `
			INSERT INTO current_state (business_id, status, address, assignee, attributes, version, batch_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, now())`,
			rec.BusinessID, rec.Status, rec.Address, rec.Assignee, attrs, rec.BatchID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already exists", store.ErrVersionConflict, rec.BusinessID)
			}
			return fmt.Errorf("inserting current state for %s: %w", rec.BusinessID, err)
		}
		return nil
	}

	tag, err := tx.q.Exec(ctx, `
		UPDATE current_state
		SET status = $1, address = $2, assignee = $3, attributes = $4, version = version + 1, batch_id = $5, updated_at = now()
		WHERE business_id = $6 AND version = $7`,
		rec.Status, rec.Address, rec.Assignee, attrs, rec.BatchID, rec.BusinessID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating current state for %s: %w", rec.BusinessID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s is not at version %d", store.ErrVersionConflict, rec.BusinessID, expectedVersion)
	}
	return nil
}

func scanCurrent(row pgx.Row) (*store.BusinessRecord, error) {
	var (
		rec   store.BusinessRecord
		attrs []byte
	)
	if err := row.Scan(&rec.BusinessID, &rec.Status, &rec.Address, &rec.Assignee, &attrs, &rec.Version, &rec.BatchID, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Attributes, err = store.DecodeAttributes(attrs); err != nil {
		return nil, err
	}
	return &rec, nil
}
