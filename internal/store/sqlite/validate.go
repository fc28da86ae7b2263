package sqlite

import (
	"context"
	"fmt"

	"statusdrift/internal/store"
)

func (c *Client) ListCurrentWithoutHistory(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT cs.business_id
		FROM current_state cs
		WHERE NOT EXISTS (SELECT 1 FROM status_transitions st WHERE st.business_id = cs.business_id)
		ORDER BY cs.business_id`)
	if err != nil {
		return nil, fmt.Errorf("listing current state without history: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning business id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating business ids: %w", err)
	}
	return ids, nil
}

func (c *Client) ListHistoryMismatches(ctx context.Context) ([]store.HistoryMismatch, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT cs.business_id, cs.status, st.to_status
		FROM current_state cs
		JOIN status_transitions st ON st.id = (
			SELECT MAX(id) FROM status_transitions WHERE business_id = cs.business_id
		)
		WHERE st.to_status <> cs.status
		ORDER BY cs.business_id`)
	if err != nil {
		return nil, fmt.Errorf("listing history mismatches: %w", err)
	}
	defer rows.Close()

	var out []store.HistoryMismatch
	for rows.Next() {
		var m store.HistoryMismatch
		if err := rows.Scan(&m.BusinessID, &m.CurrentStatus, &m.HistoryStatus); err != nil {
			return nil, fmt.Errorf("scanning history mismatch: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history mismatches: %w", err)
	}
	return out, nil
}

func (c *Client) ListStatusCounts(ctx context.Context) ([]store.StatusCount, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM current_state GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting statuses: %w", err)
	}
	defer rows.Close()

	var out []store.StatusCount
	for rows.Next() {
		var sc store.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}
	return out, nil
}
