package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"statusdrift/internal/store"
)

func (c *Client) ListCurrentWithoutHistory(ctx context.Context) ([]string, error) {
	query := `
SELECT cs.business_id FROM current_state cs
WHERE NOT EXISTS (SELECT 1 FROM status_transitions st WHERE st.business_id = cs.business_id)
ORDER BY cs.business_id
`
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing current state without history: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting business ids: %w", err)
	}
	return ids, nil
}

func (c *Client) ListHistoryMismatches(ctx context.Context) ([]store.HistoryMismatch, error) {
	query := `
SELECT cs.business_id, cs.status, last.to_status
FROM current_state cs
JOIN LATERAL (
    SELECT to_status FROM status_transitions st
    WHERE st.business_id = cs.business_id
    ORDER BY st.id DESC LIMIT 1
) last ON TRUE
WHERE last.to_status <> cs.status
ORDER BY cs.business_id
`
	rows, err := c.pool.Query(ctx, query)
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
	rows, err := c.pool.Query(ctx, `SELECT status, COUNT(*)::int FROM current_state GROUP BY status ORDER BY status`)
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
