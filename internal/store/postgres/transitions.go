package postgres

import (
	"context"
	"fmt"
	"strings"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

func (tx *chunkTx) AppendTransition(ctx context.Context, rec store.TransitionRecord) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO status_transitions
			(business_id, from_status, to_status, observed_at, classification, severity, distance, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.BusinessID, rec.FromStatus, rec.ToStatus, rec.ObservedAt,
		string(rec.Classification), string(rec.Severity), rec.Distance, rec.BatchID)
	if err != nil {
		return fmt.Errorf("appending transition for %s: %w", rec.BusinessID, err)
	}
	return nil
}

func (c *Client) ListTransitions(ctx context.Context, filter store.TransitionFilter) ([]store.TransitionRecord, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.BusinessID != "" {
		add("business_id = $%d", filter.BusinessID)
	}
	if filter.BatchID != "" {
		add("batch_id::text = $%d", filter.BatchID)
	}
	if filter.Classification != "" {
		add("classification = $%d", string(filter.Classification))
	}

	query := `SELECT id, business_id, from_status, to_status, observed_at, classification, severity, distance, batch_id::text
		FROM status_transitions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, store.ClampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	var out []store.TransitionRecord
	for rows.Next() {
		var (
			tr                       store.TransitionRecord
			classification, severity string
		)
		if err := rows.Scan(&tr.ID, &tr.BusinessID, &tr.FromStatus, &tr.ToStatus, &tr.ObservedAt, &classification, &severity, &tr.Distance, &tr.BatchID); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.Classification = lattice.Classification(classification)
		tr.Severity = lattice.Severity(severity)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return out, nil
}
