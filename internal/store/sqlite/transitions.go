package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

func (tx *chunkTx) AppendTransition(ctx context.Context, rec store.TransitionRecord) error {
	var from any
	if rec.FromStatus != nil {
		from = *rec.FromStatus
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO status_transitions
			(business_id, from_status, to_status, observed_at, classification, severity, distance, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BusinessID, from, rec.ToStatus, formatTime(rec.ObservedAt),
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
	if filter.BusinessID != "" {
		clauses = append(clauses, "business_id = ?")
		args = append(args, filter.BusinessID)
	}
	if filter.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.Classification != "" {
		clauses = append(clauses, "classification = ?")
		args = append(args, string(filter.Classification))
	}

	query := `SELECT id, business_id, from_status, to_status, observed_at, classification, severity, distance, batch_id
		FROM status_transitions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, store.ClampLimit(filter.Limit))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	var out []store.TransitionRecord
	for rows.Next() {
		var (
			tr                       store.TransitionRecord
			from, observed           sql.NullString
			classification, severity string
		)
		if err := rows.Scan(&tr.ID, &tr.BusinessID, &from, &tr.ToStatus, &observed, &classification, &severity, &tr.Distance, &tr.BatchID); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		if from.Valid {
			value := from.String
			tr.FromStatus = &value
		}
		if tr.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
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
