package diff

import (
	"strconv"
	"strings"

	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
)

// toRecord builds the full replacement record for one row. Coordinates must
// parse as numbers when present.
func toRecord(id string, row snapshot.RawRow) (store.BusinessRecord, *RowError) {
	attrs := row.Extras()
	for field, reason := range map[string]string{
		snapshot.FieldLatitude:  ReasonBadLatitude,
		snapshot.FieldLongitude: ReasonBadLongitude,
	} {
		value, ok := attrs[field]
		if !ok {
			continue
		}
		if _, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64); err != nil {
			return store.BusinessRecord{}, &RowError{Line: row.Line, BusinessID: id, Reason: reason, Err: err}
		}
	}

	return store.BusinessRecord{
		BusinessID: id,
		Status:     row.Text(snapshot.FieldStatus),
		Address:    row.Text(snapshot.FieldAddress),
		Assignee:   row.Text(snapshot.FieldAssignee),
		Attributes: attrs,
	}, nil
}
