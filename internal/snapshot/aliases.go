package snapshot

import (
	"sort"
	"strings"
)

// Canonical field labels produced by the loader.
const (
	FieldBusinessID   = "business_id"
	FieldStatus       = "status"
	FieldStatusDate   = "status_date"
	FieldLastModified = "last_modified"
	FieldAddress      = "address"
	FieldAssignee     = "assignee"
	FieldPoleNumber   = "pole_number"
	FieldDropNumber   = "drop_number"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldPON          = "pon"
)

// AliasTable maps a canonical field to the column headers that feed it.
// When several headers map to the same field, the first non-empty cell in
// header order wins.
type AliasTable map[string][]string

func DefaultAliases() AliasTable {
	return AliasTable{
		FieldBusinessID:   {"Property ID", "Business ID", "PropertyID"},
		FieldStatus:       {"Status", "Current Status"},
		FieldStatusDate:   {"date_status_changed", "Status Date", "Status Changed"},
		FieldLastModified: {"lst_mod_dt", "Last Modified"},
		FieldAddress:      {"Location Address", "Address"},
		FieldAssignee: {
			"Field Agent Name (pole permission)",
			"Field Agent Name (Home Sign Ups)",
			"Installer Name",
			"Agent",
			"Assignee",
		},
		FieldPoleNumber: {"Pole Number", "Pole"},
		FieldDropNumber: {"Drop Number", "Drop"},
		FieldLatitude:   {"Latitude", "Lat"},
		FieldLongitude:  {"Longitude", "Lng", "Lon"},
		FieldPON:        {"PONs", "PON"},
	}
}

// Merge returns a copy with extra aliases appended after the existing ones.
func (a AliasTable) Merge(extra map[string][]string) AliasTable {
	out := make(AliasTable, len(a)+len(extra))
	for field, aliases := range a {
		out[field] = append([]string(nil), aliases...)
	}
	for field, aliases := range extra {
		out[field] = append(out[field], aliases...)
	}
	return out
}

// NormalizeHeader folds case and treats underscores, hyphens and runs of
// whitespace as a single space.
func NormalizeHeader(header string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-':
			return ' '
		}
		return r
	}, header)
	return strings.ToLower(strings.Join(strings.Fields(replaced), " "))
}

func (a AliasTable) lookup() map[string]string {
	fields := make([]string, 0, len(a))
	for field := range a {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	m := make(map[string]string)
	for _, field := range fields {
		// the canonical label always resolves to itself
		m[NormalizeHeader(field)] = field
		for _, alias := range a[field] {
			key := NormalizeHeader(alias)
			if key == "" {
				continue
			}
			if _, taken := m[key]; !taken {
				m[key] = field
			}
		}
	}
	return m
}

type column struct {
	index int
	field string
}

// resolveHeader maps each non-blank header cell to its canonical field, or
// to the trimmed header text when no alias matches.
func (a AliasTable) resolveHeader(header []string) []column {
	lookup := a.lookup()
	columns := make([]column, 0, len(header))
	for i, cell := range header {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		field, ok := lookup[NormalizeHeader(name)]
		if !ok {
			field = name
		}
		columns = append(columns, column{index: i, field: field})
	}
	return columns
}
