// Package snapshot reads spreadsheet exports into rows keyed by canonical
// field labels.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// MalformedSourceError means the snapshot as a whole cannot be used.
type MalformedSourceError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed snapshot %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed snapshot %s: %s", e.Path, e.Reason)
}

func (e *MalformedSourceError) Unwrap() error {
	return e.Err
}

// RowReadError reports a single row the reader could not decode. Reading
// continues after it.
type RowReadError struct {
	Line int
	Err  error
}

func (e *RowReadError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowReadError) Unwrap() error {
	return e.Err
}

type Snapshot struct {
	path    string
	format  Format
	aliases AliasTable
	header  []string
	columns []column
}

// Open checks that path is a readable snapshot with a business identifier
// column and at least one data row. Rows are not read until Rows is ranged.
func Open(path string, aliases AliasTable) (*Snapshot, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, &MalformedSourceError{Path: path, Reason: "unsupported file type", Err: err}
	}
	if aliases == nil {
		aliases = DefaultAliases()
	}

	table, err := openTable(path, format)
	if err != nil {
		return nil, &MalformedSourceError{Path: path, Reason: "cannot open", Err: err}
	}
	defer table.Close()

	header, _, err := table.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedSourceError{Path: path, Reason: "missing header"}
		}
		return nil, &MalformedSourceError{Path: path, Reason: "reading header", Err: err}
	}

	s := &Snapshot{
		path:    path,
		format:  format,
		aliases: aliases,
		header:  trimCells(header),
		columns: aliases.resolveHeader(header),
	}
	if !s.hasField(FieldBusinessID) {
		return nil, &MalformedSourceError{Path: path, Reason: "no business identifier column"}
	}

	for {
		record, _, err := table.Read()
		if errors.Is(err, io.EOF) {
			return nil, &MalformedSourceError{Path: path, Reason: "no data rows"}
		}
		var rowErr *RowReadError
		if errors.As(err, &rowErr) {
			continue
		}
		if err != nil {
			return nil, &MalformedSourceError{Path: path, Reason: "reading rows", Err: err}
		}
		if !isBlank(s.build(record, 0).Values) {
			return s, nil
		}
	}
}

func (s *Snapshot) Path() string     { return s.path }
func (s *Snapshot) Format() Format   { return s.format }
func (s *Snapshot) Header() []string { return append([]string(nil), s.header...) }

// Name is the file name without directories.
func (s *Snapshot) Name() string {
	return filepath.Base(s.path)
}

// Mapping reports which canonical field each header column feeds.
func (s *Snapshot) Mapping() map[string]string {
	out := make(map[string]string, len(s.columns))
	for _, col := range s.columns {
		out[s.header[col.index]] = col.field
	}
	return out
}

// Rows reopens the file on every range, so the sequence can be walked more
// than once. Blank rows are skipped. A *RowReadError is yielded for rows
// that cannot be decoded; any other error ends the sequence.
func (s *Snapshot) Rows() iter.Seq2[RawRow, error] {
	return func(yield func(RawRow, error) bool) {
		table, err := openTable(s.path, s.format)
		if err != nil {
			yield(RawRow{}, &MalformedSourceError{Path: s.path, Reason: "cannot reopen", Err: err})
			return
		}
		defer table.Close()

		if _, _, err := table.Read(); err != nil {
			yield(RawRow{}, &MalformedSourceError{Path: s.path, Reason: "reading header", Err: err})
			return
		}

		for {
			record, line, err := table.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var rowErr *RowReadError
				if errors.As(err, &rowErr) {
					if !yield(RawRow{Line: rowErr.Line}, err) {
						return
					}
					continue
				}
				yield(RawRow{Line: line}, &MalformedSourceError{Path: s.path, Reason: "reading rows", Err: err})
				return
			}

			row := s.build(record, line)
			if isBlank(row.Values) {
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (s *Snapshot) build(record []string, line int) RawRow {
	values := make(map[string]any, len(s.columns))
	for _, col := range s.columns {
		var cell any
		if col.index < len(record) {
			if text := strings.TrimSpace(record[col.index]); text != "" {
				cell = text
			}
		}
		if existing, ok := values[col.field]; ok && existing != nil {
			continue
		}
		values[col.field] = cell
	}
	return RawRow{Line: line, Values: values}
}

func (s *Snapshot) hasField(field string) bool {
	for _, col := range s.columns {
		if col.field == field {
			return true
		}
	}
	return false
}

// Supported reports whether path has an extension Open accepts.
func Supported(path string) bool {
	_, err := detectFormat(path)
	return err == nil
}

func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("extension %q is not .csv or .xlsx", filepath.Ext(path))
	}
}

func trimCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}
