package snapshot

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// tableReader yields one record per call and io.EOF at the end.
type tableReader interface {
	Read() (record []string, line int, err error)
	Close() error
}

func openTable(path string, format Format) (tableReader, error) {
	switch format {
	case FormatCSV:
		return openCSV(path)
	case FormatXLSX:
		return openXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

type csvTable struct {
	file   *os.File
	reader *csv.Reader
}

func openCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := stripUTF8BOM(bufio.NewReader(f))

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return &csvTable{file: f, reader: r}, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func (t *csvTable) Read() ([]string, int, error) {
	record, err := t.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, parseErr.StartLine, &RowReadError{Line: parseErr.StartLine, Err: parseErr.Err}
		}
		return nil, 0, err
	}
	line, _ := t.reader.FieldPos(0)
	return record, line, nil
}

func (t *csvTable) Close() error {
	return t.file.Close()
}

// xlsxTable streams the first worksheet.
type xlsxTable struct {
	file *excelize.File
	rows *excelize.Rows
	line int
}

func openXLSX(path string) (*xlsxTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return &xlsxTable{file: f, rows: rows}, nil
}

func (t *xlsxTable) Read() ([]string, int, error) {
	if !t.rows.Next() {
		if err := t.rows.Error(); err != nil {
			return nil, t.line, err
		}
		return nil, t.line, io.EOF
	}
	t.line++
	cols, err := t.rows.Columns()
	if err != nil {
		return nil, t.line, &RowReadError{Line: t.line, Err: err}
	}
	return cols, t.line, nil
}

func (t *xlsxTable) Close() error {
	rowsErr := t.rows.Close()
	if err := t.file.Close(); err != nil {
		return err
	}
	return rowsErr
}
