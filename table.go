package salesetl

import (
	"golang.org/x/xerrors"
)

// Table is the raw export: a header and string cells, before any coercion.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a Table from parsed records whose first record is the header.
// Short rows are padded with empty cells. Rows wider than the header are rejected.
func NewTable(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, xerrors.Errorf("no header row: %w", ErrMalformedInput)
	}

	header := records[0]
	if isBlankRecord(header) {
		return nil, xerrors.Errorf("empty header row: %w", ErrMalformedInput)
	}

	t := &Table{
		Columns: append([]string(nil), header...),
		Rows:    make([][]string, 0, len(records)-1),
	}

	for i, r := range records[1:] {
		if len(r) > len(header) {
			return nil, xerrors.Errorf(
				"line %d has %d fields, header has %d: %w", i+2, len(r), len(header), ErrMalformedInput)
		}

		row := make([]string, len(header))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}
