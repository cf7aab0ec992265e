// Package sheets models the tabular backing store: named tables read as a
// header row plus data rows, written cell by cell with 1-based addressing.
// The store offers no transactions and no row locks.
package sheets

import (
	"context"
	"errors"
	"strings"
)

// HeaderRow is the fixed 1-based row holding column names.
const HeaderRow = 1

// ErrTableNotFound is returned when a named table does not exist in the store.
var ErrTableNotFound = errors.New("table not found")

// CellUpdate is a single value destined for one cell.
type CellUpdate struct {
	Cell  CellRef `json:"cell"`
	Value string  `json:"value"`
}

// Store is the read-all / point-update contract of the tabular backing store.
type Store interface {
	ReadTable(ctx context.Context, table, rangeSpec string) (*Table, error)
	WriteCell(ctx context.Context, table string, cell CellRef, value string) error
	BatchWrite(ctx context.Context, table string, updates []CellUpdate) error
}

// ConditionalStore is implemented by stores able to swap a cell value atomically.
// Values are compared trimmed; swapped is false when the current value differs
// from expected. A missing cell reads as empty.
type ConditionalStore interface {
	CompareAndSwap(ctx context.Context, table string, cell CellRef, expected, value string) (swapped bool, err error)
}

// Table is a header-plus-rows snapshot of one table.
type Table struct {
	Name   string     `json:"name"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Column returns the 1-based column index of the named header, or 0 when absent.
// Matching is trimmed and case-insensitive.
func (t *Table) Column(name string) int {
	if t == nil {
		return 0
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range t.Header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i + 1
		}
	}
	return 0
}

// FirstColumn returns the first header present among the candidates.
func (t *Table) FirstColumn(names ...string) int {
	for _, name := range names {
		if col := t.Column(name); col > 0 {
			return col
		}
	}
	return 0
}

// Value returns the trimmed value at data row index i (0-based) and 1-based column col.
func (t *Table) Value(i, col int) string {
	if t == nil || col <= 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	row := t.Rows[i]
	if col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}

// SheetRow converts a 0-based data row index into its 1-based sheet row.
func SheetRow(i int) int {
	return i + HeaderRow + 1
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Name: t.Name, Header: append([]string(nil), t.Header...)}
	out.Rows = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// FromGrid splits a raw grid whose first row is the header.
func FromGrid(name string, grid [][]string) *Table {
	table := &Table{Name: name}
	if len(grid) == 0 {
		return table
	}
	table.Header = append([]string(nil), grid[0]...)
	for _, row := range grid[1:] {
		table.Rows = append(table.Rows, append([]string(nil), row...))
	}
	return table
}
