package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

var (
	_ Store            = (*MemoryStore)(nil)
	_ ConditionalStore = (*MemoryStore)(nil)
	_ TableLoader      = (*MemoryStore)(nil)
)

// MemoryStore keeps tables in process memory. It is used for development, seeded
// demos and tests. Every call copies data in and out so callers never share slices.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: map[string][][]string{}}
}

// Put replaces a whole table with the given grid (first row is the header).
func (s *MemoryStore) Put(table string, grid [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = copyGrid(grid)
}

// ReplaceTable implements TableLoader.
func (s *MemoryStore) ReplaceTable(ctx context.Context, table string, grid [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Put(table, grid)
	return nil
}

// Grid returns a copy of the raw grid including the header row.
func (s *MemoryStore) Grid(table string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyGrid(s.tables[table])
}

// ReadTable returns the header-plus-rows view of the table limited to rangeSpec.
func (s *MemoryStore) ReadTable(ctx context.Context, table, rangeSpec string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng, err := ParseRange(rangeSpec)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	grid, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return FromGrid(table, clip(grid, rng)), nil
}

// WriteCell sets a single cell, growing the grid when needed.
func (s *MemoryStore) WriteCell(ctx context.Context, table string, cell CellRef, value string) error {
	return s.BatchWrite(ctx, table, []CellUpdate{{Cell: cell, Value: value}})
}

// BatchWrite applies all updates under one lock.
func (s *MemoryStore) BatchWrite(ctx context.Context, table string, updates []CellUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, u := range updates {
		if !u.Cell.Valid() {
			return fmt.Errorf("invalid cell %v", u.Cell)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	grid, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for _, u := range updates {
		grid = set(grid, u.Cell, u.Value)
	}
	s.tables[table] = grid
	return nil
}

// CompareAndSwap writes value only when the trimmed cell currently equals expected.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, table string, cell CellRef, expected, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !cell.Valid() {
		return false, fmt.Errorf("invalid cell %v", cell)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	grid, ok := s.tables[table]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if strings.TrimSpace(get(grid, cell)) != strings.TrimSpace(expected) {
		return false, nil
	}
	s.tables[table] = set(grid, cell, value)
	return true, nil
}

func get(grid [][]string, cell CellRef) string {
	if cell.Row > len(grid) {
		return ""
	}
	row := grid[cell.Row-1]
	if cell.Col > len(row) {
		return ""
	}
	return row[cell.Col-1]
}

func set(grid [][]string, cell CellRef, value string) [][]string {
	for len(grid) < cell.Row {
		grid = append(grid, nil)
	}
	row := grid[cell.Row-1]
	for len(row) < cell.Col {
		row = append(row, "")
	}
	row[cell.Col-1] = value
	grid[cell.Row-1] = row
	return grid
}

func clip(grid [][]string, rng Range) [][]string {
	if !rng.Bounded() {
		return copyGrid(grid)
	}
	out := make([][]string, 0, len(grid))
	for r := rng.From.Row; r <= rng.To.Row && r <= len(grid); r++ {
		row := grid[r-1]
		clipped := make([]string, 0, len(row))
		for c := rng.From.Col; c <= rng.To.Col && c <= len(row); c++ {
			clipped = append(clipped, row[c-1])
		}
		out = append(out, clipped)
	}
	return out
}

func copyGrid(grid [][]string) [][]string {
	if grid == nil {
		return nil
	}
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}
