package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

var (
	_ sheets.Store            = (*SheetRepository)(nil)
	_ sheets.ConditionalStore = (*SheetRepository)(nil)
	_ sheets.TableLoader      = (*SheetRepository)(nil)
)

const sheetCellsSchema = `CREATE TABLE IF NOT EXISTS sheet_cells (
    sheet      TEXT        NOT NULL,
    row_idx    INTEGER     NOT NULL,
    col_idx    INTEGER     NOT NULL,
    value      TEXT        NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (sheet, row_idx, col_idx)
)`

const upsertCellQuery = `INSERT INTO sheet_cells (sheet, row_idx, col_idx, value, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (sheet, row_idx, col_idx)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

type sheetCell struct {
	Row   int    `db:"row_idx"`
	Col   int    `db:"col_idx"`
	Value string `db:"value"`
}

// SheetRepository stores ledger tables in PostgreSQL, one row per cell, and
// exposes them through the tabular store contract. Unlike a spreadsheet it can
// swap a single cell conditionally.
type SheetRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSheetRepository constructs the repository.
func NewSheetRepository(db *sqlx.DB) *SheetRepository {
	return &SheetRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the backing table when missing.
func (r *SheetRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sheetCellsSchema); err != nil {
		return fmt.Errorf("ensure sheet_cells schema: %w", err)
	}
	return nil
}

// ReadTable loads the cells inside rangeSpec and rebuilds the header-plus-rows grid.
func (r *SheetRepository) ReadTable(ctx context.Context, table, rangeSpec string) (*sheets.Table, error) {
	rng, err := sheets.ParseRange(rangeSpec)
	if err != nil {
		return nil, err
	}

	var cells []sheetCell
	if rng.Bounded() {
		const query = `SELECT row_idx, col_idx, value FROM sheet_cells
WHERE sheet = $1 AND row_idx BETWEEN $2 AND $3 AND col_idx BETWEEN $4 AND $5
ORDER BY row_idx ASC, col_idx ASC`
		err = r.db.SelectContext(ctx, &cells, query, table, rng.From.Row, rng.To.Row, rng.From.Col, rng.To.Col)
	} else {
		const query = `SELECT row_idx, col_idx, value FROM sheet_cells WHERE sheet = $1 ORDER BY row_idx ASC, col_idx ASC`
		err = r.db.SelectContext(ctx, &cells, query, table)
	}
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", table, err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: %s", sheets.ErrTableNotFound, table)
	}

	rowOffset, colOffset := 1, 1
	if rng.Bounded() {
		rowOffset, colOffset = rng.From.Row, rng.From.Col
	}
	grid := make([][]string, 0, cells[len(cells)-1].Row-rowOffset+1)
	for _, cell := range cells {
		ri, ci := cell.Row-rowOffset, cell.Col-colOffset
		for len(grid) <= ri {
			grid = append(grid, nil)
		}
		row := grid[ri]
		for len(row) <= ci {
			row = append(row, "")
		}
		row[ci] = cell.Value
		grid[ri] = row
	}
	return sheets.FromGrid(table, grid), nil
}

// WriteCell upserts a single cell.
func (r *SheetRepository) WriteCell(ctx context.Context, table string, cell sheets.CellRef, value string) error {
	if !cell.Valid() {
		return fmt.Errorf("invalid cell %v", cell)
	}
	if _, err := r.db.ExecContext(ctx, upsertCellQuery, table, cell.Row, cell.Col, value, r.now()); err != nil {
		return fmt.Errorf("write %s!%s: %w", table, cell, err)
	}
	return nil
}

// BatchWrite upserts all cells within one transaction.
func (r *SheetRepository) BatchWrite(ctx context.Context, table string, updates []sheets.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if !u.Cell.Valid() {
			return fmt.Errorf("invalid cell %v", u.Cell)
		}
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch write tx: %w", err)
	}
	now := r.now()
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, upsertCellQuery, table, u.Cell.Row, u.Cell.Col, u.Value, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write %s!%s: %w", table, u.Cell, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch write: %w", err)
	}
	return nil
}

// CompareAndSwap sets the cell to value only if its trimmed content equals expected.
// An absent cell counts as empty.
func (r *SheetRepository) CompareAndSwap(ctx context.Context, table string, cell sheets.CellRef, expected, value string) (bool, error) {
	if !cell.Valid() {
		return false, fmt.Errorf("invalid cell %v", cell)
	}
	var (
		res sql.Result
		err error
	)
	if expected == "" {
		const query = `INSERT INTO sheet_cells (sheet, row_idx, col_idx, value, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (sheet, row_idx, col_idx)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
WHERE btrim(sheet_cells.value) = ''`
		res, err = r.db.ExecContext(ctx, query, table, cell.Row, cell.Col, value, r.now())
	} else {
		const query = `UPDATE sheet_cells SET value = $4, updated_at = $5
WHERE sheet = $1 AND row_idx = $2 AND col_idx = $3 AND btrim(value) = $6`
		res, err = r.db.ExecContext(ctx, query, table, cell.Row, cell.Col, value, r.now(), expected)
	}
	if err != nil {
		return false, fmt.Errorf("compare and swap %s!%s: %w", table, cell, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare and swap %s!%s: %w", table, cell, err)
	}
	return affected == 1, nil
}

// ReplaceTable drops every cell of the table and inserts the grid.
func (r *SheetRepository) ReplaceTable(ctx context.Context, table string, grid [][]string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace table tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_cells WHERE sheet = $1`, table); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear sheet %s: %w", table, err)
	}
	now := r.now()
	for ri, row := range grid {
		for ci, value := range row {
			if value == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, upsertCellQuery, table, ri+1, ci+1, value, now); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("seed %s!%s: %w", table, sheets.Cell(ri+1, ci+1), err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace table: %w", err)
	}
	return nil
}
