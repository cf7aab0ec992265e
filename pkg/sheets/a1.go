package sheets

import (
	"fmt"
	"strconv"
	"strings"
)

// CellRef addresses one cell with 1-based row and column numbers.
type CellRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Cell builds a CellRef.
func Cell(row, col int) CellRef {
	return CellRef{Row: row, Col: col}
}

// Valid reports whether both coordinates are positive.
func (c CellRef) Valid() bool {
	return c.Row > 0 && c.Col > 0
}

// String renders the reference in A1 notation.
func (c CellRef) String() string {
	return ColumnName(c.Col) + strconv.Itoa(c.Row)
}

// ColumnName converts a 1-based column number into letters (1 → A, 27 → AA).
func ColumnName(col int) string {
	if col <= 0 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ParseCell parses an A1 reference such as "C12".
func ParseCell(raw string) (CellRef, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	i := 0
	col := 0
	for i < len(raw) && raw[i] >= 'A' && raw[i] <= 'Z' {
		col = col*26 + int(raw[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(raw) {
		return CellRef{}, fmt.Errorf("invalid cell reference %q", raw)
	}
	row, err := strconv.Atoi(raw[i:])
	if err != nil || row <= 0 {
		return CellRef{}, fmt.Errorf("invalid cell reference %q", raw)
	}
	return CellRef{Row: row, Col: col}, nil
}

// Range is an inclusive rectangle of cells.
type Range struct {
	From CellRef
	To   CellRef
}

// ParseRange parses "A1:Z2000". An empty spec yields an unbounded range.
func ParseRange(spec string) (Range, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Range{}, nil
	}
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("invalid range %q", spec)
	}
	from, err := ParseCell(parts[0])
	if err != nil {
		return Range{}, err
	}
	to, err := ParseCell(parts[1])
	if err != nil {
		return Range{}, err
	}
	if to.Row < from.Row || to.Col < from.Col {
		return Range{}, fmt.Errorf("invalid range %q", spec)
	}
	return Range{From: from, To: to}, nil
}

// Bounded reports whether the range limits rows and columns.
func (r Range) Bounded() bool {
	return r.From.Valid() && r.To.Valid()
}

// Contains reports whether the cell falls inside the range. Unbounded ranges contain everything.
func (r Range) Contains(c CellRef) bool {
	if !r.Bounded() {
		return true
	}
	return c.Row >= r.From.Row && c.Row <= r.To.Row && c.Col >= r.From.Col && c.Col <= r.To.Col
}

// String renders the range in A1 notation.
func (r Range) String() string {
	if !r.Bounded() {
		return ""
	}
	return r.From.String() + ":" + r.To.String()
}
