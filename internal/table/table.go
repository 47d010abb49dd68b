// Package table implements the in-memory tabular value bound to df.
//
// A Table is a rectangular, column-named grid. Cells hold one of nil,
// float64, string or bool.
package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Table is an immutable rectangular grid with named columns.
type Table struct {
	columns []string
	rows    [][]any
}

// New creates a table from column names and rows.
// Every row must have exactly len(columns) cells.
func New(columns []string, rows [][]any) (*Table, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}

	out := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(columns))
		}
		cells := make([]any, len(row))
		for j, v := range row {
			cell, err := Normalize(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, columns[j], err)
			}
			cells[j] = cell
		}
		out[i] = cells
	}

	return &Table{
		columns: append([]string(nil), columns...),
		rows:    out,
	}, nil
}

// FromRecords builds a table from a list of records. Column order follows
// first appearance across records; missing keys become nil.
func FromRecords(records []map[string]any, order [][]string) (*Table, error) {
	var columns []string
	index := make(map[string]int)
	for i := range records {
		var keys []string
		if i < len(order) {
			keys = order[i]
		} else {
			keys = sortedKeys(records[i])
		}
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(columns)
				columns = append(columns, k)
			}
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for k, v := range rec {
			row[index[k]] = v
		}
		rows[i] = row
	}
	return New(columns, rows)
}

// FromColumns builds a table from named columns of equal length.
func FromColumns(names []string, values [][]any) (*Table, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(values))
	}

	n := 0
	for i, col := range values {
		if i == 0 {
			n = len(col)
			continue
		}
		if len(col) != n {
			return nil, fmt.Errorf("column %q has length %d, expected %d", names[i], len(col), n)
		}
	}

	rows := make([][]any, n)
	for r := 0; r < n; r++ {
		row := make([]any, len(names))
		for c := range names {
			row[c] = values[c][r]
		}
		rows[r] = row
	}
	return New(names, rows)
}

// Columns returns a copy of the column names.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.rows) }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.columns) }

// Row returns a copy of row i.
func (t *Table) Row(i int) ([]any, bool) {
	if i < 0 || i >= len(t.rows) {
		return nil, false
	}
	return append([]any(nil), t.rows[i]...), true
}

// Rows returns a deep copy of all rows.
func (t *Table) Rows() [][]any {
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// ColumnIndex returns the position of the named column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]any, bool) {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[idx]
	}
	return out, true
}

// Head returns the first n rows. Negative n drops rows from the end.
func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = len(t.rows) + n
		if n < 0 {
			n = 0
		}
	}
	if n > len(t.rows) {
		n = len(t.rows)
	}
	return &Table{columns: t.columns, rows: t.rows[:n:n]}
}

// Select returns a table holding only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := t.ColumnIndex(n)
		if !ok {
			return nil, &MissingColumnError{Name: n}
		}
		idx[i] = j
	}

	rows := make([][]any, len(t.rows))
	for r, row := range t.rows {
		cells := make([]any, len(idx))
		for i, j := range idx {
			cells[i] = row[j]
		}
		rows[r] = cells
	}
	return New(names, rows)
}

// Filter returns the rows for which keep returns true.
// keep errors abort the filter.
func (t *Table) Filter(keep func(i int, row []any) (bool, error)) (*Table, error) {
	var rows [][]any
	for i, row := range t.rows {
		ok, err := keep(i, append([]any(nil), row...))
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return &Table{columns: t.columns, rows: rows}, nil
}

// Equal reports whether two tables have the same columns and cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.columns) != len(o.columns) || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != o.columns[i] {
			return false
		}
	}
	for i := range t.rows {
		for j := range t.rows[i] {
			if !cellEqual(t.rows[i][j], o.rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// HasNonFinite reports whether any numeric cell is NaN or infinite.
func (t *Table) HasNonFinite() bool {
	for _, row := range t.rows {
		for _, v := range row {
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				return true
			}
		}
	}
	return false
}

// MissingColumnError is returned when a column name is not present.
type MissingColumnError struct {
	Name string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q not found", e.Name)
}

// Normalize coerces a Go value into a cell value.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		return x, nil
	case bool:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported cell type %T", v)
	}
}

// FormatNumber renders a float the way a notebook displays numbers:
// integral values without a fractional part.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if abs := math.Abs(f); abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatCell renders a cell as text. nil becomes the empty string.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return FormatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func cellEqual(a, b any) bool {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		if math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
		return fa == fb
	}
	return a == b
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
