// Package types provides the core data types shared by the minipdb registry.
package types

import "fmt"

// Row is a single record keyed by column name, used for the control tables.
type Row map[string]interface{}

// Columns returns the row's column names in the order given by order, followed
// by any remaining columns in unspecified order.
func (r Row) Columns(order []string) []string {
	cols := make([]string, 0, len(r))
	seen := make(map[string]struct{}, len(r))
	for _, c := range order {
		if _, ok := r[c]; ok {
			cols = append(cols, c)
			seen[c] = struct{}{}
		}
	}
	for c := range r {
		if _, ok := seen[c]; !ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// Table is a dense numeric table, the shape of both the draws and the metric
// produced by a sampling run.
type Table struct {
	// Columns names each column, in order
	Columns []string `json:"columns"`

	// Rows holds one slice per row; every row has len(Columns) values
	Rows [][]float64 `json:"rows"`
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Validate checks that the table has columns and that every row is complete.
func (t *Table) Validate() error {
	if t == nil || len(t.Columns) == 0 {
		return ErrEmptyTable
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrRaggedRow, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Schema returns the SQLite schema for the table: one REAL column per column.
func (t *Table) Schema() Schema {
	cols := make([]ColumnDef, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = ColumnDef{Name: c, Type: "REAL", Nullable: true}
	}
	return Schema{Columns: cols}
}
