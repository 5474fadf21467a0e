// Package metadata holds the per-cell metadata table and the builder that
// fills it from aggregated contig fields.
package metadata

import (
	"encoding/json"
	"fmt"

	"clonecore/internal/locus"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Column is one metadata column. Field names the contig field it was
// aggregated from and is empty for derived columns.
type Column struct {
	Name   string        `json:"name"`
	Field  string        `json:"field,omitempty"`
	Chain  locus.Chain   `json:"chain,omitempty"`
	Kind   table.Kind    `json:"kind"`
	Values []table.Value `json:"values"`
}

func (c Column) clone() Column {
	vals := make([]table.Value, len(c.Values))
	copy(vals, c.Values)
	c.Values = vals
	return c
}

// CloneSize is the membership count and size rank of one clone id.
type CloneSize struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
	Rank int    `json:"rank"`
}

// Table is the per-cell metadata table: one row per cell in a fixed order,
// columns appended or overwritten by name.
type Table struct {
	cells   []string
	rows    map[string]int
	columns []Column
	byName  map[string]int
	clones  []CloneSize
}

// NewTable returns an empty table with one row per cell.
func NewTable(cells []string) *Table {
	t := &Table{
		cells:  append([]string(nil), cells...),
		rows:   make(map[string]int, len(cells)),
		byName: make(map[string]int),
	}
	for i, c := range cells {
		t.rows[c] = i
	}
	return t
}

// Len returns the number of cells.
func (t *Table) Len() int { return len(t.cells) }

// Cells returns cell ids in row order.
func (t *Table) Cells() []string { return append([]string(nil), t.cells...) }

// Columns returns column names in table order. cell_id is the row key and
// not listed.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i].clone(), true
}

// Value returns the value of a column for a cell.
func (t *Table) Value(cell, name string) table.Value {
	row, ok := t.rows[cell]
	if !ok {
		return table.Missing()
	}
	i, ok := t.byName[name]
	if !ok {
		return table.Missing()
	}
	return t.columns[i].Values[row]
}

// Strings renders a column as text, missing values as "".
func (t *Table) Strings(name string) []string {
	i, ok := t.byName[name]
	if !ok {
		return nil
	}
	out := make([]string, len(t.cells))
	for r, v := range t.columns[i].Values {
		out[r] = v.Text()
	}
	return out
}

// Set adds a column or overwrites the column of the same name in place.
// Values must be aligned with the row order.
func (t *Table) Set(col Column) error {
	if len(col.Values) != len(t.cells) {
		return fmt.Errorf("column %q has %d values, expected %d", col.Name, len(col.Values), len(t.cells))
	}
	col = col.clone()
	if i, ok := t.byName[col.Name]; ok {
		t.columns[i] = col
		return nil
	}
	t.byName[col.Name] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

// Merge left-joins columns whose values are aligned with cells onto the
// table by cell id. Rows absent from cells receive missing values.
func (t *Table) Merge(cells []string, cols []Column) error {
	pos := make(map[string]int, len(cells))
	for i, c := range cells {
		pos[c] = i
	}
	for _, col := range cols {
		if len(col.Values) != len(cells) {
			return fmt.Errorf("column %q has %d values for %d cells", col.Name, len(col.Values), len(cells))
		}
		aligned := make([]table.Value, len(t.cells))
		for r, cell := range t.cells {
			if i, ok := pos[cell]; ok {
				aligned[r] = col.Values[i]
			}
		}
		col.Values = aligned
		if err := t.Set(col); err != nil {
			return err
		}
	}
	return nil
}

// MoveToFront reorders the named columns to the start of the table, in the
// given order. Unknown names are ignored.
func (t *Table) MoveToFront(names ...string) {
	var front, rest []Column
	picked := make(map[string]struct{}, len(names))
	for _, n := range names {
		if i, ok := t.byName[n]; ok {
			if _, dup := picked[n]; !dup {
				front = append(front, t.columns[i])
				picked[n] = struct{}{}
			}
		}
	}
	for _, c := range t.columns {
		if _, ok := picked[c.Name]; !ok {
			rest = append(rest, c)
		}
	}
	t.columns = append(front, rest...)
	t.reindex()
}

func (t *Table) reindex() {
	t.byName = make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		t.byName[c.Name] = i
	}
}

// CloneSizes returns the clone ranking computed at initialization, largest
// clone first.
func (t *Table) CloneSizes() []CloneSize {
	return append([]CloneSize(nil), t.clones...)
}

// Copy returns a deep copy.
func (t *Table) Copy() *Table {
	out := NewTable(t.cells)
	for _, c := range t.columns {
		out.columns = append(out.columns, c.clone())
	}
	out.reindex()
	out.clones = append([]CloneSize(nil), t.clones...)
	return out
}

// Header returns cell_id followed by every column name.
func (t *Table) Header() []string {
	return append([]string{domain.ColumnCellID}, t.Columns()...)
}

// Rows renders the table as text rows aligned with Header.
func (t *Table) Rows() [][]string {
	out := make([][]string, len(t.cells))
	for r, cell := range t.cells {
		row := make([]string, 0, len(t.columns)+1)
		row = append(row, cell)
		for _, c := range t.columns {
			row = append(row, c.Values[r].Text())
		}
		out[r] = row
	}
	return out
}

type tableJSON struct {
	Cells   []string    `json:"cells"`
	Columns []Column    `json:"columns"`
	Clones  []CloneSize `json:"clones,omitempty"`
}

// MarshalJSON encodes the table column-wise.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(tableJSON{Cells: t.cells, Columns: t.columns, Clones: t.clones})
}

// UnmarshalJSON restores a table written by MarshalJSON.
func (t *Table) UnmarshalJSON(b []byte) error {
	var doc tableJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	restored := NewTable(doc.Cells)
	for _, c := range doc.Columns {
		if err := restored.Set(c); err != nil {
			return err
		}
	}
	restored.clones = doc.Clones
	*t = *restored
	return nil
}
