// Package table implements the immutable contig-level record table: typed
// columns, a unique sequence_id row index and the loaders that build it.
package table

import (
	"fmt"

	"clonecore/pkg/domain"
)

// Column is a named, typed slice of values.
type Column struct {
	Name   string  `json:"name"`
	Kind   Kind    `json:"kind"`
	Values []Value `json:"values"`
}

func (c Column) clone() Column {
	vals := make([]Value, len(c.Values))
	copy(vals, c.Values)
	return Column{Name: c.Name, Kind: c.Kind, Values: vals}
}

// RecordTable is the contig table, one row per sequence fragment, indexed by
// sequence_id. It is never mutated after construction; every transform in
// this module allocates a new table.
type RecordTable struct {
	columns []Column
	byName  map[string]int
	rows    map[string]int
	length  int
}

// New validates columns and builds a RecordTable. A sequence_id column is
// required, must contain no missing values and must be unique; it is kept in
// the column set.
func New(columns []Column) (*RecordTable, error) {
	t := &RecordTable{byName: make(map[string]int, len(columns))}
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := t.byName[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", col.Name)
		}
		if i == 0 {
			t.length = len(col.Values)
		} else if len(col.Values) != t.length {
			return nil, fmt.Errorf("column %q has %d values, expected %d", col.Name, len(col.Values), t.length)
		}
		t.byName[col.Name] = i
		t.columns = append(t.columns, col.clone())
	}
	idx, ok := t.byName[domain.ColumnSequenceID]
	if !ok {
		return nil, domain.SchemaError{Missing: []string{domain.ColumnSequenceID}, Hint: "'sequence_id' not found in columns of input"}
	}
	t.rows = make(map[string]int, t.length)
	for row, v := range t.columns[idx].Values {
		id := v.Text()
		if v.IsMissing() || id == "" {
			return nil, fmt.Errorf("row %d: missing sequence_id", row)
		}
		if _, dup := t.rows[id]; dup {
			return nil, DuplicateSequenceIDError{ID: id}
		}
		t.rows[id] = row
	}
	return t, nil
}

// DuplicateSequenceIDError reports a non-unique sequence_id.
type DuplicateSequenceIDError struct {
	ID string
}

func (e DuplicateSequenceIDError) Error() string {
	return fmt.Sprintf("duplicate sequence_id %q", e.ID)
}

// Len returns the number of rows.
func (t *RecordTable) Len() int { return t.length }

// Has reports whether a column exists.
func (t *RecordTable) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Columns returns column names in table order.
func (t *RecordTable) Columns() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// Kind returns the kind of the named column.
func (t *RecordTable) Kind(name string) (Kind, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return KindString, false
	}
	return t.columns[idx].Kind, true
}

// Column returns a copy of the named column.
func (t *RecordTable) Column(name string) (Column, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[idx].clone(), true
}

// At returns the value of column name at row.
func (t *RecordTable) At(name string, row int) Value {
	idx, ok := t.byName[name]
	if !ok || row < 0 || row >= t.length {
		return Missing()
	}
	return t.columns[idx].Values[row]
}

// Row returns the row position of a sequence_id.
func (t *RecordTable) Row(sequenceID string) (int, bool) {
	row, ok := t.rows[sequenceID]
	return row, ok
}

// Lookup resolves a field value through the sequence_id join key.
func (t *RecordTable) Lookup(sequenceID, field string) Value {
	row, ok := t.rows[sequenceID]
	if !ok {
		return Missing()
	}
	return t.At(field, row)
}

// SequenceIDs returns the sequence_id column as strings in row order.
func (t *RecordTable) SequenceIDs() []string {
	return t.Strings(domain.ColumnSequenceID)
}

// Strings returns the textual form of a column; missing values render as "".
func (t *RecordTable) Strings(name string) []string {
	idx, ok := t.byName[name]
	if !ok {
		return nil
	}
	out := make([]string, t.length)
	for i, v := range t.columns[idx].Values {
		out[i] = v.Text()
	}
	return out
}

// Distinct returns the distinct non-missing textual values of a column in
// order of first appearance.
func (t *RecordTable) Distinct(name string) []string {
	idx, ok := t.byName[name]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range t.columns[idx].Values {
		if v.IsMissing() {
			continue
		}
		s := v.Text()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// AllMissing reports whether every value of the named column is missing.
// Absent columns count as all missing.
func (t *RecordTable) AllMissing(name string) bool {
	idx, ok := t.byName[name]
	if !ok {
		return true
	}
	for _, v := range t.columns[idx].Values {
		if !v.IsMissing() {
			return false
		}
	}
	return true
}

// WithColumn returns a new table with the column added or replaced.
func (t *RecordTable) WithColumn(col Column) (*RecordTable, error) {
	cols := t.snapshotColumns()
	if idx, ok := t.byName[col.Name]; ok {
		cols[idx] = col
	} else {
		cols = append(cols, col)
	}
	return New(cols)
}

// Export returns copies of all columns, e.g. for serialization.
func (t *RecordTable) Export() []Column {
	return t.snapshotColumns()
}

func (t *RecordTable) snapshotColumns() []Column {
	out := make([]Column, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.clone()
	}
	return out
}
