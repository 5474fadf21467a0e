package table

import (
	"errors"
	"fmt"

	"clonecore/pkg/domain"
)

// Concat stacks tables row-wise. Columns are unioned in order of first
// appearance; a column absent from one source is filled with missing values
// there, and a kind conflict degrades the column to KindString.
//
// With checkUnique set, a sequence_id collision causes every source table to
// have "__<index>" appended to its sequence ids before uniqueness is checked
// again. Without it, collisions are reported as errors by New.
func Concat(tables []*RecordTable, checkUnique bool) (*RecordTable, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("concat: no tables")
	}
	for i, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("concat: table %d is nil", i)
		}
	}
	out, err := stack(tables, false)
	if err == nil || !checkUnique {
		return out, err
	}
	var dup DuplicateSequenceIDError
	if !errors.As(err, &dup) {
		return nil, err
	}
	return stack(tables, true)
}

func stack(tables []*RecordTable, disambiguate bool) (*RecordTable, error) {
	var order []string
	kinds := make(map[string]Kind)
	for _, t := range tables {
		for _, c := range t.columns {
			prev, seen := kinds[c.Name]
			if !seen {
				order = append(order, c.Name)
				kinds[c.Name] = c.Kind
				continue
			}
			if prev != c.Kind {
				kinds[c.Name] = KindString
			}
		}
	}
	total := 0
	for _, t := range tables {
		total += t.length
	}
	columns := make([]Column, len(order))
	for i, name := range order {
		values := make([]Value, 0, total)
		for ti, t := range tables {
			for row := 0; row < t.length; row++ {
				v := t.At(name, row)
				if name == domain.ColumnSequenceID && disambiguate {
					v = String(fmt.Sprintf(domain.DisambiguationPattern, v.Text(), ti))
				}
				if kinds[name] == KindString && !v.IsMissing() && v.Kind() != KindString {
					v = String(v.Text())
				}
				values = append(values, v)
			}
		}
		columns[i] = Column{Name: name, Kind: kinds[name], Values: values}
	}
	return New(columns)
}
