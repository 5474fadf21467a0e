package table

import (
	"strings"

	"clonecore/pkg/domain"
)

// InferLocus adds a locus column to tables that lack one, assigning IGH, IGK
// or IGL when every non-missing V/D/J/C call of a row mentions that locus.
// Rows whose calls disagree get a missing locus. The second return value is
// false when the table already had a locus column and was returned as is.
func InferLocus(t *RecordTable) (*RecordTable, bool, error) {
	if t.Has(domain.ColumnLocus) {
		return t, false, nil
	}
	calls := []string{domain.ColumnVCall, domain.ColumnDCall, domain.ColumnJCall, domain.ColumnCCall}
	candidates := []string{"IGH", "IGK", "IGL"}
	values := make([]Value, t.Len())
	for row := 0; row < t.Len(); row++ {
		var present []string
		for _, c := range calls {
			v := t.At(c, row)
			if v.IsMissing() {
				continue
			}
			present = append(present, v.Text())
		}
		values[row] = Missing()
		if len(present) == 0 {
			continue
		}
		for _, locus := range candidates {
			if allContain(present, locus) {
				values[row] = String(locus)
				break
			}
		}
	}
	out, err := t.WithColumn(Column{Name: domain.ColumnLocus, Kind: KindCategorical, Values: values})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func allContain(values []string, sub string) bool {
	for _, v := range values {
		if !strings.Contains(v, sub) {
			return false
		}
	}
	return true
}

// Dict maps the values of key onto the values of value, skipping rows where
// either side is missing. Later rows overwrite earlier ones.
func Dict(t *RecordTable, key, value string) map[string]string {
	out := make(map[string]string)
	if !t.Has(key) || !t.Has(value) {
		return out
	}
	for row := 0; row < t.Len(); row++ {
		k, v := t.At(key, row), t.At(value, row)
		if k.IsMissing() || v.IsMissing() {
			continue
		}
		out[k.Text()] = v.Text()
	}
	return out
}
