// Package aggregate turns pivoted contig values into per-cell metadata
// columns according to an aggregation policy.
package aggregate

import (
	"strings"

	"clonecore/internal/locus"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Policy controls how the per-cell values of one field are aggregated.
type Policy struct {
	// Split keeps heavy and light categories in separate columns.
	Split bool `json:"split"`
	// Collapse joins the values of a category into one delimited string.
	Collapse bool `json:"collapse"`
	// Combine removes duplicate values before collapsing.
	Combine bool `json:"combine"`
	// SplitLocus separates light categories by individual locus code.
	SplitLocus bool `json:"split_locus"`
	// Text aggregates the text form of every value whatever the inferred
	// column kind, so identifiers that look numeric are still joined.
	Text bool `json:"text,omitempty"`
}

// DefaultPolicy is used for fields requested without an explicit policy.
func DefaultPolicy() Policy {
	return Policy{Split: true, Collapse: true}
}

// OutputColumn is one aggregated column. Values are aligned with the cell
// order handed to the evaluator.
type OutputColumn struct {
	Name   string
	Field  string
	Chain  locus.Chain
	Kind   table.Kind
	Values []table.Value
}

// FieldResult holds every column produced for one requested field.
type FieldResult struct {
	Field   string
	Policy  Policy
	Columns []OutputColumn
}

// Join renders the non-missing values with "|". With combine set, repeated
// tokens are dropped, keeping the first occurrence. The result is missing
// when no value is present.
func Join(values []table.Value, combine bool) table.Value {
	parts := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v.IsMissing() {
			continue
		}
		s := v.Text()
		if combine {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return table.Missing()
	}
	return table.String(strings.Join(parts, domain.ValueSeparator))
}

func present(values []table.Value) []table.Value {
	out := make([]table.Value, 0, len(values))
	for _, v := range values {
		if !v.IsMissing() {
			out = append(out, v)
		}
	}
	return out
}
