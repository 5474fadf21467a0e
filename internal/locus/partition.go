package locus

import (
	"fmt"

	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Chain tags a category or an aggregated column with the receptor chain it
// was drawn from.
type Chain string

// Chain values.
const (
	ChainHeavy Chain = "heavy"
	ChainLight Chain = "light"
	ChainMixed Chain = "mixed"
)

// Category is one locus group of contig rows.
type Category struct {
	// Label is used in per-rank column names: H/L, or the locus code when
	// loci are split. Empty in single-locus mode.
	Label string
	// Suffix is appended to collapsed column names: heavy/light, or the
	// locus code when loci are split. Empty in single-locus mode.
	Suffix string
	Chain  Chain
	Loci   []string
	// Rows are RecordTable row positions in table order.
	Rows []int
}

// Partitioning is the result of splitting a RecordTable by locus.
type Partitioning struct {
	Scheme      Scheme
	SingleLocus bool
	SplitLocus  bool
	Categories  []Category
}

// Partition groups the rows of t into locus categories. With splitLocus set
// there is one category per scheme locus, heavy first; otherwise one heavy
// category and one merged light category. Categories are returned even when
// empty. Rows whose locus is missing or outside the scheme belong to no
// category.
//
// A table with at most one distinct locus value is partitioned into a single
// unsuffixed category holding every row. A single_locus diagnostic is
// recorded when split was requested for such a table.
func Partition(t *table.RecordTable, scheme Scheme, split, splitLocus bool) (*Partitioning, domain.Result) {
	var diags domain.Result
	loci := t.Distinct(domain.ColumnLocus)
	if len(loci) <= 1 {
		chain := ChainHeavy
		if len(loci) == 1 && loci[0] != scheme.Heavy {
			chain = ChainLight
		}
		rows := make([]int, t.Len())
		for i := range rows {
			rows[i] = i
		}
		if split || splitLocus {
			diags.Add(domain.SeverityWarn, domain.CodeSingleLocus,
				"single locus type detected; heavy/light splitting disabled",
				map[string]string{"loci": fmt.Sprint(loci), "split_locus": fmt.Sprint(splitLocus)})
		}
		return &Partitioning{
			Scheme:      scheme,
			SingleLocus: true,
			Categories:  []Category{{Chain: chain, Loci: loci, Rows: rows}},
		}, diags
	}

	var categories []Category
	if splitLocus {
		categories = append(categories, Category{Label: scheme.Heavy, Suffix: scheme.Heavy, Chain: ChainHeavy, Loci: []string{scheme.Heavy}})
		for _, code := range scheme.Light {
			categories = append(categories, Category{Label: code, Suffix: code, Chain: ChainLight, Loci: []string{code}})
		}
	} else {
		categories = []Category{
			{Label: scheme.HeavyLabel, Suffix: string(ChainHeavy), Chain: ChainHeavy, Loci: []string{scheme.Heavy}},
			{Label: scheme.LightLabel, Suffix: string(ChainLight), Chain: ChainLight, Loci: append([]string(nil), scheme.Light...)},
		}
	}
	slot := make(map[string]int)
	for i, c := range categories {
		for _, code := range c.Loci {
			slot[code] = i
		}
	}
	for row := 0; row < t.Len(); row++ {
		v := t.At(domain.ColumnLocus, row)
		if v.IsMissing() {
			continue
		}
		if i, ok := slot[v.Text()]; ok {
			categories[i].Rows = append(categories[i].Rows, row)
		}
	}
	return &Partitioning{Scheme: scheme, SplitLocus: splitLocus, Categories: categories}, diags
}

// PartitionByName resolves the scheme by name before partitioning.
func PartitionByName(t *table.RecordTable, scheme string, split, splitLocus bool) (*Partitioning, domain.Result, error) {
	s, err := Lookup(scheme)
	if err != nil {
		return nil, domain.Result{}, err
	}
	p, diags := Partition(t, s, split, splitLocus)
	return p, diags, nil
}
