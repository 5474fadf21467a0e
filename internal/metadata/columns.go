package metadata

import (
	"sort"
	"strings"

	"clonecore/internal/locus"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Derived column names.
const (
	ColumnStatus            = "status"
	ColumnStatusSummary     = "status_summary"
	ColumnProductive        = "productive"
	ColumnProductiveSummary = "productive_summary"
	ColumnIsotype           = "isotype"
	ColumnIsotypeSummary    = "isotype_summary"
	ColumnVDJStatusDetail   = "vdj_status_detail"
	ColumnVDJStatus         = "vdj_status"
	BySizeSuffix            = "_by_size"
	SizeSuffix              = "_size"
)

// deriver computes classification columns on a table whose aggregated
// columns carry their source field and chain.
type deriver struct {
	table  *Table
	vField string
	diags  domain.Result
}

// chainText joins, per cell, the non-missing values of every column
// aggregated from field on the given chain.
func (d *deriver) chainText(field string, chain locus.Chain) []string {
	out := make([]string, d.table.Len())
	for _, c := range d.table.columns {
		if c.Field != field || c.Chain != chain {
			continue
		}
		for r, v := range c.Values {
			if v.IsMissing() {
				continue
			}
			s := v.Text()
			if s == "" {
				continue
			}
			if out[r] != "" {
				out[r] += domain.ValueSeparator
			}
			out[r] += s
		}
	}
	return out
}

func (d *deriver) hasChain(field string, chain locus.Chain) bool {
	for _, c := range d.table.columns {
		if c.Field == field && c.Chain == chain {
			return true
		}
	}
	return false
}

func (d *deriver) set(name string, values []string) error {
	vals := make([]table.Value, len(values))
	for i, s := range values {
		if s == "" {
			vals[i] = table.Missing()
			continue
		}
		vals[i] = table.String(s)
	}
	return d.table.Set(Column{Name: name, Kind: table.KindString, Values: vals})
}

func (d *deriver) pairwise(field string, combine func(h, l string) string, name, summary string) error {
	heavy := d.chainText(field, locus.ChainHeavy)
	light := d.chainText(field, locus.ChainLight)
	values := make([]string, len(heavy))
	sums := make([]string, len(heavy))
	for i := range heavy {
		values[i] = combine(heavy[i], light[i])
		sums[i] = Summary(values[i])
	}
	if err := d.set(name, values); err != nil {
		return err
	}
	return d.set(summary, sums)
}

func (d *deriver) status() error {
	return d.pairwise(domain.ColumnLocus, Status, ColumnStatus, ColumnStatusSummary)
}

func (d *deriver) productive() error {
	return d.pairwise(domain.ColumnProductive, Productive, ColumnProductive, ColumnProductiveSummary)
}

func (d *deriver) isotype() error {
	chain := locus.ChainHeavy
	if !d.hasChain(domain.ColumnCCall, chain) {
		chain = locus.ChainLight
	}
	calls := d.chainText(domain.ColumnCCall, chain)
	values := make([]string, len(calls))
	sums := make([]string, len(calls))
	unknown := make(map[string]struct{})
	for i, call := range calls {
		iso, ok := Isotype(call)
		if !ok {
			unknown[call] = struct{}{}
		}
		values[i] = iso
		sums[i] = Summary(iso)
	}
	if len(unknown) > 0 {
		names := make([]string, 0, len(unknown))
		for n := range unknown {
			names = append(names, n)
		}
		sort.Strings(names)
		d.diags.Add(domain.SeverityLog, domain.CodeUnknownIsotype, "constant calls without an isotype class",
			map[string]string{"calls": strings.Join(names, ", ")})
	}
	if err := d.set(ColumnIsotype, values); err != nil {
		return err
	}
	return d.set(ColumnIsotypeSummary, sums)
}

func (d *deriver) alleles() error {
	for i, c := range d.table.columns {
		if isGeneCall(c.Name) {
			d.table.columns[i] = collapseColumn(c)
		}
	}
	return nil
}

func (d *deriver) vdj() error {
	hv := d.chainText(d.vField, locus.ChainHeavy)
	hj := d.chainText(domain.ColumnJCall, locus.ChainHeavy)
	lv := d.chainText(d.vField, locus.ChainLight)
	lj := d.chainText(domain.ColumnJCall, locus.ChainLight)
	details := make([]string, len(hv))
	status := make([]string, len(hv))
	for i := range hv {
		details[i] = VDJStatusDetail(
			ChainFlags(string(locus.ChainHeavy), hv[i], hj[i]),
			ChainFlags(string(locus.ChainLight), lv[i], lj[i]))
		status[i] = VDJStatus(details[i])
	}
	if err := d.set(ColumnVDJStatusDetail, details); err != nil {
		return err
	}
	return d.set(ColumnVDJStatus, status)
}

func (d *deriver) clones(key string) error {
	assignments := d.table.Strings(key)
	ranked := RankClones(assignments)
	byID := make(map[string]CloneSize, len(ranked))
	for _, cs := range ranked {
		byID[cs.ID] = cs
	}
	ranks := make([]string, len(assignments))
	sizes := make([]string, len(assignments))
	for i, a := range assignments {
		ranks[i], sizes[i] = CloneColumns(a, byID)
	}
	if err := d.set(key+BySizeSuffix, ranks); err != nil {
		return err
	}
	if err := d.set(key+SizeSuffix, sizes); err != nil {
		return err
	}
	d.table.MoveToFront(key, key+BySizeSuffix, key+SizeSuffix)
	d.table.clones = ranked
	return nil
}
