// Package pivot reshapes long contig rows into a per-cell positional index:
// for every cell, the sequence ids it owns in order of first appearance.
package pivot

import (
	"fmt"

	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Index maps cell ids to their ordered sequence ids. Rank r of a cell is the
// r-th contig of that cell encountered while scanning rows in table order.
type Index struct {
	cells   []string
	members map[string][]string
	width   int
}

// Build indexes the given rows of t. Rows without a cell_id are skipped and
// reported in the returned diagnostics.
func Build(t *table.RecordTable, rows []int) (*Index, domain.Result) {
	var diags domain.Result
	idx := &Index{members: make(map[string][]string)}
	skipped := 0
	for _, row := range rows {
		cell := t.At(domain.ColumnCellID, row)
		if cell.IsMissing() || cell.Text() == "" {
			skipped++
			continue
		}
		id := cell.Text()
		seqs, seen := idx.members[id]
		if !seen {
			idx.cells = append(idx.cells, id)
		}
		seqs = append(seqs, t.At(domain.ColumnSequenceID, row).Text())
		idx.members[id] = seqs
		if len(seqs) > idx.width {
			idx.width = len(seqs)
		}
	}
	if skipped > 0 {
		diags.Add(domain.SeverityWarn, domain.CodeMissingCellID, "rows without cell_id skipped",
			map[string]string{"rows": fmt.Sprint(skipped)})
	}
	return idx, diags
}

// Cells returns cell ids in order of first appearance.
func (i *Index) Cells() []string {
	return append([]string(nil), i.cells...)
}

// Width is the largest number of contigs held by one cell.
func (i *Index) Width() int { return i.width }

// Len returns the number of cells.
func (i *Index) Len() int { return len(i.cells) }

// Members returns the ordered sequence ids of a cell.
func (i *Index) Members(cell string) []string {
	return append([]string(nil), i.members[cell]...)
}

// At returns the sequence id at rank r of a cell, or false when the cell
// has fewer than r+1 contigs.
func (i *Index) At(cell string, r int) (string, bool) {
	seqs := i.members[cell]
	if r < 0 || r >= len(seqs) {
		return "", false
	}
	return seqs[r], true
}

// Cells lists the distinct non-missing cell ids of the whole table in order
// of first appearance. This is the row order of the metadata table.
func Cells(t *table.RecordTable) []string {
	return t.Distinct(domain.ColumnCellID)
}
