package aggregate

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clonecore/internal/locus"
	"clonecore/internal/pivot"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Options configures an Evaluator.
type Options struct {
	Scheme locus.Scheme
	// Parallel evaluates locus categories concurrently. Output is identical
	// to sequential evaluation.
	Parallel bool
	Logger   *zap.Logger
}

// Request pairs a field with the policy it is evaluated under.
type Request struct {
	Field  string
	Policy Policy
}

type layout struct {
	part    *locus.Partitioning
	indexes []*pivot.Index
	// splitDiags are the partitioner's diagnostics for a request that asks
	// for splitting.
	splitDiags domain.Result
}

// Evaluator aggregates fields of one RecordTable. Partitions and pivot
// indexes are computed once per split_locus setting and reused for every
// field.
type Evaluator struct {
	table    *table.RecordTable
	scheme   locus.Scheme
	cells    []string
	parallel bool
	logger   *zap.Logger

	mu       sync.Mutex
	layouts  map[bool]*layout
	diags    domain.Result
	reported map[string]struct{}
}

// NewEvaluator prepares an evaluator over t. Output rows follow the order of
// first appearance of each cell_id in t.
func NewEvaluator(t *table.RecordTable, opts Options) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scheme := opts.Scheme
	if scheme.Name == "" {
		scheme = locus.Immunoglobulin
	}
	return &Evaluator{
		table:    t,
		scheme:   scheme,
		cells:    pivot.Cells(t),
		parallel: opts.Parallel,
		logger:   logger,
		layouts:  make(map[bool]*layout),
		reported: make(map[string]struct{}),
	}
}

// Cells returns the output row order.
func (e *Evaluator) Cells() []string {
	return append([]string(nil), e.cells...)
}

// Diagnostics returns everything recorded so far.
func (e *Evaluator) Diagnostics() domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Result{Diagnostics: append([]domain.Diagnostic(nil), e.diags.Diagnostics...)}
}

// SingleLocus reports whether the table holds at most one locus type.
func (e *Evaluator) SingleLocus(ctx context.Context) (bool, error) {
	lay, err := e.layout(ctx, false)
	if err != nil {
		return false, err
	}
	return lay.part.SingleLocus, nil
}

// EvaluateAll evaluates requests in order. It stops at the first error.
func (e *Evaluator) EvaluateAll(ctx context.Context, requests []Request) ([]FieldResult, error) {
	out := make([]FieldResult, 0, len(requests))
	for _, req := range requests {
		res, err := e.Evaluate(ctx, req.Field, req.Policy)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Evaluate substitutes field values into the pivot index and aggregates them
// under policy. Unknown fields fail with a domain.LookupError. Collapse is
// disabled for fields whose kind cannot be joined safely, with a
// type_mismatch diagnostic.
func (e *Evaluator) Evaluate(ctx context.Context, field string, policy Policy) (FieldResult, error) {
	if !e.table.Has(field) {
		return FieldResult{}, domain.LookupError{Field: field}
	}
	kind, _ := e.table.Kind(field)
	if policy.Text {
		kind = table.KindString
	}
	lay, err := e.layout(ctx, policy.SplitLocus)
	if err != nil {
		return FieldResult{}, err
	}

	effective := policy
	if lay.part.SingleLocus {
		if policy.Split || policy.SplitLocus {
			for _, d := range lay.splitDiags.Diagnostics {
				e.report(d, "")
			}
		}
		effective.SplitLocus = false
	}
	if effective.Collapse && !kind.Joinable() {
		effective.Collapse = false
		e.report(domain.Diagnostic{
			Severity: domain.SeverityWarn,
			Code:     domain.CodeTypeMismatch,
			Message:  "collapse disabled; values kept as a list",
			Context:  map[string]string{"field": field, "kind": kind.String()},
		}, field)
	}

	blocks, err := e.substitute(ctx, lay, field, policy.Text)
	if err != nil {
		return FieldResult{}, err
	}
	res := FieldResult{Field: field, Policy: effective}
	switch {
	case effective.Split && effective.Collapse:
		res.Columns = e.collapsed(lay, field, blocks, effective.Combine)
	case effective.Split:
		res.Columns = e.ranked(lay, field, kind, blocks)
	case effective.Collapse:
		res.Columns = []OutputColumn{e.merged(lay, field, blocks, func(vals []table.Value) table.Value {
			return Join(vals, effective.Combine)
		}, table.KindString)}
	default:
		res.Columns = []OutputColumn{e.merged(lay, field, blocks, func(vals []table.Value) table.Value {
			vals = present(vals)
			if len(vals) == 0 {
				return table.Missing()
			}
			return table.List(vals)
		}, table.KindList)}
	}
	return res, nil
}

// block holds, per output cell, the field values of that cell's contigs in
// rank order.
type block [][]table.Value

func (e *Evaluator) substitute(ctx context.Context, lay *layout, field string, asText bool) ([]block, error) {
	blocks := make([]block, len(lay.indexes))
	fill := func(i int) {
		idx := lay.indexes[i]
		b := make(block, len(e.cells))
		for c, cell := range e.cells {
			seqs := idx.Members(cell)
			if len(seqs) == 0 {
				continue
			}
			vals := make([]table.Value, len(seqs))
			for r, seq := range seqs {
				v := e.table.Lookup(seq, field)
				if asText && !v.IsMissing() {
					v = table.String(v.Text())
				}
				vals[r] = v
			}
			b[c] = vals
		}
		blocks[i] = b
	}
	if !e.parallel || len(lay.indexes) < 2 {
		for i := range lay.indexes {
			fill(i)
		}
		return blocks, ctx.Err()
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range lay.indexes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fill(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("substitute %s: %w", field, err)
	}
	return blocks, nil
}

func (e *Evaluator) collapsed(lay *layout, field string, blocks []block, combine bool) []OutputColumn {
	cols := make([]OutputColumn, len(blocks))
	for i, b := range blocks {
		cat := lay.part.Categories[i]
		values := make([]table.Value, len(e.cells))
		for c := range e.cells {
			values[c] = Join(b[c], combine)
		}
		cols[i] = OutputColumn{Name: suffixed(field, cat.Suffix), Field: field, Chain: cat.Chain, Kind: table.KindString, Values: values}
	}
	return cols
}

func (e *Evaluator) ranked(lay *layout, field string, kind table.Kind, blocks []block) []OutputColumn {
	var cols []OutputColumn
	for i, b := range blocks {
		cat := lay.part.Categories[i]
		for r := 0; r < lay.indexes[i].Width(); r++ {
			values := make([]table.Value, len(e.cells))
			for c := range e.cells {
				if r < len(b[c]) {
					values[c] = b[c][r]
				}
			}
			name := suffixed(suffixed(field, cat.Label), strconv.Itoa(r))
			cols = append(cols, OutputColumn{Name: name, Field: field, Chain: cat.Chain, Kind: kind, Values: values})
		}
	}
	return cols
}

func (e *Evaluator) merged(lay *layout, field string, blocks []block, reduce func([]table.Value) table.Value, kind table.Kind) OutputColumn {
	chain := locus.ChainMixed
	if lay.part.SingleLocus {
		chain = lay.part.Categories[0].Chain
	}
	values := make([]table.Value, len(e.cells))
	for c := range e.cells {
		var all []table.Value
		for _, b := range blocks {
			all = append(all, b[c]...)
		}
		values[c] = reduce(all)
	}
	return OutputColumn{Name: field, Field: field, Chain: chain, Kind: kind, Values: values}
}

func suffixed(name, suffix string) string {
	if suffix == "" {
		return name
	}
	return name + "_" + suffix
}

func (e *Evaluator) layout(ctx context.Context, splitLocus bool) (*layout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lay, ok := e.layouts[splitLocus]; ok {
		return lay, nil
	}
	part, partDiags := locus.Partition(e.table, e.scheme, true, splitLocus)
	lay := &layout{part: part, indexes: make([]*pivot.Index, len(part.Categories)), splitDiags: partDiags}
	results := make([]domain.Result, len(part.Categories))
	build := func(i int) {
		lay.indexes[i], results[i] = pivot.Build(e.table, part.Categories[i].Rows)
	}
	if e.parallel && len(part.Categories) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range part.Categories {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				build(i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("pivot: %w", err)
		}
	} else {
		for i := range part.Categories {
			build(i)
		}
	}
	for _, r := range results {
		for _, d := range r.Diagnostics {
			e.reportLocked(d, "")
		}
	}
	if part.SingleLocus && splitLocus {
		// Both settings share one layout when there is a single locus.
		e.layouts[false] = lay
	}
	e.layouts[splitLocus] = lay
	e.logger.Debug("pivot index built",
		zap.Bool("split_locus", splitLocus),
		zap.Bool("single_locus", part.SingleLocus),
		zap.Int("categories", len(part.Categories)),
		zap.Int("cells", len(e.cells)))
	return lay, nil
}

func (e *Evaluator) report(d domain.Diagnostic, field string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reportLocked(d, field)
}

func (e *Evaluator) reportLocked(d domain.Diagnostic, field string) {
	key := d.Code + "/" + field
	if _, dup := e.reported[key]; dup {
		return
	}
	e.reported[key] = struct{}{}
	e.diags.Diagnostics = append(e.diags.Diagnostics, d)
}
