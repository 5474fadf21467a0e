package metadata

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"clonecore/internal/aggregate"
	"clonecore/internal/locus"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Config controls metadata construction.
type Config struct {
	Scheme locus.Scheme
	// CloneKey names the clone identifier field. Empty selects clone_id.
	CloneKey string
	// CollapseAlleles strips allele suffixes from V/D/J call columns.
	CollapseAlleles bool
	Parallel        bool
	Logger          *zap.Logger
}

// Builder builds and extends metadata tables from a RecordTable.
type Builder struct {
	cfg    Config
	logger *zap.Logger
}

// NewBuilder returns a Builder. Missing config values are defaulted.
func NewBuilder(cfg Config) *Builder {
	if cfg.Scheme.Name == "" {
		cfg.Scheme = locus.Immunoglobulin
	}
	if cfg.CloneKey == "" {
		cfg.CloneKey = domain.DefaultCloneKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// RequiredColumns returns the columns a RecordTable must hold before
// metadata can be initialized. duplicate_count stands in for umi_count when
// the latter is absent.
func RequiredColumns(t *table.RecordTable) []string {
	count := domain.ColumnUMICount
	if !t.Has(domain.ColumnUMICount) && t.Has(domain.ColumnDuplicateCount) {
		count = domain.ColumnDuplicateCount
	}
	return []string{
		domain.ColumnSequenceID, domain.ColumnCellID, domain.ColumnLocus, domain.ColumnProductive,
		domain.ColumnVCall, domain.ColumnJCall, domain.ColumnCCall, count, domain.ColumnJunctionAA,
	}
}

// CheckSchema returns a domain.SchemaError naming every missing required
// column.
func CheckSchema(t *table.RecordTable) error {
	var missing []string
	for _, c := range RequiredColumns(t) {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return domain.SchemaError{Missing: missing, Hint: "metadata needs all of: " + strings.Join(RequiredColumns(t), ", ")}
	}
	return nil
}

// vField is the V call field used for status and aggregation.
func vField(t *table.RecordTable) string {
	if t.Has(domain.ColumnVCallGenotyped) {
		return domain.ColumnVCallGenotyped
	}
	return domain.ColumnVCall
}

// InitialRequests lists the fields aggregated at initialization together
// with their policies. sample_id and the clone key are merged across chains,
// deduplicated and read as text; every other field is split by chain and
// collapsed.
func (b *Builder) InitialRequests(t *table.RecordTable) []aggregate.Request {
	standard := aggregate.DefaultPolicy()
	merged := aggregate.Policy{Collapse: true, Combine: true, Text: true}
	var reqs []aggregate.Request
	if t.Has(b.cfg.CloneKey) && !t.AllMissing(b.cfg.CloneKey) {
		reqs = append(reqs, aggregate.Request{Field: b.cfg.CloneKey, Policy: merged})
	}
	if t.Has(domain.ColumnSampleID) {
		reqs = append(reqs, aggregate.Request{Field: domain.ColumnSampleID, Policy: merged})
	}
	for _, f := range RequiredColumns(t) {
		switch f {
		case domain.ColumnCellID:
			continue
		case domain.ColumnVCall:
			f = vField(t)
		}
		reqs = append(reqs, aggregate.Request{Field: f, Policy: standard})
	}
	return reqs
}

// Initialize builds a fresh metadata table: every initial field is
// aggregated, then the clone, status, productive, isotype, allele and
// V(D)J multiplicity columns are derived in that order.
func (b *Builder) Initialize(ctx context.Context, t *table.RecordTable) (*Table, domain.Result, error) {
	if strings.TrimSpace(b.cfg.CloneKey) == "" {
		return nil, domain.Result{}, domain.ConfigurationError{Option: "clone_key", Value: b.cfg.CloneKey, Reason: "must not be blank"}
	}
	if err := CheckSchema(t); err != nil {
		return nil, domain.Result{}, err
	}
	ev := b.evaluator(t)
	results, err := ev.EvaluateAll(ctx, b.InitialRequests(t))
	if err != nil {
		return nil, ev.Diagnostics(), err
	}
	out := NewTable(ev.Cells())
	for _, res := range results {
		if err := out.Merge(ev.Cells(), columnsOf(res)); err != nil {
			return nil, ev.Diagnostics(), err
		}
	}
	diags := ev.Diagnostics()
	d := &deriver{table: out, vField: vField(t)}
	if out.Has(b.cfg.CloneKey) {
		if err := d.clones(b.cfg.CloneKey); err != nil {
			return nil, diags, err
		}
	}
	steps := []func() error{d.status, d.productive, d.isotype}
	if b.cfg.CollapseAlleles {
		steps = append(steps, d.alleles)
	}
	steps = append(steps, d.vdj)
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, diags, err
		}
	}
	diags.Merge(d.diags)
	b.logger.Debug("metadata initialized",
		zap.Int("cells", out.Len()),
		zap.Int("columns", len(out.Columns())),
		zap.Int("diagnostics", len(diags.Diagnostics)))
	return out, diags, nil
}

// Retrieve aggregates fields under policy and left-joins them onto a copy of
// base by cell id, overwriting columns of the same name. Derived columns are
// not recomputed. Every field is validated before any work is done.
func (b *Builder) Retrieve(ctx context.Context, t *table.RecordTable, base *Table, fields []string, policy aggregate.Policy) (*Table, domain.Result, error) {
	for _, f := range fields {
		if !t.Has(f) {
			return nil, domain.Result{}, domain.LookupError{Field: f}
		}
	}
	ev := b.evaluator(t)
	out := base.Copy()
	var changed []Column
	for _, f := range fields {
		res, err := ev.Evaluate(ctx, f, policy)
		if err != nil {
			return nil, ev.Diagnostics(), err
		}
		cols := columnsOf(res)
		if b.cfg.CollapseAlleles && isGeneCall(f) {
			for i := range cols {
				cols[i] = collapseColumn(cols[i])
			}
		}
		changed = append(changed, cols...)
	}
	if err := out.Merge(ev.Cells(), changed); err != nil {
		return nil, ev.Diagnostics(), err
	}
	return out, ev.Diagnostics(), nil
}

func (b *Builder) evaluator(t *table.RecordTable) *aggregate.Evaluator {
	return aggregate.NewEvaluator(t, aggregate.Options{Scheme: b.cfg.Scheme, Parallel: b.cfg.Parallel, Logger: b.logger})
}

func columnsOf(res aggregate.FieldResult) []Column {
	out := make([]Column, len(res.Columns))
	for i, c := range res.Columns {
		out[i] = Column{Name: c.Name, Field: c.Field, Chain: c.Chain, Kind: c.Kind, Values: c.Values}
	}
	return out
}

func isGeneCall(name string) bool {
	for _, g := range []string{domain.ColumnVCall, domain.ColumnDCall, domain.ColumnJCall} {
		if strings.Contains(name, g) {
			return true
		}
	}
	return false
}

func collapseColumn(c Column) Column {
	vals := make([]table.Value, len(c.Values))
	for i, v := range c.Values {
		vals[i] = collapseValue(v)
	}
	c.Values = vals
	return c
}

func collapseValue(v table.Value) table.Value {
	if s, ok := v.Str(); ok {
		return table.String(CollapseAlleles(s))
	}
	if v.Kind() == table.KindList && !v.IsMissing() {
		items := v.Items()
		for i := range items {
			items[i] = collapseValue(items[i])
		}
		return table.List(items)
	}
	return v
}
