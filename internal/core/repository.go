// Package core owns the Repository: the contig table, the per-cell metadata
// derived from it and the auxiliary slots persisted alongside them.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"clonecore/internal/aggregate"
	"clonecore/internal/locus"
	"clonecore/internal/metadata"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Error taxonomy re-exported for callers of the repository.
type (
	SchemaError        = domain.SchemaError
	LookupError        = domain.LookupError
	ConfigurationError = domain.ConfigurationError
)

var (
	ErrSchema        = domain.ErrSchema
	ErrLookup        = domain.ErrLookup
	ErrConfiguration = domain.ErrConfiguration
	// ErrNoData is returned when a repository is built without a contig table.
	ErrNoData = errors.New("repository has no contig data")
)

// Repository owns an immutable RecordTable and the MetadataTable derived
// from it. Updates are atomic: the stored metadata only changes when an
// update succeeds.
type Repository struct {
	mu        sync.RWMutex
	data      *table.RecordTable
	metadata  *metadata.Table
	diags     domain.Result
	slots     Slots
	updatedAt time.Time
	opts      repositoryOptions
}

// NewRepository wraps data. A missing locus column is inferred from the gene
// calls and reported as a locus_inferred diagnostic.
func NewRepository(data *table.RecordTable, opts ...Option) (*Repository, error) {
	if data == nil {
		return nil, ErrNoData
	}
	o := defaultRepositoryOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Repository{opts: o}
	inferred, changed, err := table.InferLocus(data)
	if err != nil {
		return nil, fmt.Errorf("infer locus: %w", err)
	}
	if changed {
		r.diags.Add(domain.SeverityLog, domain.CodeLocusInferred, "locus column inferred from gene calls", nil)
		o.logger.Info("locus column inferred from gene calls", zap.Int("contigs", inferred.Len()))
	}
	r.data = inferred
	return r, nil
}

// Load reads a contig table from any source accepted by table.Load and wraps
// it in a Repository.
func Load(src any, opts ...Option) (*Repository, error) {
	data, err := table.Load(src)
	if err != nil {
		return nil, err
	}
	return NewRepository(data, opts...)
}

// Data returns the contig table. It is immutable and safe to share.
func (r *Repository) Data() *table.RecordTable {
	return r.data
}

// UpdateMetadata initializes the metadata table when it does not exist yet
// or when Reinitialize is set, then aggregates the Retrieve fields onto it.
// Schema, lookup and configuration errors leave the stored table untouched.
func (r *Repository) UpdateMetadata(ctx context.Context, opts UpdateOptions) (domain.Result, error) {
	var diags domain.Result
	err := r.run(ctx, "update_metadata", func(ctx context.Context) error {
		var err error
		diags, err = r.update(ctx, opts)
		return err
	})
	return diags, err
}

func (r *Repository) update(ctx context.Context, opts UpdateOptions) (domain.Result, error) {
	scheme, err := locus.Lookup(opts.Locus)
	if err != nil {
		return domain.Result{}, err
	}
	cloneKey := opts.CloneKey
	if cloneKey == "" {
		cloneKey = domain.DefaultCloneKey
	}
	if strings.TrimSpace(cloneKey) == "" {
		return domain.Result{}, ConfigurationError{Option: "clone_key", Value: cloneKey, Reason: "must not be blank"}
	}
	for _, f := range opts.Retrieve {
		if !r.data.Has(f) {
			return domain.Result{}, LookupError{Field: f}
		}
	}
	builder := metadata.NewBuilder(metadata.Config{
		Scheme:          scheme,
		CloneKey:        cloneKey,
		CollapseAlleles: opts.CollapseAlleles,
		Parallel:        r.opts.parallel,
		Logger:          r.opts.logger,
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	var diags domain.Result
	base := r.metadata
	if base == nil || opts.Reinitialize {
		built, d, err := builder.Initialize(ctx, r.data)
		if err != nil {
			return d, err
		}
		diags.Merge(d)
		base = built
	}
	if len(opts.Retrieve) > 0 {
		policy := aggregate.Policy{Split: opts.Split, Collapse: opts.Collapse, Combine: opts.Combine, SplitLocus: opts.SplitLocus}
		extended, d, err := builder.Retrieve(ctx, r.data, base, opts.Retrieve, policy)
		if err != nil {
			return d, err
		}
		diags.Merge(d)
		base = extended
	}
	r.metadata = base
	r.diags = diags
	r.updatedAt = r.opts.clock.Now()
	r.logDiagnostics(diags)
	return diags, nil
}

// Metadata returns a copy of the metadata table, initializing it with the
// default options on first access.
func (r *Repository) Metadata(ctx context.Context) (*metadata.Table, error) {
	r.mu.RLock()
	md := r.metadata
	r.mu.RUnlock()
	if md == nil {
		if _, err := r.UpdateMetadata(ctx, DefaultUpdateOptions()); err != nil {
			return nil, err
		}
		r.mu.RLock()
		md = r.metadata
		r.mu.RUnlock()
	}
	return md.Copy(), nil
}

// CloneSizes returns the clone ranking of the current metadata table.
func (r *Repository) CloneSizes() []metadata.CloneSize {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return nil
	}
	return r.metadata.CloneSizes()
}

// Diagnostics returns the diagnostics of the last successful update, or the
// construction diagnostics before any update.
func (r *Repository) Diagnostics() domain.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Result{Diagnostics: append([]domain.Diagnostic(nil), r.diags.Diagnostics...)}
}

// UpdatedAt reports when the metadata table was last committed.
func (r *Repository) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

// Copy returns an independent repository sharing only the immutable contig
// table.
func (r *Repository) Copy() *Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Repository{
		data:      r.data,
		diags:     domain.Result{Diagnostics: append([]domain.Diagnostic(nil), r.diags.Diagnostics...)},
		slots:     r.slots.clone(),
		updatedAt: r.updatedAt,
		opts:      r.opts,
	}
	if r.metadata != nil {
		out.metadata = r.metadata.Copy()
	}
	return out
}

// String summarises the repository the way it is printed interactively.
func (r *Repository) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cells := 0
	if r.metadata != nil {
		cells = r.metadata.Len()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Repository object with n_obs = %d and n_contigs = %d\n", cells, r.data.Len())
	fmt.Fprintf(&b, "    data: %s\n", quoteAll(r.data.Columns()))
	if r.metadata != nil {
		fmt.Fprintf(&b, "    metadata: %s\n", quoteAll(r.metadata.Columns()))
	} else {
		b.WriteString("    metadata: None\n")
	}
	fmt.Fprintf(&b, "    edges: %d, graphs: %d, layouts: %d, germline: %d", len(r.slots.Edges), len(r.slots.Graphs), len(r.slots.Layouts), len(r.slots.Germline))
	return b.String()
}

func quoteAll(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "'" + n + "'"
	}
	return strings.Join(out, ", ")
}

func (r *Repository) logDiagnostics(diags domain.Result) {
	for _, d := range diags.Diagnostics {
		fields := []zap.Field{zap.String("code", d.Code)}
		for k, v := range d.Context {
			fields = append(fields, zap.String(k, v))
		}
		if d.Severity == domain.SeverityWarn {
			r.opts.logger.Warn(d.Message, fields...)
			continue
		}
		r.opts.logger.Info(d.Message, fields...)
	}
}

func (r *Repository) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := r.opts.tracer.Start(ctx, operation)
	err := fn(ctx)
	span.End(err)
	r.opts.metrics.Observe(ctx, operation, err == nil, time.Since(started))
	if err != nil {
		r.opts.logger.Error("repository operation failed", zap.String("operation", operation), zap.Error(err))
	}
	return err
}
