package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clonecore/internal/locus"
	"clonecore/pkg/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder receives the outcome and latency of every repository
// operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around repository operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type repositoryOptions struct {
	clock    Clock
	logger   *zap.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	parallel bool
}

func defaultRepositoryOptions() repositoryOptions {
	return repositoryOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
}

// Option customises a Repository.
type Option func(*repositoryOptions)

// WithClock overrides the clock used to stamp updates.
func WithClock(clock Clock) Option {
	return func(o *repositoryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *repositoryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *repositoryOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(o *repositoryOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithParallel evaluates locus categories concurrently.
func WithParallel(enabled bool) Option {
	return func(o *repositoryOptions) { o.parallel = enabled }
}

// UpdateOptions mirrors the parameters of a metadata update.
type UpdateOptions struct {
	// Retrieve lists contig fields to aggregate onto the metadata table.
	Retrieve []string
	// Locus names the locus scheme. Empty selects "ig".
	Locus string
	// CloneKey names the clone identifier column. Empty selects "clone_id".
	CloneKey        string
	Split           bool
	Collapse        bool
	Combine         bool
	SplitLocus      bool
	CollapseAlleles bool
	// Reinitialize rebuilds the table from scratch before retrieving.
	Reinitialize bool
}

// DefaultUpdateOptions returns split, collapse, combine and allele
// collapsing enabled, the ig scheme and the clone_id clone key.
func DefaultUpdateOptions() UpdateOptions {
	return UpdateOptions{
		Locus:           locus.Immunoglobulin.Name,
		CloneKey:        domain.DefaultCloneKey,
		Split:           true,
		Collapse:        true,
		Combine:         true,
		CollapseAlleles: true,
	}
}
