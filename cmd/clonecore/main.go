// Command clonecore aggregates per-contig immune receptor records into
// per-cell metadata tables and manages repository snapshots.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clonecore/internal/blob"
	"clonecore/internal/config"
	"clonecore/internal/core"
	"clonecore/internal/infra/persistence/postgres"
	"clonecore/internal/infra/persistence/sqlite"
	"clonecore/internal/pkg/logger"
	"clonecore/internal/snapshot"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

var (
	// Global flags
	cfgPath    string
	verbose    bool
	metricsOut string
	trace      bool

	// Loaded in PersistentPreRunE; tests assign it directly.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clonecore",
	Short: "Per-cell aggregation of immune receptor contig tables",
	Long: `clonecore reads AIRR-style contig tables (one row per contig) and builds a
per-cell metadata table: clone membership, chain status, productivity,
isotype and any contig field you retrieve, split by locus and collapsed
the way the update options ask.

Configuration is read from clonecore.yaml and CLONECORE_* environment
variables; flags override both.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbose {
			return logger.SetLevel("debug")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: ./clonecore.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "write repository metrics to this file on exit")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "write repository operation spans to stderr as JSON lines")

	rootCmd.AddCommand(metadataCmd, concatCmd, snapshotCmd, schemesCmd, fdrCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// currentConfig returns the loaded configuration, or the defaults when a
// run function is called without the root pre-run.
func currentConfig() (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg = loaded
	return cfg, nil
}

// metricsSink pairs a recorder with the function that flushes it to
// --metrics-out.
type metricsSink struct {
	recorder core.MetricsRecorder
	flush    func(path string) error
}

func newMetricsSink(backend string) (metricsSink, error) {
	switch backend {
	case "prometheus":
		reg := prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return metricsSink{}, fmt.Errorf("register metrics: %w", err)
		}
		return metricsSink{recorder: rec, flush: func(path string) error {
			return prometheus.WriteToTextfile(path, reg)
		}}, nil
	case "expvar":
		rec := core.NewExpvarMetricsRecorder("")
		return metricsSink{recorder: rec, flush: func(path string) error {
			payload, err := json.MarshalIndent(rec.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(path, payload, 0o644)
		}}, nil
	default:
		return metricsSink{}, nil
	}
}

func (m metricsSink) options() []core.Option {
	if m.recorder == nil {
		return nil
	}
	return []core.Option{core.WithMetricsRecorder(m.recorder)}
}

func (m metricsSink) write() error {
	if m.flush == nil || metricsOut == "" {
		return nil
	}
	if err := m.flush(metricsOut); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// repositoryOptions builds the options shared by every command that opens a
// repository.
func repositoryOptions(cmd *cobra.Command, c *config.Config, sink metricsSink) []core.Option {
	opts := []core.Option{
		core.WithLogger(logger.OrNop()),
		core.WithParallel(c.Metadata.Parallel),
	}
	if trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(cmd.ErrOrStderr())))
	}
	return append(opts, sink.options()...)
}

// readTables loads every contig table in paths. More than one path is
// concatenated, with sequence ids disambiguated when checkUnique is set.
func readTables(paths []string, checkUnique bool) (*table.RecordTable, error) {
	tables := make([]*table.RecordTable, 0, len(paths))
	for _, p := range paths {
		t, err := table.ReadFile(p)
		if err != nil {
			return nil, err
		}
		logger.OrNop().Debug("contig table loaded", zap.String("path", p), zap.Int("contigs", t.Len()))
		tables = append(tables, t)
	}
	if len(tables) == 1 {
		return tables[0], nil
	}
	return table.Concat(tables, checkUnique)
}

// openSnapshots opens the configured snapshot backend. The returned closer
// releases database handles and is never nil.
func openSnapshots(ctx context.Context, c *config.Config) (*snapshot.Store, func() error, error) {
	var (
		backend snapshot.Backend
		closer  = func() error { return nil }
	)
	switch c.Snapshot.Driver {
	case "sqlite":
		st, err := sqlite.NewStore(c.Snapshot.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = st, st.Close
	case "postgres":
		st, err := postgres.NewStore(ctx, c.Snapshot.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = st, st.Close
	default:
		store, err := openBlobStore(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		backend = snapshot.NewBlobBackend(store)
	}
	return snapshot.New(backend, snapshot.WithLogger(logger.OrNop())), closer, nil
}

// openBlobStore opens the blob store configured under snapshot.blob. Exports
// are published to the same store.
func openBlobStore(ctx context.Context, c *config.Config) (blob.Store, error) {
	b := c.Snapshot.Blob
	store, err := blob.Open(ctx, blob.Config{
		Driver:    blob.Driver(b.Driver),
		Root:      b.Root,
		Bucket:    b.Bucket,
		Prefix:    b.Prefix,
		Region:    b.Region,
		Endpoint:  b.Endpoint,
		PathStyle: b.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return store, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// printDiagnostics writes one line per diagnostic.
func printDiagnostics(w io.Writer, diags domain.Result) {
	for _, d := range diags.Diagnostics {
		fmt.Fprintln(w, d.String())
	}
}
