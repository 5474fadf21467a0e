package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"clonecore/internal/metadata"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

const header = "sequence_id\tcell_id\tlocus\tproductive\tv_call\tj_call\tc_call\tumi_count\tjunction_aa\tclone_id\n"

const twoCells = header +
	"s1\tC1\tIGH\tT\tIGHV1-1*01\tIGHJ4*02\tIGHM\t5\tCARW\tX1\n" +
	"s2\tC1\tIGK\tT\tIGKV1-1*02\tIGKJ1*01\tIGKC\t3\tCQQ\tX1\n" +
	"s3\tC2\tIGH\tT\tIGHV2-2*01\tIGHJ6*01\tIGHG1\t2\tCAR\tX2\n"

func newRepo(t *testing.T, tsv string, opts ...Option) *Repository {
	t.Helper()
	repo, err := Load(strings.NewReader(tsv), opts...)
	require.NoError(t, err)
	return repo
}

func TestUpdateMetadataEndToEnd(t *testing.T) {
	repo := newRepo(t, twoCells)
	_, err := repo.UpdateMetadata(context.Background(), DefaultUpdateOptions())
	require.NoError(t, err)

	md, err := repo.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, md.Len())
	assert.Equal(t, "IGH + IGK", md.Value("C1", metadata.ColumnStatus).Text())
	assert.Equal(t, "IGH + IGK", md.Value("C1", metadata.ColumnStatusSummary).Text())
	assert.Equal(t, "IGH_only", md.Value("C2", metadata.ColumnStatus).Text())
	assert.Equal(t, "IGHV1-1", md.Value("C1", "v_call_heavy").Text())
	assert.Equal(t, []metadata.CloneSize{{ID: "X1", Size: 1, Rank: 1}, {ID: "X2", Size: 1, Rank: 2}}, repo.CloneSizes())
}

func TestMetadataInitializesLazily(t *testing.T) {
	repo := newRepo(t, twoCells)
	assert.Nil(t, repo.CloneSizes())
	md, err := repo.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, md.Cells())
	assert.False(t, repo.UpdatedAt().IsZero())

	require.NoError(t, md.Set(metadata.Column{Name: "scratch", Values: make([]table.Value, md.Len())}))
	again, err := repo.Metadata(context.Background())
	require.NoError(t, err)
	assert.False(t, again.Has("scratch"), "callers receive copies")
}

func TestUpdateMetadataFailuresKeepPriorTable(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, twoCells)
	_, err := repo.UpdateMetadata(ctx, DefaultUpdateOptions())
	require.NoError(t, err)
	before, err := repo.Metadata(ctx)
	require.NoError(t, err)

	opts := DefaultUpdateOptions()
	opts.Retrieve = []string{"junction_aa", "mystery"}
	_, err = repo.UpdateMetadata(ctx, opts)
	var lookup LookupError
	require.ErrorAs(t, err, &lookup)
	assert.Equal(t, "mystery", lookup.Field)

	opts = DefaultUpdateOptions()
	opts.Locus = "tr"
	opts.Reinitialize = true
	_, err = repo.UpdateMetadata(ctx, opts)
	assert.True(t, errors.Is(err, ErrConfiguration))

	after, err := repo.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Columns(), after.Columns())
	assert.Equal(t, before.Rows(), after.Rows())
}

func TestUpdateMetadataSchemaError(t *testing.T) {
	repo := newRepo(t, "sequence_id\tcell_id\tlocus\na\tC1\tIGH\n")
	_, err := repo.UpdateMetadata(context.Background(), DefaultUpdateOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)
	_, err = repo.Metadata(context.Background())
	assert.ErrorIs(t, err, ErrSchema)
}

func TestUpdateMetadataRetrieve(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, twoCells)
	opts := DefaultUpdateOptions()
	opts.Retrieve = []string{"junction_aa"}
	opts.Split = false
	_, err := repo.UpdateMetadata(ctx, opts)
	require.NoError(t, err)
	md, err := repo.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CARW|CQQ", "CAR"}, md.Strings("junction_aa"))
	assert.True(t, md.Has(metadata.ColumnStatus), "initialized before retrieving")

	opts.Retrieve = []string{"umi_count"}
	opts.Split = true
	opts.Collapse = false
	diags, err := repo.UpdateMetadata(ctx, opts)
	require.NoError(t, err)
	assert.False(t, diags.Has(domain.CodeTypeMismatch), "collapse was not requested")
	md, err = repo.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", md.Value("C1", "umi_count_H_0").Text())
}

func TestSingleLocusSplitLocusIsIgnored(t *testing.T) {
	repo := newRepo(t, header+
		"a\tC1\tIGH\tT\tIGHV1-1*01\tIGHJ4\tIGHM\t1\tCAR\t\n"+
		"b\tC2\tIGH\tT\tIGHV1-2*01\tIGHJ4\tIGHM\t1\tCAK\t\n")
	opts := DefaultUpdateOptions()
	opts.SplitLocus = true
	opts.Retrieve = []string{"junction_aa"}
	diags, err := repo.UpdateMetadata(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, diags.Has(domain.CodeSingleLocus))
	assert.True(t, repo.Diagnostics().Has(domain.CodeSingleLocus))
	md, err := repo.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CAR", "CAK"}, md.Strings("junction_aa"))
	assert.False(t, md.Has("clone_id"), "all-missing clone column is skipped")
}

func TestRowCountMatchesDistinctCells(t *testing.T) {
	var b strings.Builder
	b.WriteString(header)
	cells := []string{"C3", "C1", "C3", "C2", "C1", "C4"}
	loci := []string{"IGH", "IGK", "IGL", "IGH", "IGH", "IGK"}
	for i, cell := range cells {
		b.WriteString(strings.Join([]string{"s" + string(rune('a'+i)), cell, loci[i], "T", "V", "J", "C", "1", "CAR", "X"}, "\t") + "\n")
	}
	repo := newRepo(t, b.String(), WithParallel(true))
	md, err := repo.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C3", "C1", "C2", "C4"}, md.Cells())
	assert.Equal(t, []string{"IGH + IGL", "IGH + IGK", "IGH_only", "IGK_only"}, md.Strings(metadata.ColumnStatus))
}

func TestLocusInferredOnConstruction(t *testing.T) {
	repo := newRepo(t, "sequence_id\tcell_id\tv_call\nx\tC1\tIGHV1-2*01\ny\tC1\tIGLV2-14*01\n")
	assert.True(t, repo.Diagnostics().Has(domain.CodeLocusInferred))
	assert.Equal(t, []string{"IGH", "IGL"}, repo.Data().Strings("locus"))

	_, err := NewRepository(nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRepositoryObservability(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewExpvarMetricsRecorder("")
	var traceOut bytes.Buffer
	tracer := NewJSONTracer(&traceOut)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newRepo(t, twoCells,
		WithLogger(zap.New(core)),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	_, err := repo.UpdateMetadata(context.Background(), DefaultUpdateOptions())
	require.NoError(t, err)
	opts := DefaultUpdateOptions()
	opts.Retrieve = []string{"absent"}
	_, err = repo.UpdateMetadata(context.Background(), opts)
	require.Error(t, err)

	stats := metrics.Snapshot().Operations["update_metadata"]
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(1), stats.Failures)
	assert.GreaterOrEqual(t, stats.MaxMS, stats.MeanMS())
	assert.NotEmpty(t, metrics.Name())

	records := tracer.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "success", records[0].Status)
	assert.Equal(t, "error", records[1].Status)
	assert.Contains(t, records[1].Error, "absent")
	assert.Equal(t, 2, strings.Count(traceOut.String(), `"operation":"update_metadata"`))
	assert.Equal(t, fixed, repo.UpdatedAt())

	warned := logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("code", domain.CodeTypeMismatch))
	assert.Equal(t, 1, warned.Len(), "umi_count cannot be collapsed")
	assert.Equal(t, 1, logs.FilterMessage("repository operation failed").Len())
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	require.NoError(t, err)
	repo := newRepo(t, twoCells, WithMetricsRecorder(rec))
	_, err = repo.UpdateMetadata(context.Background(), DefaultUpdateOptions())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.total.WithLabelValues("update_metadata", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.duration))

	_, err = NewPrometheusMetricsRecorder(reg)
	assert.Error(t, err, "collectors cannot be registered twice")
}

func TestCopySummaryAndGermline(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, twoCells)
	assert.Contains(t, repo.String(), "metadata: None")
	_, err := repo.UpdateMetadata(ctx, DefaultUpdateOptions())
	require.NoError(t, err)
	assert.Contains(t, repo.String(), "n_obs = 2 and n_contigs = 3")
	assert.Contains(t, repo.String(), "'status'")

	n, err := repo.UpdateGermline(strings.NewReader(">IGHV1-1*01 human\nacgt\nTTGG\n\n>IGKV1-1*02\nccc\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ACGTTTGG", repo.Slots().Germline["IGHV1-1*01"])

	cp := repo.Copy()
	_, err = cp.UpdateGermline(strings.NewReader(">extra\nA\n"))
	require.NoError(t, err)
	assert.Len(t, repo.Slots().Germline, 2)
	assert.Len(t, cp.Slots().Germline, 3)

	_, err = repo.UpdateGermline(strings.NewReader("ACGT\n"))
	assert.Error(t, err)
}

func TestSlotsValidateAndRestore(t *testing.T) {
	repo := newRepo(t, twoCells)
	th := 0.85
	require.NoError(t, repo.SetSlots(Slots{
		Edges:     []Edge{{Source: "C1", Target: "C2", Weight: 1}},
		Layouts:   []Layout{{"C1": {0, 1}}},
		Threshold: &th,
	}))
	err := repo.SetSlots(Slots{Layouts: make([]Layout, MaxLayouts+1)})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorContains(t, err, "layouts")
	err = repo.SetSlots(Slots{Graphs: make([]json.RawMessage, MaxGraphs+1)})
	assert.ErrorIs(t, err, ErrConfiguration)
	require.NoError(t, repo.SetSlots(Slots{Layouts: make([]Layout, MaxLayouts)}))

	st := repo.State()
	assert.Nil(t, st.Metadata)
	restored, err := Restore(st)
	require.NoError(t, err)
	assert.Equal(t, 0.85, *restored.Slots().Threshold)
	assert.Equal(t, repo.Data().SequenceIDs(), restored.Data().SequenceIDs())

	_, err = Restore(State{})
	assert.ErrorIs(t, err, ErrNoData)
}
