package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"clonecore/internal/blob"
	"clonecore/internal/core"
	"clonecore/pkg/domain"
)

const contigs = "sequence_id\tcell_id\tlocus\tproductive\tv_call\tj_call\tc_call\tumi_count\tjunction_aa\tclone_id\n" +
	"s1\tC1\tIGH\tT\tIGHV1-1*01\tIGHJ4*02\tIGHM\t5\tCARW\tX1\n" +
	"s2\tC1\tIGK\tT\tIGKV1-1*02\tIGKJ1*01\tIGKC\t3\tCQQ\tX1\n" +
	"s3\tC2\tIGH\tT\tIGHV2-2*01\tIGHJ6*01\tIGHG1\t2\tCAR\tX2\n"

func newRepo(t *testing.T) *core.Repository {
	t.Helper()
	repo, err := core.Load(strings.NewReader(contigs))
	require.NoError(t, err)
	_, err = repo.UpdateMetadata(context.Background(), core.DefaultUpdateOptions())
	require.NoError(t, err)
	th := 0.12
	require.NoError(t, repo.SetSlots(core.Slots{
		Edges:     []core.Edge{{Source: "C1", Target: "C2", Weight: 3}},
		Graphs:    []json.RawMessage{json.RawMessage(`{"nodes":["C1","C2"]}`)},
		Layouts:   []core.Layout{{"C1": {0, 1}, "C2": {2, 3}}},
		Germline:  map[string]string{"IGHV1-1*01": "CAGGTG"},
		Threshold: &th,
	}))
	return repo
}

func fixedStore(backend Backend, opts ...Option) *Store {
	id := uuid.MustParse("6f1c1d2e-8a56-4c1b-9d7e-2f4b7f0a9c11")
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	return New(backend, append([]Option{
		WithIDSource(func() uuid.UUID { return id }),
		WithClock(func() time.Time { return at }),
	}, opts...)...)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	backends := map[string]blob.Store{
		"memory": blob.NewMemory(),
		"s3":     blob.NewMockS3ForTests(),
	}
	for name, store := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := fixedStore(NewBlobBackend(store))
			repo := newRepo(t)

			m, err := s.Save(ctx, "pbmc", repo)
			require.NoError(t, err)
			assert.Equal(t, "6f1c1d2e-8a56-4c1b-9d7e-2f4b7f0a9c11", m.ID.String())
			assert.Equal(t, 2, m.Cells)
			assert.Equal(t, 3, m.Contigs)
			assert.Equal(t, []string{SlotData, SlotMetadata, SlotEdges, SlotGraphs, SlotLayouts, SlotGermline, SlotThreshold}, m.Slots)

			info, err := store.Head(ctx, "pbmc/data")
			require.NoError(t, err)
			assert.Equal(t, "gzip", info.ContentEncoding)

			restored, diags, err := s.Load(ctx, "pbmc")
			require.NoError(t, err)
			assert.Empty(t, diags.Diagnostics)
			assert.Equal(t, repo.Data().Columns(), restored.Data().Columns())
			assert.Equal(t, repo.Data().SequenceIDs(), restored.Data().SequenceIDs())

			want, err := repo.Metadata(ctx)
			require.NoError(t, err)
			got, err := restored.Metadata(ctx)
			require.NoError(t, err)
			assert.Equal(t, want.Header(), got.Header())
			assert.Equal(t, want.Rows(), got.Rows())
			assert.Equal(t, repo.CloneSizes(), restored.CloneSizes())

			slots := restored.Slots()
			assert.Equal(t, repo.Slots(), slots)

			readBack, err := s.Manifest(ctx, "pbmc")
			require.NoError(t, err)
			assert.Equal(t, m.Slots, readBack.Slots)
			assert.True(t, readBack.CreatedAt.Equal(m.CreatedAt))
		})
	}
}

func TestSaveReplacesStaleSlots(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	s := New(NewBlobBackend(store))
	_, err := s.Save(ctx, "rep", newRepo(t))
	require.NoError(t, err)

	bare, err := core.Load(strings.NewReader(contigs))
	require.NoError(t, err)
	m, err := s.Save(ctx, "rep", bare)
	require.NoError(t, err)
	assert.Equal(t, []string{SlotData}, m.Slots)

	infos, err := store.List(ctx, "rep/")
	require.NoError(t, err)
	keys := make([]string, 0, len(infos))
	for _, inf := range infos {
		keys = append(keys, inf.Key)
	}
	assert.Equal(t, []string{"rep/data", "rep/manifest"}, keys)

	restored, _, err := s.Load(ctx, "rep")
	require.NoError(t, err)
	assert.Empty(t, restored.Slots().Edges)
	assert.Nil(t, restored.CloneSizes())
}

func TestLoadMissingDataIsFatal(t *testing.T) {
	ctx := context.Background()
	s := New(NewBlobBackend(blob.NewMemory()))
	_, _, err := s.Load(ctx, "absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNoData))
}

func TestLoadCorruptSlotIsBestEffort(t *testing.T) {
	ctx := context.Background()
	backend := NewBlobBackend(blob.NewMemory())
	obsCore, logs := observer.New(zap.WarnLevel)
	s := New(backend, WithLogger(zap.New(obsCore)))
	_, err := s.Save(ctx, "rep", newRepo(t))
	require.NoError(t, err)

	slots := map[string][]byte{}
	for _, slot := range []string{SlotManifest, SlotData, SlotEdges, SlotGermline} {
		b, err := backend.ReadSlot(ctx, "rep", slot)
		require.NoError(t, err)
		slots[slot] = b
	}
	slots[SlotMetadata] = []byte("not gzip")
	require.NoError(t, backend.WriteSnapshot(ctx, "rep", slots))

	restored, diags, err := s.Load(ctx, "rep")
	require.NoError(t, err)
	assert.Len(t, restored.Slots().Edges, 1)
	assert.Equal(t, "CAGGTG", restored.Slots().Germline["IGHV1-1*01"])
	assert.Nil(t, restored.CloneSizes(), "metadata slot was dropped")

	// metadata is corrupt; graphs, layouts and threshold are listed in the
	// manifest but were not rewritten.
	var unreadable []string
	for _, d := range diags.Diagnostics {
		require.Equal(t, domain.CodeSlotUnreadable, d.Code)
		require.Equal(t, domain.SeverityWarn, d.Severity)
		unreadable = append(unreadable, d.Context["slot"])
	}
	assert.ElementsMatch(t, []string{SlotMetadata, SlotGraphs, SlotLayouts, SlotThreshold}, unreadable)
	assert.Equal(t, 4, logs.FilterMessage("snapshot slot skipped").Len())
}

func TestLoadTooManyGraphs(t *testing.T) {
	ctx := context.Background()
	backend := NewBlobBackend(blob.NewMemory())
	s := New(backend)
	data, err := encode(newRepo(t).Data().Export())
	require.NoError(t, err)
	graphs, err := encode([]json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{}`), json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, backend.WriteSnapshot(ctx, "rep", map[string][]byte{SlotData: data, SlotGraphs: graphs}))

	restored, diags, err := s.Load(ctx, "rep")
	require.NoError(t, err)
	assert.Empty(t, restored.Slots().Graphs)
	assert.True(t, diags.Has(domain.CodeSlotUnreadable))
}

func TestLoadTooManyLayouts(t *testing.T) {
	ctx := context.Background()
	backend := NewBlobBackend(blob.NewMemory())
	s := New(backend)
	data, err := encode(newRepo(t).Data().Export())
	require.NoError(t, err)
	layouts, err := encode(make([]core.Layout, core.MaxLayouts+1))
	require.NoError(t, err)
	graphs, err := encode([]json.RawMessage{json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, backend.WriteSnapshot(ctx, "rep", map[string][]byte{SlotData: data, SlotGraphs: graphs, SlotLayouts: layouts}))

	restored, diags, err := s.Load(ctx, "rep")
	require.NoError(t, err)
	assert.Empty(t, restored.Slots().Layouts)
	assert.Len(t, restored.Slots().Graphs, 1)
	require.Len(t, diags.Diagnostics, 1)
	assert.Equal(t, SlotLayouts, diags.Diagnostics[0].Context["slot"])
}

func TestListDeleteAndNames(t *testing.T) {
	ctx := context.Background()
	s := New(NewBlobBackend(blob.NewMemory()))
	for _, name := range []string{"b-rep", "a.rep"} {
		_, err := s.Save(ctx, name, newRepo(t))
		require.NoError(t, err)
	}
	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.rep", "b-rep"}, names)

	ok, err := s.Delete(ctx, "a.rep")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "a.rep")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"", "../x", "a/b", ".hidden", "sp ace"} {
		_, err := s.Save(ctx, bad, newRepo(t))
		assert.ErrorIs(t, err, domain.ErrConfiguration, bad)
	}
}
