package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clonecore/internal/core"
	"clonecore/internal/snapshot"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "clonecore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWriteReadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.WriteSnapshot(ctx, "rep", map[string][]byte{
		snapshot.SlotData:  []byte("v1"),
		snapshot.SlotEdges: []byte("edges"),
	}))
	require.NoError(t, store.WriteSnapshot(ctx, "rep", map[string][]byte{snapshot.SlotData: []byte("v2")}))
	require.NoError(t, store.WriteSnapshot(ctx, "alt", map[string][]byte{snapshot.SlotData: []byte("x")}))

	got, err := store.ReadSlot(ctx, "rep", snapshot.SlotData)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
	_, err = store.ReadSlot(ctx, "rep", snapshot.SlotEdges)
	require.ErrorIs(t, err, snapshot.ErrNotFound)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alt", "rep"}, names)

	ok, err := store.Delete(ctx, "alt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, "alt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenKeepsSnapshots(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.WriteSnapshot(ctx, "rep", map[string][]byte{snapshot.SlotData: []byte("payload")}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, path, reopened.Path())
	got, err := reopened.ReadSlot(ctx, "rep", snapshot.SlotData)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestSnapshotStoreOnSQLite(t *testing.T) {
	ctx := context.Background()
	tsv := "sequence_id\tcell_id\tlocus\tproductive\tv_call\tj_call\tc_call\tumi_count\tjunction_aa\tclone_id\n" +
		"s1\tC1\tIGH\tT\tIGHV1-1*01\tIGHJ4*02\tIGHM\t5\tCARW\tX1\n" +
		"s2\tC1\tIGK\tT\tIGKV1-1*02\tIGKJ1*01\tIGKC\t3\tCQQ\tX1\n"
	repo, err := core.Load(strings.NewReader(tsv))
	require.NoError(t, err)
	_, err = repo.UpdateMetadata(ctx, core.DefaultUpdateOptions())
	require.NoError(t, err)

	snaps := snapshot.New(newStore(t))
	_, err = snaps.Save(ctx, "pbmc", repo)
	require.NoError(t, err)

	restored, diags, err := snaps.Load(ctx, "pbmc")
	require.NoError(t, err)
	assert.Empty(t, diags.Diagnostics)
	md, err := restored.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, md.Cells())
	assert.Equal(t, repo.CloneSizes(), restored.CloneSizes())
}
