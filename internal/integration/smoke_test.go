package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clonecore/internal/adapters/export"
	"clonecore/internal/blob"
	"clonecore/internal/core"
	"clonecore/internal/infra/persistence/sqlite"
	"clonecore/internal/snapshot"
	"clonecore/pkg/domain"
)

const contigs = "sequence_id\tcell_id\tlocus\tproductive\tv_call\tj_call\tc_call\tumi_count\tjunction_aa\tclone_id\tsample_id\n" +
	"s1\tC1\tIGH\tT\tIGHV1-1*01\tIGHJ4*02\tIGHM\t5\tCARW\tX1\tS1\n" +
	"s2\tC1\tIGK\tT\tIGKV1-1*02\tIGKJ1*01\tIGKC\t3\tCQQ\tX1\tS1\n" +
	"s3\tC2\tIGH\tT\tIGHV2-2*01\tIGHJ6*01\tIGHG1\t2\tCAR\tX2\tS1\n" +
	"s4\tC3\tIGH\tT\tIGHV1-1*01\tIGHJ4*02\tIGHM\t7\tCARW\tX1\tS2\n" +
	"s5\tC3\tIGL\tF\tIGLV2-14*01\tIGLJ2*01\tIGLC2\t1\tCSS\tX1\tS2\n"

// TestIntegrationSmoke runs the whole flow once per snapshot backend:
// load contigs, build and extend metadata, persist, restore and export.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	variants := []struct {
		name string
		open func(t *testing.T) snapshot.Backend
	}{
		{
			name: "memory-blob",
			open: func(_ *testing.T) snapshot.Backend { return snapshot.NewBlobBackend(blob.NewMemory()) },
		},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) snapshot.Backend {
				store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, Root: t.TempDir()})
				require.NoError(t, err)
				return snapshot.NewBlobBackend(store)
			},
		},
		{
			name: "s3-blob-mock",
			open: func(_ *testing.T) snapshot.Backend { return snapshot.NewBlobBackend(blob.NewMockS3ForTests()) },
		},
		{
			name: "sqlite",
			open: func(t *testing.T) snapshot.Backend {
				st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "clonecore.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = st.Close() })
				return st
			},
		},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			repo, err := core.Load(strings.NewReader(contigs))
			require.NoError(t, err)

			opts := core.DefaultUpdateOptions()
			_, err = repo.UpdateMetadata(ctx, opts)
			require.NoError(t, err)
			opts.Retrieve = []string{domain.ColumnJunctionAA}
			opts.SplitLocus = true
			_, err = repo.UpdateMetadata(ctx, opts)
			require.NoError(t, err)
			_, err = repo.UpdateGermline(strings.NewReader(">IGHV1-1*01\ncaggtg\n"))
			require.NoError(t, err)

			store := snapshot.New(v.open(t))
			m, err := store.Save(ctx, "smoke", repo)
			require.NoError(t, err)
			assert.Equal(t, 3, m.Cells)
			assert.Equal(t, 5, m.Contigs)

			restored, diags, err := store.Load(ctx, "smoke")
			require.NoError(t, err)
			assert.Empty(t, diags.Diagnostics)
			assert.Equal(t, repo.String(), restored.String())
			assert.Equal(t, "CAGGTG", restored.Slots().Germline["IGHV1-1*01"])

			want, err := repo.Metadata(ctx)
			require.NoError(t, err)
			got, err := restored.Metadata(ctx)
			require.NoError(t, err)
			assert.Equal(t, want.Columns(), got.Columns())
			assert.Contains(t, got.Columns(), "junction_aa_IGH")
			assert.Equal(t, "X1", got.Value("C3", domain.DefaultCloneKey).Text())

			exp := export.New(export.WithStore(blob.NewMemory()))
			wantCSV, err := exp.Materialize(export.FormatCSV, want, nil)
			require.NoError(t, err)
			gotCSV, err := exp.Materialize(export.FormatCSV, got, nil)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(wantCSV.Payload, gotCSV.Payload), "restored metadata renders identically")

			artifact, err := exp.Publish(ctx, "smoke", export.FormatJSON, got, []string{domain.DefaultCloneKey})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(artifact.Key, "exports/smoke/"))

			names, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"smoke"}, names)
		})
	}
}
