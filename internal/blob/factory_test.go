package blob

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	fs, err := Open(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fs.Driver())

	mem, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, mem.Driver())

	_, err = Open(ctx, Config{Driver: DriverS3})
	require.Error(t, err, "bucket is mandatory")

	_, err = Open(ctx, Config{Driver: "gcs"})
	require.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CLONECORE_BLOB_DRIVER", "s3")
	t.Setenv("CLONECORE_BLOB_S3_BUCKET", "snapshots")
	t.Setenv("CLONECORE_BLOB_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("CLONECORE_BLOB_S3_PATH_STYLE", "TRUE")

	cfg := ConfigFromEnv()
	assert.Equal(t, DriverS3, cfg.Driver)
	assert.Equal(t, "snapshots", cfg.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.Endpoint)
	assert.True(t, cfg.PathStyle)
}

func TestStoresShareSemantics(t *testing.T) {
	ctx := context.Background()
	fs, err := Open(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	for _, store := range []Store{NewMemory(), NewMockS3ForTests(), fs} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			_, err := store.Put(ctx, "a/b", bytes.NewReader([]byte("x")), PutOptions{})
			require.NoError(t, err)
			_, err = store.Put(ctx, "a/b", bytes.NewReader([]byte("y")), PutOptions{})
			require.ErrorIs(t, err, ErrExists)
			_, err = store.Head(ctx, "a/missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}
