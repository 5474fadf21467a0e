package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clonecore/internal/blob/core"
)

func TestStore_PutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	assert.Equal(t, core.DriverS3, store.Driver())

	payload := []byte("\x1f\x8b\r\nbinary\r\n0\r\n")
	info, err := store.Put(ctx, "rep/data", bytes.NewReader(payload), core.PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Metadata:        map[string]string{"slot": "data"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.Equal(t, "gzip", info.ContentEncoding)
	assert.Equal(t, "data", info.Metadata["slot"])
	assert.NotEmpty(t, info.ETag)

	_, err = store.Put(ctx, "rep/data", bytes.NewReader([]byte("x")), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	got, rc, err := store.Get(ctx, "rep/data")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, body)
	assert.Equal(t, "application/json", got.ContentType)

	_, err = store.Put(ctx, "rep/data", bytes.NewReader([]byte("v2")), core.PutOptions{Overwrite: true})
	require.NoError(t, err)
	head, err := store.Head(ctx, "rep/data")
	require.NoError(t, err)
	assert.Equal(t, int64(2), head.Size)

	ok, err := store.Delete(ctx, "rep/data")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, "rep/data")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Head(ctx, "rep/data")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = store.Get(ctx, "rep/data")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_ListPages(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	for i := 0; i < 5; i++ {
		_, err := store.Put(ctx, fmt.Sprintf("rep/slot%d", i), bytes.NewReader([]byte{byte(i)}), core.PutOptions{})
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, "other/slot", bytes.NewReader(nil), core.PutOptions{})
	require.NoError(t, err)

	list, err := store.List(ctx, "rep/")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, inf := range list {
		assert.Equal(t, fmt.Sprintf("rep/slot%d", i), inf.Key)
		assert.Equal(t, int64(1), inf.Size)
	}
}

func TestStore_EmptyObject(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	info, err := store.Put(ctx, "rep/threshold", bytes.NewReader(nil), core.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size)

	_, rc, err := store.Get(ctx, "rep/threshold")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Empty(t, body)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewWithClient_PrefixNormalised(t *testing.T) {
	s := newWithClient(nil, "b", "tenant")
	assert.Equal(t, "tenant/data", s.objectKey("data"))
	s = newWithClient(nil, "b", "")
	assert.Equal(t, "data", s.objectKey("data"))
}

func TestDecodeChunked(t *testing.T) {
	raw := "5;chunk-signature=abc\r\nhello\r\n3\r\n\r\nx\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"
	got, err := decodeChunked([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "hello\r\nx", string(got))

	_, err = decodeChunked([]byte("zz\r\n"))
	require.Error(t, err)
}
