package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimRoot(t *testing.T) {
	assert.Equal(t, "shard-000001.vshd", trimRoot("root/shard-000001.vshd", "root"))
	assert.Equal(t, "shard-000001.vshd", trimRoot("root/shard-000001.vshd", "root/"))
	assert.Equal(t, "a/b", trimRoot("a/b", ""))
}

func TestReadLen(t *testing.T) {
	n, err := readLen(0, 5, 10)
	assert.Zero(t, n)
	assert.NoError(t, err)

	n, err = readLen(4, 10, 10)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = readLen(8, 6, 10)
	assert.Equal(t, 4, n)
	assert.NoError(t, err)

	n, err = readLen(3, 0, 10)
	assert.Equal(t, 3, n)
	assert.NoError(t, err)
}

// TestStore_Integration requires a running MinIO instance.
// Set MINIO_ENDPOINT to enable it.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "vecshard-test"

	store := NewStore(client, bucket, "test-root/", WithPartSize(5<<20))
	if err := store.EnsureBucket(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	data := []byte("hello minio shard")
	require.NoError(t, store.Put(ctx, "shard-000000.vshd", data))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "shard-000000.vshd")

	blob, err := store.Open(ctx, "shard-000000.vshd")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "minio", string(buf))

	n, err = blob.ReadAt(ctx, make([]byte, 10), int64(len(data))-2)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, store.Delete(ctx, "shard-000000.vshd"))
	_, err = store.Open(ctx, "shard-000000.vshd")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
