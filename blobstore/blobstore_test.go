package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/vecshard/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreLifecycle(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	data := []byte("hello world, this is a shard blob")
	require.NoError(t, store.Put(ctx, "root/shard-000001.vshd", data))
	require.NoError(t, store.Put(ctx, "root/centroids.vshd", []byte("c")))
	require.NoError(t, store.Put(ctx, "other/x", []byte("x")))

	names, err := store.List(ctx, "root/")
	require.NoError(t, err)
	assert.Equal(t, []string{"root/centroids.vshd", "root/shard-000001.vshd"}, names)

	blob, err := store.Open(ctx, "root/shard-000001.vshd")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	n, err = blob.ReadAt(ctx, make([]byte, 10), int64(len(data))-3)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, blob.Close())

	all, err := ReadAll(ctx, store, "root/shard-000001.vshd")
	require.NoError(t, err)
	assert.Equal(t, data, all)

	require.NoError(t, store.Delete(ctx, "root/shard-000001.vshd"))
	require.NoError(t, store.Delete(ctx, "root/shard-000001.vshd"))

	_, err = store.Open(ctx, "root/shard-000001.vshd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStoreLifecycle(t, NewMemoryStore())
}

func TestMemoryStore_ReadLatency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithReadLatency(20 * time.Millisecond))
	require.NoError(t, store.Put(ctx, "a", []byte("abcdef")))

	blob, err := store.Open(ctx, "a")
	require.NoError(t, err)
	_, mappable := blob.(Mappable)
	assert.False(t, mappable, "latency must not be bypassed through Bytes")

	start := time.Now()
	data, err := ReadBlob(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = blob.ReadAt(cancelled, make([]byte, 1), 0)
	assert.ErrorIs(t, err, context.Canceled)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Opens)
	assert.Equal(t, int64(1), stats.Reads)
	assert.Equal(t, int64(6), stats.BytesRead)
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	testStoreLifecycle(t, NewLocalStore(dir))

	// Temporary files left behind by an interrupted Put are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root", ".tmp-x-1"), []byte("t"), 0o600))
	names, err := NewLocalStore(dir).List(context.Background(), "root/")
	require.NoError(t, err)
	assert.Equal(t, []string{"root/centroids.vshd"}, names)
}

func TestLocalStore_MissingRoot(t *testing.T) {
	_, err := NewLocalStore(filepath.Join(t.TempDir(), "missing")).List(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingStore struct {
	*MemoryStore
	reads int
}

type countingBlob struct {
	Blob
	store *countingStore
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, store: s}, nil
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	b.store.reads++
	return b.Blob.ReadAt(ctx, p, off)
}

func TestCachingStore_ReadAt(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore()}

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, inner.Put(ctx, "blob", data))

	store := NewCachingStore(inner, cache.NewLRUBlockCache(1<<20, nil), 256)

	blob, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, 300)
	n, err := blob.ReadAt(ctx, buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	assert.Equal(t, data[100:400], buf)
	assert.Equal(t, 1, inner.reads, "missing blocks are fetched as one run")

	// Second read is served from the cache.
	n, err = blob.ReadAt(ctx, buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	assert.Equal(t, 1, inner.reads)

	// Reading across the end of the blob.
	tail := make([]byte, 100)
	n, err = blob.ReadAt(ctx, tail, 950)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 50, n)
	assert.Equal(t, data[950:], tail[:50])

	all, err := ReadAll(ctx, store, "blob")
	require.NoError(t, err)
	assert.Equal(t, data, all)

	// Put invalidates cached blocks.
	require.NoError(t, store.Put(ctx, "blob", []byte("new")))
	all, err = ReadAll(ctx, store, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), all)
	assert.Positive(t, store.Stats().Hits)
}
