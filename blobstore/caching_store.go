package blobstore

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hupe1980/vecshard/internal/cache"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the caching granularity used when none is given.
const DefaultBlockSize = 64 * 1024

// maxRunFetches bounds the concurrent backend reads of one ReadAt.
const maxRunFetches = 16

// CachingStore puts a block cache in front of another store. It pays off
// for remote stores where a shard evicted from the shard cache is often
// loaded again soon after.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore wraps inner. A blockSize <= 0 selects DefaultBlockSize.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{inner: inner, cache: c, blockSize: blockSize}
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachedBlob{Blob: b, store: s, name: name}, nil
}

// Put drops the cached blocks of name before writing through.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.forget(name)
	return s.inner.Put(ctx, name, data)
}

// Delete drops the cached blocks of name before deleting it.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.forget(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the block cache counters.
func (s *CachingStore) Stats() cache.Stats { return s.cache.Stats() }

func (s *CachingStore) forget(name string) {
	s.cache.Invalidate(func(k cache.Key) bool { return k.Blob == name })
}

// cachedBlob serves reads block by block. Size and Close come from the
// embedded backend blob.
type cachedBlob struct {
	Blob
	store *CachingStore
	name  string
}

func (b *cachedBlob) key(i int64) cache.Key {
	return cache.Key{Blob: b.name, Block: i}
}

func (b *cachedBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), size)

	bs := b.store.blockSize
	blocks, err := b.blocks(ctx, off/bs, (end-1)/bs)
	if err != nil {
		return 0, err
	}

	n := 0
	for pos := off; pos < end; {
		i := pos / bs
		data := blocks[i]
		inner := pos - i*bs
		if inner >= int64(len(data)) {
			break
		}
		c := copy(p[pos-off:end-off], data[inner:])
		n += c
		pos += int64(c)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type blockRun struct{ first, count int64 }

// blocks returns blocks first..last. Cache misses are grouped into runs of
// adjacent blocks and each run is fetched with a single backend read.
func (b *cachedBlob) blocks(ctx context.Context, first, last int64) (map[int64][]byte, error) {
	out := make(map[int64][]byte, last-first+1)

	var runs []blockRun
	for i := first; i <= last; i++ {
		if data, ok := b.store.cache.Get(ctx, b.key(i)); ok {
			out[i] = data
			continue
		}
		if k := len(runs) - 1; k >= 0 && runs[k].first+runs[k].count == i {
			runs[k].count++
		} else {
			runs = append(runs, blockRun{first: i, count: 1})
		}
	}
	if len(runs) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRunFetches)

	for _, r := range runs {
		g.Go(func() error {
			fetched, err := b.fetchRun(gctx, r)
			if err != nil {
				return err
			}
			mu.Lock()
			for i, data := range fetched {
				out[r.first+int64(i)] = data
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchRun reads a run from the backend and splits it into cached blocks.
// Each block gets its own allocation so a cached block does not pin the
// whole run.
func (b *cachedBlob) fetchRun(ctx context.Context, r blockRun) ([][]byte, error) {
	bs := b.store.blockSize
	start := r.first * bs
	length := min(r.count*bs, b.Size()-start)
	if length <= 0 {
		return nil, nil
	}

	buf := make([]byte, length)
	n, err := b.Blob.ReadAt(ctx, buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]

	var out [][]byte
	for lo := int64(0); lo < int64(len(buf)); lo += bs {
		data := append([]byte(nil), buf[lo:min(lo+bs, int64(len(buf)))]...)
		b.store.cache.Set(ctx, b.key(r.first+int64(len(out))), data)
		out = append(out, data)
	}
	return out, nil
}
