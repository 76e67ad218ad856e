package blobstore

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps blobs in a map. It backs tests and small synthetic index
// roots, and can simulate remote read latency.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	latency time.Duration

	opens     atomic.Int64
	reads     atomic.Int64
	bytesRead atomic.Int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithReadLatency delays every ReadAt by d, honoring context cancellation.
func WithReadLatency(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		m.latency = d
	}
}

// MemoryStats counts accesses to a MemoryStore.
type MemoryStats struct {
	Opens     int64
	Reads     int64
	BytesRead int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(optFns ...MemoryOption) *MemoryStore {
	m := &MemoryStore{blobs: make(map[string][]byte)}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Stats returns the access counters.
func (m *MemoryStore) Stats() MemoryStats {
	return MemoryStats{
		Opens:     m.opens.Load(),
		Reads:     m.reads.Load(),
		BytesRead: m.bytesRead.Load(),
	}
}

// Open returns a handle on a snapshot of name. Later Puts do not affect it.
func (m *MemoryStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	m.opens.Add(1)

	b := &memoryBlob{store: m, data: data}
	if m.latency > 0 {
		return b, nil
	}
	return &mappedMemoryBlob{b}, nil
}

// Put stores a private copy of data under name.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	m.blobs[name] = slices.Clone(data)
	m.mu.Unlock()
	return nil
}

// Delete removes name. Missing names are ignored.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

// List returns the sorted names starting with prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	slices.Sort(names)
	return names, nil
}

type memoryBlob struct {
	store *MemoryStore
	data  []byte
}

func (b *memoryBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if d := b.store.latency; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}

	n := copy(p, b.data[off:])
	b.store.reads.Add(1)
	b.store.bytesRead.Add(int64(n))

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memoryBlob) Close() error { return nil }

func (b *memoryBlob) Size() int64 { return int64(len(b.data)) }

// mappedMemoryBlob exposes the backing slice. Stores with simulated latency
// hand out plain memoryBlobs so every read goes through ReadAt.
type mappedMemoryBlob struct {
	*memoryBlob
}

func (b *mappedMemoryBlob) Bytes() ([]byte, error) { return b.data, nil }
