package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrClosed is returned by reads on a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files too large for the address space.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrInvalidOffset is returned for negative read offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

// Advice is an access-pattern hint passed to the kernel after mapping.
type Advice uint8

const (
	// AdviceSequential suits blobs decoded front to back, such as shard indexes.
	AdviceSequential Advice = iota
	// AdviceRandom suits blobs read at scattered offsets.
	AdviceRandom
	// AdviceNormal leaves the kernel default.
	AdviceNormal
)

// Mapping is a read-only view of a file.
type Mapping struct {
	mu    sync.RWMutex
	data  []byte
	live  bool
	unmap func([]byte) error
}

// Open maps path read-only. The advice hint is best-effort.
func Open(path string, advice Advice) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}

	m := &Mapping{live: true}
	if size == 0 {
		return m, nil
	}

	m.data, m.unmap, err = osMap(f, int(size), advice)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return m, nil
}

// Close unmaps the file. Later calls are no-ops.
func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live {
		return nil
	}
	m.live = false

	data := m.data
	m.data = nil
	if m.unmap == nil || data == nil {
		return nil
	}
	return m.unmap(data)
}

// Bytes returns the mapped contents, or nil after Close. The slice must not
// be used after Close.
func (m *Mapping) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Size returns the mapped length.
func (m *Mapping) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// ReadAt implements io.ReaderAt. Reads never race with Close.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case !m.live:
		return 0, ErrClosed
	case off < 0:
		return 0, ErrInvalidOffset
	case off >= int64(len(m.data)):
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
