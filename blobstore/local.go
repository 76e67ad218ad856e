package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/vecshard/internal/mmap"
)

const tempPrefix = ".tmp-"

// LocalStore keeps blobs as files below a directory.
type LocalStore struct {
	root string
}

// NewLocalStore returns a store rooted at dir. The directory is created on
// the first Put.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

// Root returns the store directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) filename(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open maps name read-only with sequential read-ahead, which matches how
// shard blobs are decoded.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.filename(name), mmap.AdviceSequential)
	if err != nil {
		return nil, err
	}
	return &fileBlob{m: m}, nil
}

// Put replaces name atomically: readers see the old blob or the new one.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	dst := s.filename(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return writeAtomic(dst, data)
}

func writeAtomic(dst string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return os.Rename(f.Name(), dst)
}

// Delete removes name. A missing blob is not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(s.filename(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the sorted slash-separated names starting with prefix.
// Half-written temporaries are skipped. A missing root fails with ErrNotFound.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	err := fs.WalkDir(os.DirFS(s.root), ".", func(name string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case d.IsDir(), strings.HasPrefix(d.Name(), tempPrefix):
			return nil
		case strings.HasPrefix(name, prefix):
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(names)
	return names, nil
}

// fileBlob serves reads straight from the mapping.
type fileBlob struct {
	m *mmap.Mapping
}

func (b *fileBlob) Size() int64  { return int64(b.m.Size()) }
func (b *fileBlob) Close() error { return b.m.Close() }

func (b *fileBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data := b.m.Bytes()
	if off < 0 || off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes exposes the mapping for zero-copy decoding.
func (b *fileBlob) Bytes() ([]byte, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}
