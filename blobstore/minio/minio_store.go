package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/minio/minio-go/v7"
)

const shardContentType = "application/x-vecshard"

// Store keeps an index root in a MinIO (or other S3-compatible) bucket.
type Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	partSize uint64
}

// Option configures a Store.
type Option func(*Store)

// WithPartSize sets the multipart chunk size used by Put. Zero lets the
// client choose.
func WithPartSize(n uint64) Option {
	return func(s *Store) {
		s.partSize = n
	}
}

// NewStore returns a store for bucket. Blob names are joined to rootPrefix.
func NewStore(client *minio.Client, bucket, rootPrefix string, optFns ...Option) *Store {
	s := &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio: bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) objectKey(name string) string {
	return path.Join(s.prefix, name)
}

func notFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Open stats name once; the returned blob serves ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.objectKey(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	switch {
	case notFound(err):
		return nil, blobstore.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("minio: stat %s: %w", key, err)
	}

	return &object{store: s, key: key, size: info.Size}, nil
}

// Put uploads data; large blobs are split into parts by the client.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	opts := minio.PutObjectOptions{
		ContentType: shardContentType,
		PartSize:    s.partSize,
	}

	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(name), bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// Delete removes name. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(name), minio.RemoveObjectOptions{}); err != nil && !notFound(err) {
		return err
	}
	return nil
}

// List walks the bucket recursively below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string

	objects := s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectKey(prefix),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := trimRoot(obj.Key, s.prefix); name != "" {
			names = append(names, name)
		}
	}

	slices.Sort(names)
	return names, nil
}

func trimRoot(key, root string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, root), "/")
}

// object is an open MinIO blob.
type object struct {
	store *Store
	key   string
	size  int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	want, err := readLen(len(p), off, o.size)
	if want == 0 {
		return 0, err
	}

	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, off+int64(want)-1); err != nil {
		return 0, err
	}

	r, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.ReadFull(r, p[:want])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readLen returns how many of n bytes at off lie inside a blob of size.
// A zero result carries io.EOF when off is past the end.
func readLen(n int, off, size int64) (int, error) {
	if n == 0 {
		return 0, nil
	}
	if off >= size {
		return 0, io.EOF
	}
	return int(min(int64(n), size-off)), nil
}
