// Package blobstore abstracts where shard blobs live.
//
// An index root is a flat namespace of immutable blobs: one centroid blob and
// one blob per data shard. BlobStore implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, reads through read-only mmap
//   - MemoryStore: in-process map, used by tests and synthetic roots
//   - CachingStore: wraps any store with a block-level LRU cache
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with ranged reads and multipart uploads
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
