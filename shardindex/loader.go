package shardindex

import (
	"context"
	"fmt"

	"github.com/hupe1980/vecshard/blobstore"
)

// Loader materializes an Index from a named blob.
type Loader interface {
	Load(ctx context.Context, name string) (Index, error)
}

// BlobLoader loads Flat indexes from a BlobStore.
type BlobLoader struct {
	store blobstore.BlobStore
}

// NewBlobLoader creates a loader reading from store.
func NewBlobLoader(store blobstore.BlobStore) *BlobLoader {
	return &BlobLoader{store: store}
}

// Load reads and decodes the blob called name.
func (l *BlobLoader) Load(ctx context.Context, name string) (Index, error) {
	data, err := blobstore.ReadAll(ctx, l.store, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return f, nil
}

// Save encodes f and writes it to store under name.
func Save(ctx context.Context, store blobstore.BlobStore, name string, f *Flat, opts EncodeOptions) error {
	data, err := Encode(f, opts)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
