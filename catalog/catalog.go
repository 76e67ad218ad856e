package catalog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardindex"
)

const (
	// CentroidMarker is the substring that identifies the centroid blob.
	CentroidMarker = "centroid"
	// CentroidName is the centroid blob name written by the build tooling.
	CentroidName = "centroids.vshd"
)

var (
	// ErrNoCentroid is returned when no blob name contains CentroidMarker.
	ErrNoCentroid = errors.New("catalog: no centroid index in root")
	// ErrMultipleCentroids is returned when more than one blob name contains CentroidMarker.
	ErrMultipleCentroids = errors.New("catalog: multiple centroid indexes in root")
	// ErrNoShards is returned when the root contains no data shards.
	ErrNoShards = errors.New("catalog: no data shards in root")
	// ErrUnknownShard is returned for shard IDs outside the catalog.
	ErrUnknownShard = errors.New("catalog: unknown shard")
)

// ShardName returns the blob name the build tooling uses for shard i.
// Zero padding keeps lexical order equal to numeric order.
func ShardName(i int) string {
	return fmt.Sprintf("shard-%06d.vshd", i)
}

// Catalog is the resolved layout of an index root.
type Catalog struct {
	root     string
	centroid string
	shards   []string
}

// Scan lists root in store and classifies its blobs.
// root is a name prefix; "" scans the whole store.
func Scan(ctx context.Context, store blobstore.BlobStore, root string) (*Catalog, error) {
	prefix := root
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %q: %w", root, err)
	}

	// Shard IDs follow lexical name order whatever order the store lists in.
	names = slices.Sorted(slices.Values(names))

	c := &Catalog{root: root}
	for _, name := range names {
		if strings.Contains(path.Base(name), CentroidMarker) {
			if c.centroid != "" {
				return nil, fmt.Errorf("%w: %s and %s", ErrMultipleCentroids, c.centroid, name)
			}
			c.centroid = name
			continue
		}
		c.shards = append(c.shards, name)
	}

	if c.centroid == "" {
		return nil, ErrNoCentroid
	}
	if len(c.shards) == 0 {
		return nil, ErrNoShards
	}
	return c, nil
}

// Root returns the scanned prefix.
func (c *Catalog) Root() string { return c.root }

// Centroid returns the centroid blob name.
func (c *Catalog) Centroid() string { return c.centroid }

// Len returns the number of data shards.
func (c *Catalog) Len() int { return len(c.shards) }

// Name returns the blob name of shard id.
func (c *Catalog) Name(id model.ShardID) (string, error) {
	if id < 0 || int(id) >= len(c.shards) {
		return "", fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}
	return c.shards[id], nil
}

// IDs returns every shard ID in ascending order.
func (c *Catalog) IDs() []model.ShardID {
	ids := make([]model.ShardID, len(c.shards))
	for i := range ids {
		ids[i] = model.ShardID(i)
	}
	return ids
}

// Source resolves shard IDs to loaded indexes.
type Source struct {
	catalog *Catalog
	loader  shardindex.Loader
}

// NewSource binds a catalog to a loader.
func NewSource(c *Catalog, l shardindex.Loader) *Source {
	return &Source{catalog: c, loader: l}
}

// LoadShard loads the index of shard id.
func (s *Source) LoadShard(ctx context.Context, id model.ShardID) (shardindex.Index, error) {
	name, err := s.catalog.Name(id)
	if err != nil {
		return nil, err
	}
	return s.loader.Load(ctx, name)
}

// LoadCentroids loads the centroid index.
func (s *Source) LoadCentroids(ctx context.Context) (shardindex.Index, error) {
	return s.loader.Load(ctx, s.catalog.Centroid())
}
