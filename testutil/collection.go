package testutil

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"path"
	"slices"
	"sync"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/catalog"
	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardindex"
)

// Collection is a small synthetic sharded vector collection. Shard s holds
// the vectors with IDs s*perShard to (s+1)*perShard-1, clustered around a
// per-shard center.
type Collection struct {
	Dim       int
	Shards    []*shardindex.Flat
	Centroids *shardindex.Flat
	Vectors   [][]float32
	IDs       []int64

	mu    sync.Mutex
	loads map[model.ShardID]int
}

// NewCollection generates numShards shards of perShard vectors each.
func NewCollection(rng *RNG, numShards, perShard, dim int) (*Collection, error) {
	if numShards <= 0 || perShard <= 0 || dim <= 0 {
		return nil, fmt.Errorf("testutil: invalid collection shape %dx%dx%d", numShards, perShard, dim)
	}

	c := &Collection{
		Dim:   dim,
		loads: make(map[model.ShardID]int),
	}

	centers := rng.GaussianVectors(numShards, dim)
	means := make([][]float32, numShards)

	for s := range numShards {
		for j := range centers[s] {
			centers[s][j] *= 4
		}

		vecs := rng.ClusteredVectors(perShard, centers[s], 1)
		ids := make([]int64, perShard)

		for j := range ids {
			ids[j] = int64(s*perShard + j)
		}

		shard, err := shardindex.Build(vecs, ids, distance.MetricL2)
		if err != nil {
			return nil, err
		}

		c.Shards = append(c.Shards, shard)
		c.Vectors = append(c.Vectors, vecs...)
		c.IDs = append(c.IDs, ids...)
		means[s] = distance.Mean(vecs, dim)
	}

	centroids, err := shardindex.Build(means, nil, distance.MetricL2)
	if err != nil {
		return nil, err
	}

	c.Centroids = centroids

	return c, nil
}

// LoadShard returns shard id. It satisfies shardcache.Source.
func (c *Collection) LoadShard(ctx context.Context, id model.ShardID) (shardindex.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id < 0 || int(id) >= len(c.Shards) {
		return nil, fmt.Errorf("%w: %d", catalog.ErrUnknownShard, id)
	}

	c.mu.Lock()
	c.loads[id]++
	c.mu.Unlock()

	return c.Shards[id], nil
}

// Loads returns how often shard id was loaded through LoadShard.
func (c *Collection) Loads(id model.ShardID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads[id]
}

// WriteRoot stores the centroid index and every shard under root using the
// catalog naming scheme.
func (c *Collection) WriteRoot(ctx context.Context, store blobstore.BlobStore, root string, opts shardindex.EncodeOptions) error {
	if err := shardindex.Save(ctx, store, path.Join(root, catalog.CentroidName), c.Centroids, opts); err != nil {
		return err
	}

	for i, shard := range c.Shards {
		if err := shardindex.Save(ctx, store, path.Join(root, catalog.ShardName(i)), shard, opts); err != nil {
			return err
		}
	}

	return nil
}

// BruteForce computes the exact top k over the whole collection.
func (c *Collection) BruteForce(queries [][]float32, k int) ([][]float32, [][]int64) {
	return BruteForce(c.Vectors, c.IDs, queries, k)
}

// BruteForce computes the exact squared-L2 top k for every query. Rows are
// ordered by distance then ID and padded with +Inf and -1.
func BruteForce(vectors [][]float32, ids []int64, queries [][]float32, k int) ([][]float32, [][]int64) {
	type hit struct {
		dist float32
		id   int64
	}

	outD := make([][]float32, len(queries))
	outI := make([][]int64, len(queries))

	for q, query := range queries {
		hits := make([]hit, len(vectors))
		for i, v := range vectors {
			hits[i] = hit{dist: distance.SquaredL2(query, v), id: ids[i]}
		}

		slices.SortFunc(hits, func(a, b hit) int {
			if c := cmp.Compare(a.dist, b.dist); c != 0 {
				return c
			}
			return cmp.Compare(a.id, b.id)
		})

		outD[q] = make([]float32, k)
		outI[q] = make([]int64, k)

		for j := range k {
			if j < len(hits) {
				outD[q][j] = hits[j].dist
				outI[q][j] = hits[j].id
			} else {
				outD[q][j] = float32(math.Inf(1))
				outI[q][j] = model.InvalidVectorID
			}
		}
	}

	return outD, outI
}
