package catalog

import (
	"context"
	"slices"
	"testing"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	for _, name := range []string{"root/shard-b", "root/centroids.vshd", "root/shard-a", "other/shard-z"} {
		require.NoError(t, store.Put(ctx, name, []byte("x")))
	}

	c, err := Scan(ctx, store, "root")
	require.NoError(t, err)
	assert.Equal(t, "root/centroids.vshd", c.Centroid())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []model.ShardID{0, 1}, c.IDs())

	name, err := c.Name(0)
	require.NoError(t, err)
	assert.Equal(t, "root/shard-a", name)

	name, err = c.Name(1)
	require.NoError(t, err)
	assert.Equal(t, "root/shard-b", name)

	_, err = c.Name(2)
	assert.ErrorIs(t, err, ErrUnknownShard)
	_, err = c.Name(-1)
	assert.ErrorIs(t, err, ErrUnknownShard)
}

// reversedStore lists names in descending order.
type reversedStore struct {
	*blobstore.MemoryStore
}

func (s reversedStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.MemoryStore.List(ctx, prefix)
	slices.Reverse(names)
	return names, err
}

func TestScan_SortsListing(t *testing.T) {
	ctx := context.Background()
	store := reversedStore{blobstore.NewMemoryStore()}

	for i := range 3 {
		require.NoError(t, store.Put(ctx, ShardName(i), []byte("x")))
	}
	require.NoError(t, store.Put(ctx, CentroidName, []byte("x")))

	c, err := Scan(ctx, store, "")
	require.NoError(t, err)

	for i := range 3 {
		name, err := c.Name(model.ShardID(i))
		require.NoError(t, err)
		assert.Equal(t, ShardName(i), name)
	}
}

func TestScan_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("NoCentroid", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "shard-000000.vshd", nil))
		_, err := Scan(ctx, store, "")
		assert.ErrorIs(t, err, ErrNoCentroid)
	})

	t.Run("MultipleCentroids", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "centroids-a", nil))
		require.NoError(t, store.Put(ctx, "centroids-b", nil))
		_, err := Scan(ctx, store, "")
		assert.ErrorIs(t, err, ErrMultipleCentroids)
	})

	t.Run("NoShards", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, CentroidName, nil))
		_, err := Scan(ctx, store, "")
		assert.ErrorIs(t, err, ErrNoShards)
	})

	t.Run("MissingRoot", func(t *testing.T) {
		_, err := Scan(ctx, blobstore.NewLocalStore(t.TempDir()+"/missing"), "")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}

func TestShardNameSortsNumerically(t *testing.T) {
	assert.Less(t, ShardName(9), ShardName(10))
	assert.Less(t, ShardName(99), ShardName(100))
}

func TestSource(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	shard, err := shardindex.Build([][]float32{{1, 2}, {3, 4}}, nil, distance.MetricL2)
	require.NoError(t, err)
	centroids, err := shardindex.Build([][]float32{{2, 3}}, nil, distance.MetricL2)
	require.NoError(t, err)

	require.NoError(t, shardindex.Save(ctx, store, ShardName(0), shard, shardindex.EncodeOptions{}))
	require.NoError(t, shardindex.Save(ctx, store, CentroidName, centroids, shardindex.EncodeOptions{}))

	c, err := Scan(ctx, store, "")
	require.NoError(t, err)

	src := NewSource(c, shardindex.NewBlobLoader(store))

	idx, err := src.LoadShard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	cidx, err := src.LoadCentroids(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cidx.Len())

	_, err = src.LoadShard(ctx, 5)
	assert.ErrorIs(t, err, ErrUnknownShard)
}
