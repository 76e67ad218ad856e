package vecshard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/catalog"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/rank"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/telemetry"
	"github.com/hupe1980/vecshard/testutil"
	"github.com/hupe1980/vecshard/topology"
)

const (
	testRoot = "idx"
	waitFor  = 2 * time.Second
	tick     = time.Millisecond
)

func writeCollection(t *testing.T, numShards, perShard, dim int) (*testutil.Collection, *blobstore.MemoryStore) {
	t.Helper()

	coll, err := testutil.NewCollection(testutil.NewRNG(4711), numShards, perShard, dim)
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	require.NoError(t, coll.WriteRoot(context.Background(), store, testRoot, shardindex.EncodeOptions{}))

	return coll, store
}

func openServer(t *testing.T, store blobstore.BlobStore, optFns ...Option) *Server {
	t.Helper()

	srv, err := Open(context.Background(), store, append([]Option{WithRoot(testRoot)}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	return srv
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	_, store := writeCollection(t, 5, 20, 4)

	srv := openServer(t, store, WithCapacity(3))
	assert.Equal(t, 4, srv.Dimension())
	assert.Equal(t, 5, srv.NumShards())

	queries := testutil.NewRNG(1).GaussianVectors(2, 4)

	qk, err := srv.Route(ctx, queries, 2)
	require.NoError(t, err)
	require.Len(t, qk, 2)
	for _, row := range qk {
		assert.Len(t, row, 2)
	}

	sk := topology.Reverse(qk)
	back := sk.ToQueryKeyed(len(queries))
	for q := range qk {
		assert.ElementsMatch(t, qk[q], back[q])
	}
	assert.True(t, sk.Equal(topology.Reverse(back)))

	for _, strategy := range []Strategy{StrategyQuery, StrategyShard, StrategyShardPipelined} {
		t.Run(strategy.String(), func(t *testing.T) {
			resp, err := srv.Search(ctx, queries, SearchOptions{NProbe: 2, K: 3, Strategy: strategy})
			require.NoError(t, err)

			require.Len(t, resp.Distances, 2)
			for q := range resp.Distances {
				require.Len(t, resp.Distances[q], 3)
				require.Len(t, resp.IDs[q], 3)
				for j := 1; j < 3; j++ {
					assert.Less(t, resp.Distances[q][j-1], resp.Distances[q][j])
				}
				for _, shard := range resp.Shards[q] {
					assert.Contains(t, resp.Topology[q], shard)
				}
			}

			assert.LessOrEqual(t, len(srv.Resident()), 3)
		})
	}
}

func TestSearchMatchesBruteForceWhenAllShardsProbed(t *testing.T) {
	ctx := context.Background()
	coll, store := writeCollection(t, 4, 10, 8)

	srv := openServer(t, store, WithCapacity(2), WithPolicy(rank.RecencyStamped{}))

	queries := testutil.NewRNG(2).GaussianVectors(6, 8)
	wantD, wantI := coll.BruteForce(queries, 3)

	for _, strategy := range []Strategy{StrategyQuery, StrategyShard, StrategyShardPipelined} {
		resp, err := srv.Search(ctx, queries, SearchOptions{NProbe: 4, K: 3, Strategy: strategy})
		require.NoError(t, err, strategy.String())

		assert.Equal(t, wantI, resp.IDs, strategy.String())
		for q := range wantD {
			assert.InDeltaSlice(t, wantD[q], resp.Distances[q], 1e-4)
		}
		assert.LessOrEqual(t, srv.CacheStats().Resident, 2)
	}
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	_, store := writeCollection(t, 3, 5, 4)
	srv := openServer(t, store, WithoutPrefetch())

	queries := [][]float32{{1, 2, 3, 4}}

	tests := []struct {
		name    string
		queries [][]float32
		opts    SearchOptions
		want    error
	}{
		{"EmptyBatch", nil, SearchOptions{NProbe: 1, K: 1}, ErrEmptyBatch},
		{"ZeroK", queries, SearchOptions{NProbe: 1}, ErrInvalidK},
		{"ZeroNProbe", queries, SearchOptions{K: 1}, ErrInvalidNProbe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.Search(ctx, tt.queries, tt.opts)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsConfigError(err))
		})
	}

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := srv.Search(ctx, [][]float32{{1, 2}}, SearchOptions{NProbe: 1, K: 1})

		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 4, dm.Expected)
		assert.Equal(t, 2, dm.Actual)
		assert.True(t, IsConfigError(err))

		var cause *shardindex.DimensionMismatchError
		assert.ErrorAs(t, err, &cause)
	})

	assert.Empty(t, srv.Resident(), "validation must not load shards")
}

func TestOpenConfigErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyRoot", func(t *testing.T) {
		_, err := Open(ctx, blobstore.NewMemoryStore(), WithRoot(testRoot))
		require.ErrorIs(t, err, catalog.ErrNoCentroid)
		assert.True(t, IsConfigError(err))
	})

	t.Run("CentroidCount", func(t *testing.T) {
		_, store := writeCollection(t, 3, 5, 4)
		require.NoError(t, store.Delete(ctx, testRoot+"/"+catalog.ShardName(2)))

		_, err := Open(ctx, store, WithRoot(testRoot))
		assert.True(t, IsConfigError(err))
	})

	t.Run("InvalidCapacity", func(t *testing.T) {
		_, store := writeCollection(t, 3, 5, 4)

		_, err := Open(ctx, store, WithRoot(testRoot), WithCapacity(0))
		require.ErrorIs(t, err, ErrInvalidCapacity)
	})

	t.Run("RankStoreClosedOnFailure", func(t *testing.T) {
		rs := newMemRankStore(nil)

		_, err := Open(ctx, blobstore.NewMemoryStore(), WithRoot(testRoot), WithRankStore(rs))
		require.Error(t, err)
		assert.True(t, rs.closed)
	})
}

func TestShardLoadFailure(t *testing.T) {
	ctx := context.Background()
	_, store := writeCollection(t, 4, 10, 4)

	require.NoError(t, store.Put(ctx, testRoot+"/"+catalog.ShardName(2), []byte("not a shard")))

	srv := openServer(t, store, WithCapacity(4), WithoutPrefetch())
	queries := testutil.NewRNG(3).GaussianVectors(3, 4)

	t.Run("Skip", func(t *testing.T) {
		resp, err := srv.Search(ctx, queries, SearchOptions{NProbe: 4, K: 5, Strategy: StrategyShard})
		require.NoError(t, err)

		assert.Equal(t, []model.ShardID{2}, resp.FailedShards)
		for q := range resp.IDs {
			for _, id := range resp.IDs[q] {
				assert.False(t, id >= 20 && id < 30, "result %d from failed shard", id)
			}
		}
	})

	t.Run("Strict", func(t *testing.T) {
		_, err := srv.Search(ctx, queries, SearchOptions{NProbe: 4, K: 5, Strict: true})

		var sle *ShardLoadError
		require.ErrorAs(t, err, &sle)
		assert.Equal(t, model.ShardID(2), sle.Shard)
		assert.ErrorIs(t, err, shardindex.ErrCorrupt)
		assert.False(t, IsConfigError(err))
	})
}

func TestMetricsAndTelemetry(t *testing.T) {
	ctx := context.Background()
	_, store := writeCollection(t, 4, 10, 4)

	metrics := &BasicMetricsCollector{}
	events := &telemetry.Collector{}

	srv := openServer(t, store,
		WithCapacity(2),
		WithoutPrefetch(),
		WithMetricsCollector(metrics),
		WithRecorder(events),
		WithPolicy(rank.RecencyStamped{}),
	)

	queries := testutil.NewRNG(5).GaussianVectors(4, 4)
	_, err := srv.Search(ctx, queries, SearchOptions{NProbe: 4, K: 2, Strategy: StrategyShard})
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(4), stats.QueryCount)
	assert.Equal(t, int64(4), stats.ShardLoadCount)
	assert.Equal(t, int64(4), stats.ShardSearchCount)
	assert.Equal(t, int64(2), stats.EvictionCount)

	assert.Equal(t, 4, events.Count(telemetry.KindShardLoad))
	assert.Equal(t, 4, events.Count(telemetry.KindShardSearch))

	_, err = srv.Search(ctx, nil, SearchOptions{NProbe: 1, K: 1})
	require.Error(t, err)
	assert.Equal(t, int64(1), metrics.GetStats().SearchErrors)
}

type memRankStore struct {
	mu     sync.Mutex
	scores map[model.ShardID]float64
	loads  int
	saves  int
	closed bool
}

func newMemRankStore(scores map[model.ShardID]float64) *memRankStore {
	return &memRankStore{scores: scores}
}

func (m *memRankStore) Load(context.Context) (map[model.ShardID]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	out := make(map[model.ShardID]float64, len(m.scores))
	for id, s := range m.scores {
		out[id] = s
	}
	return out, nil
}

func (m *memRankStore) Save(_ context.Context, scores map[model.ShardID]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.scores = scores
	return nil
}

func (m *memRankStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestRankStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, store := writeCollection(t, 4, 10, 4)

	rs := newMemRankStore(map[model.ShardID]float64{3: 100})

	srv, err := Open(ctx, store, WithRoot(testRoot), WithRankStore(rs), WithoutPrefetch())
	require.NoError(t, err)

	queries := testutil.NewRNG(6).GaussianVectors(2, 4)
	_, err = srv.Search(ctx, queries, SearchOptions{NProbe: 4, K: 1})
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	assert.Equal(t, 1, rs.loads)
	assert.Equal(t, 1, rs.saves)
	assert.True(t, rs.closed)
	assert.GreaterOrEqual(t, rs.scores[3], 100.0)
	assert.Len(t, rs.scores, 4)
}

func TestPrefetchWarmsRestoredRanking(t *testing.T) {
	_, store := writeCollection(t, 6, 5, 4)

	rs := newMemRankStore(map[model.ShardID]float64{4: 10, 5: 9, 0: 1})
	srv := openServer(t, store, WithCapacity(2), WithRankStore(rs))

	require.Eventually(t, func() bool {
		res := srv.Resident()
		return len(res) == 2 && res[0] == 4 && res[1] == 5
	}, waitFor, tick)

	ps := srv.PrefetchStats()
	assert.True(t, ps.Enabled)
	assert.GreaterOrEqual(t, ps.Loaded, int64(2))
	assert.Positive(t, ps.IOBytes)
	assert.Zero(t, ps.Failed)
}

func TestWithoutPrefetch(t *testing.T) {
	_, store := writeCollection(t, 3, 5, 4)

	srv := openServer(t, store, WithoutPrefetch())
	assert.Equal(t, PrefetchStats{}, srv.PrefetchStats())
	assert.Empty(t, srv.Resident())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	_, store := writeCollection(t, 3, 5, 4)

	srv, err := Open(ctx, store, WithRoot(testRoot))
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	_, err = srv.Search(ctx, [][]float32{{1, 2, 3, 4}}, SearchOptions{NProbe: 1, K: 1})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = srv.Route(ctx, [][]float32{{1, 2, 3, 4}}, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIsConfigError(t *testing.T) {
	assert.False(t, IsConfigError(nil))
	assert.False(t, IsConfigError(errors.New("boom")))
	assert.True(t, IsConfigError(blobstore.ErrNotFound))
	assert.False(t, IsConfigError(&CapacityError{Resident: 3, Capacity: 2}))
}
