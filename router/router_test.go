package router

import (
	"context"
	"testing"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *Router {
	t.Helper()
	centroids, err := shardindex.Build([][]float32{
		{0, 0},
		{10, 0},
		{0, 10},
		{10, 10},
	}, nil, distance.MetricL2)
	require.NoError(t, err)

	r, err := New(centroids, 4)
	require.NoError(t, err)
	return r
}

func TestRoute(t *testing.T) {
	r := newRouter(t)
	assert.Equal(t, 2, r.Dimension())
	assert.Equal(t, 4, r.NumShards())

	qk, err := r.Route(context.Background(), [][]float32{{1, 1}, {9, 8}}, 2)
	require.NoError(t, err)

	require.Len(t, qk, 2)
	assert.Equal(t, []model.ShardID{0, 1}, qk[0])
	assert.Equal(t, []model.ShardID{3, 1}, qk[1])

	sk := r.ToShardKeyed(qk)
	assert.Equal(t, []int{0, 1}, sk.Queries(1))
	assert.True(t, sk.Equal(topology.Reverse(sk.ToQueryKeyed(2))))
}

func TestRoute_ClampsNProbe(t *testing.T) {
	r := newRouter(t)

	qk, err := r.Route(context.Background(), [][]float32{{1, 1}}, 100)
	require.NoError(t, err)
	assert.Len(t, qk[0], 4)
}

func TestRoute_Errors(t *testing.T) {
	r := newRouter(t)

	_, err := r.Route(context.Background(), [][]float32{{1, 1}}, 0)
	assert.ErrorIs(t, err, ErrInvalidNProbe)

	_, err = r.Route(context.Background(), [][]float32{{1, 1, 1}}, 1)
	var dimErr *shardindex.DimensionMismatchError
	assert.ErrorAs(t, err, &dimErr)

	qk, err := r.Route(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Empty(t, qk)
}

func TestNew_CentroidCount(t *testing.T) {
	centroids, err := shardindex.Build([][]float32{{0}}, nil, distance.MetricL2)
	require.NoError(t, err)

	_, err = New(centroids, 3)
	assert.ErrorIs(t, err, ErrCentroidCount)
}
