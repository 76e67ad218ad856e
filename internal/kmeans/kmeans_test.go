package kmeans

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain(t *testing.T) {
	ctx := context.Background()
	// 2 clusters: (0,0) and (10,10)
	vecs := [][]float32{
		{0, 0}, {0, 1}, {1, 0},
		{10, 10}, {10, 11}, {11, 10},
	}

	res, err := Train(ctx, vecs, 2, Options{Seed: 1})
	require.NoError(t, err)
	require.Len(t, res.Centroids, 2)

	a := res.Assignments
	assert.Equal(t, a[0], a[1])
	assert.Equal(t, a[0], a[2])
	assert.Equal(t, a[3], a[4])
	assert.Equal(t, a[3], a[5])
	assert.NotEqual(t, a[0], a[3])

	parts := res.Partition()
	assert.ElementsMatch(t, []int{0, 1, 2}, parts[a[0]])
	assert.ElementsMatch(t, []int{3, 4, 5}, parts[a[3]])
}

func TestTrain_NoEmptyClusters(t *testing.T) {
	vecs := make([][]float32, 0, 20)
	for i := 0; i < 20; i++ {
		vecs = append(vecs, []float32{float32(i % 2), 0})
	}

	res, err := Train(context.Background(), vecs, 4, Options{Seed: 7})
	require.NoError(t, err)

	for c, part := range res.Partition() {
		assert.NotEmpty(t, part, "cluster %d", c)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	vecs := [][]float32{{0, 0}, {1, 1}, {5, 5}, {6, 6}, {9, 9}, {10, 10}}

	a, err := Train(context.Background(), vecs, 3, Options{Seed: 42})
	require.NoError(t, err)
	b, err := Train(context.Background(), vecs, 3, Options{Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, a.Assignments, b.Assignments)
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Train(ctx, [][]float32{{0, 0}}, 2, Options{})
	require.ErrorIs(t, err, ErrTooFewVectors)

	_, err = Train(ctx, [][]float32{{0, 0}}, 0, Options{})
	require.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Train(cancelled, [][]float32{{0, 0}, {1, 1}}, 1, Options{})
	require.ErrorIs(t, err, context.Canceled)
}
