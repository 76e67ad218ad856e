package testutil

import (
	"math/rand"
	"sync"
)

// RNG is a seeded, mutex-guarded random source. Two RNGs with the same seed
// produce the same vectors, which keeps synthetic shard roots reproducible.
type RNG struct {
	mu   sync.Mutex
	src  *rand.Rand
	seed int64
}

// NewRNG returns an RNG seeded with seed.
func NewRNG(seed int64) *RNG {
	return &RNG{src: rand.New(rand.NewSource(seed)), seed: seed} //nolint:gosec // test data
}

// Reset rewinds the RNG to its seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	r.src.Seed(r.seed)
	r.mu.Unlock()
}

// Seed returns the seed the RNG was created with.
func (r *RNG) Seed() int64 { return r.seed }

// Perm returns a random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Perm(n)
}

// matrix allocates num rows of dim values in one backing array and fills
// every value with next, holding the lock once for the whole matrix.
func (r *RNG) matrix(num, dim int, next func(col int) float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	rows := make([][]float32, num)
	for i := range rows {
		row := data[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range row {
			row[j] = next(j)
		}
		rows[i] = row
	}
	return rows
}

// UniformVectors returns num vectors with components in [0, 1).
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	return r.matrix(num, dim, func(int) float32 { return r.src.Float32() })
}

// GaussianVectors returns num vectors with standard normal components.
func (r *RNG) GaussianVectors(num, dim int) [][]float32 {
	return r.matrix(num, dim, func(int) float32 { return float32(r.src.NormFloat64()) })
}

// ClusteredVectors returns num vectors scattered around center with normal
// noise of standard deviation spread.
func (r *RNG) ClusteredVectors(num int, center []float32, spread float32) [][]float32 {
	return r.matrix(num, len(center), func(j int) float32 {
		return center[j] + spread*float32(r.src.NormFloat64())
	})
}

// ComputeRecall returns the fraction of ground-truth IDs found in approximate.
// Negative IDs mark padding and are ignored; an empty truth has recall 1.
func ComputeRecall(groundTruth, approximate []int64) float64 {
	truth := make(map[int64]bool, len(groundTruth))
	for _, id := range groundTruth {
		if id >= 0 {
			truth[id] = true
		}
	}
	if len(truth) == 0 {
		return 1
	}

	hits := 0
	for _, id := range approximate {
		if truth[id] {
			hits++
			delete(truth, id)
		}
	}
	return float64(hits) / float64(hits+len(truth))
}
