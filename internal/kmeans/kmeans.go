package kmeans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/vecshard/distance"
)

// ErrTooFewVectors is returned when there are fewer vectors than clusters.
var ErrTooFewVectors = errors.New("kmeans: fewer vectors than clusters")

// Options configures Train.
type Options struct {
	// MaxIter bounds the number of Lloyd iterations. Zero means 25.
	MaxIter int
	// Seed makes initialization deterministic.
	Seed int64
	// Metric is the assignment distance. The zero value is squared L2.
	Metric distance.Metric
}

// Result is a trained partitioning.
type Result struct {
	// Centroids holds one center per cluster.
	Centroids [][]float32
	// Assignments maps every input vector to its cluster.
	Assignments []int
	// Iterations is the number of Lloyd iterations that ran.
	Iterations int
}

// Partition returns the input positions grouped by cluster.
func (r *Result) Partition() [][]int {
	parts := make([][]int, len(r.Centroids))
	for i, c := range r.Assignments {
		parts[c] = append(parts[c], i)
	}
	return parts
}

// Train clusters vectors into k groups. Every cluster ends up non-empty:
// a cluster that loses all its members is reseeded with the vector farthest
// from its current center.
func Train(ctx context.Context, vectors [][]float32, k int, opts Options) (*Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", k)
	}
	if len(vectors) < k {
		return nil, fmt.Errorf("%w: %d vectors, %d clusters", ErrTooFewVectors, len(vectors), k)
	}

	dist, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = 25
	}

	dim := len(vectors[0])
	rng := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec // clustering, not crypto

	centroids := make([][]float32, k)
	for i, p := range rng.Perm(len(vectors))[:k] {
		centroids[i] = append([]float32(nil), vectors[p]...)
	}

	res := &Result{
		Centroids:   centroids,
		Assignments: make([]int, len(vectors)),
	}
	for i := range res.Assignments {
		res.Assignments[i] = -1
	}

	nearest := make([]float32, len(vectors))

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res.Iterations = iter + 1
		changed := false

		for i, v := range vectors {
			best, bestDist := 0, float32(math.MaxFloat32)
			for c, center := range centroids {
				if d := dist(v, center); d < bestDist {
					best, bestDist = c, d
				}
			}
			nearest[i] = bestDist
			if res.Assignments[i] != best {
				res.Assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float32, k)
		for c := range sums {
			sums[c] = make([]float32, dim)
		}

		for i, v := range vectors {
			c := res.Assignments[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += x
			}
		}

		for c := range centroids {
			if counts[c] == 0 {
				far := farthest(nearest, res.Assignments, counts)
				donor := res.Assignments[far]
				counts[donor]--
				for d, x := range vectors[far] {
					sums[donor][d] -= x
				}
				counts[c] = 1
				res.Assignments[far] = c
				nearest[far] = 0
				copy(centroids[c], vectors[far])
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}
	}

	return res, nil
}

// farthest returns the vector with the largest distance to its center among
// clusters that can spare a member.
func farthest(nearest []float32, assignments, counts []int) int {
	best, bestDist := -1, float32(-1)
	for i, d := range nearest {
		if counts[assignments[i]] > 1 && d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
