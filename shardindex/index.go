package shardindex

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/vecshard/model"
)

// Index is a searchable, immutable shard index.
type Index interface {
	// Search returns the k nearest vectors for every query.
	Search(ctx context.Context, queries [][]float32, k int) (*Result, error)
	// Dimension returns the vector dimension.
	Dimension() int
	// Len returns the number of indexed vectors.
	Len() int
	// SizeBytes returns the approximate resident size of the index.
	SizeBytes() int64
}

// Result holds per-query search results. Row i belongs to query i.
type Result struct {
	Distances [][]float32
	IDs       [][]int64
}

// NewResult allocates an nq x k result filled with padding.
func NewResult(nq, k int) *Result {
	r := &Result{
		Distances: make([][]float32, nq),
		IDs:       make([][]int64, nq),
	}

	inf := float32(math.Inf(1))
	for i := 0; i < nq; i++ {
		r.Distances[i] = make([]float32, k)
		r.IDs[i] = make([]int64, k)
		for j := 0; j < k; j++ {
			r.Distances[i][j] = inf
			r.IDs[i][j] = model.InvalidVectorID
		}
	}
	return r
}

// DimensionMismatchError is returned when a vector does not match the index dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckDimensions validates that every vector has dimension dim.
func CheckDimensions(vectors [][]float32, dim int) error {
	for _, v := range vectors {
		if len(v) != dim {
			return &DimensionMismatchError{Expected: dim, Actual: len(v)}
		}
	}
	return nil
}
