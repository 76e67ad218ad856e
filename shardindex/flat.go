package shardindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecshard/distance"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("k must be positive")

// Flat is an exact brute-force index over a contiguous vector block.
type Flat struct {
	dim     int
	metric  distance.Metric
	distFn  distance.Func
	vectors []float32
	ids     []int64
}

var _ Index = (*Flat)(nil)

// NewFlat creates an empty flat index.
func NewFlat(dim int, metric distance.Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	fn, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	return &Flat{dim: dim, metric: metric, distFn: fn}, nil
}

// Build creates a flat index over vectors. If ids is nil, vector i gets ID i.
func Build(vectors [][]float32, ids []int64, metric distance.Metric) (*Flat, error) {
	if len(vectors) == 0 {
		return nil, errors.New("cannot infer dimension from an empty vector set")
	}

	f, err := NewFlat(len(vectors[0]), metric)
	if err != nil {
		return nil, err
	}

	if ids == nil {
		ids = make([]int64, len(vectors))
		for i := range ids {
			ids[i] = int64(i)
		}
	}

	if err := f.Add(ids, vectors); err != nil {
		return nil, err
	}
	return f, nil
}

// Add appends vectors with the given IDs. Not safe for use concurrently with Search.
func (f *Flat) Add(ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	if err := CheckDimensions(vectors, f.dim); err != nil {
		return err
	}

	for _, v := range vectors {
		f.vectors = append(f.vectors, v...)
	}
	f.ids = append(f.ids, ids...)
	return nil
}

// Dimension returns the vector dimension.
func (f *Flat) Dimension() int { return f.dim }

// Len returns the number of vectors.
func (f *Flat) Len() int { return len(f.ids) }

// Metric returns the distance metric.
func (f *Flat) Metric() distance.Metric { return f.metric }

// SizeBytes returns the in-memory size of vectors and IDs.
func (f *Flat) SizeBytes() int64 {
	return int64(len(f.vectors))*4 + int64(len(f.ids))*8
}

// Vector returns the i-th stored vector. The slice aliases internal storage.
func (f *Flat) Vector(i int) []float32 {
	return f.vectors[i*f.dim : (i+1)*f.dim]
}

// ID returns the ID of the i-th stored vector.
func (f *Flat) ID(i int) int64 {
	return f.ids[i]
}

// Search scans every vector for every query.
func (f *Flat) Search(ctx context.Context, queries [][]float32, k int) (*Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if err := CheckDimensions(queries, f.dim); err != nil {
		return nil, err
	}

	res := NewResult(len(queries), k)
	for qi, q := range queries {
		if qi%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		f.searchOne(q, res.Distances[qi], res.IDs[qi])
	}
	return res, nil
}

// searchOne keeps dists/ids sorted ascending by (distance, id); both slices
// arrive padded with +Inf and invalid IDs.
func (f *Flat) searchOne(q []float32, dists []float32, ids []int64) {
	k := len(dists)
	n := 0

	for i, id := range f.ids {
		d := f.distFn(q, f.vectors[i*f.dim:(i+1)*f.dim])

		if n == k && !less(d, id, dists[k-1], ids[k-1]) {
			continue
		}

		pos := min(n, k-1)
		for pos > 0 && less(d, id, dists[pos-1], ids[pos-1]) {
			dists[pos] = dists[pos-1]
			ids[pos] = ids[pos-1]
			pos--
		}
		dists[pos] = d
		ids[pos] = id
		if n < k {
			n++
		}
	}
}

func less(d1 float32, id1 int64, d2 float32, id2 int64) bool {
	if d1 != d2 {
		return d1 < d2
	}
	return id1 < id2
}
