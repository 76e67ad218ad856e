package main

import "math/rand"

// vectorGen produces the synthetic collection for build and the query
// batches for search. The same seed yields the same vectors.
type vectorGen struct {
	rng *rand.Rand
}

func newVectorGen(seed int64) *vectorGen {
	return &vectorGen{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // synthetic data
}

// uniform returns n vectors of dimension dim with components in [0, 1),
// sharing one backing array.
func (g *vectorGen) uniform(n, dim int) [][]float32 {
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = g.rng.Float32()
	}

	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = data[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return rows
}
