package search

import (
	"cmp"
	"math"
	"slices"

	"github.com/hupe1980/vecshard/model"
)

type candidate struct {
	dist  float32
	shard model.ShardID
	id    int64
}

func compareCandidates(a, b candidate) int {
	if c := cmp.Compare(a.dist, b.dist); c != 0 {
		return c
	}
	if c := cmp.Compare(a.shard, b.shard); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// Accumulator keeps the running top k of every query in a batch.
//
// Merging is order independent: after any sequence of merges a row holds the
// k best candidates seen, ordered by distance, then shard, then vector ID.
type Accumulator struct {
	k    int
	rows [][]candidate
}

// NewAccumulator creates an accumulator for nq queries.
func NewAccumulator(nq, k int) *Accumulator {
	rows := make([][]candidate, nq)
	for i := range rows {
		rows[i] = make([]candidate, 0, k)
	}

	return &Accumulator{k: k, rows: rows}
}

// K returns the number of results kept per query.
func (a *Accumulator) K() int { return a.k }

// Merge folds the results of one shard into the row of query q. Padding
// entries (negative IDs or infinite distances) are ignored.
func (a *Accumulator) Merge(q int, shard model.ShardID, dists []float32, ids []int64) {
	row := a.rows[q]

	for j, id := range ids {
		if id < 0 || j >= len(dists) {
			continue
		}

		d := dists[j]
		if math.IsInf(float64(d), 1) || math.IsNaN(float64(d)) {
			continue
		}

		row = append(row, candidate{dist: d, shard: shard, id: id})
	}

	slices.SortFunc(row, compareCandidates)

	if len(row) > a.k {
		row = row[:a.k]
	}

	a.rows[q] = row
}

// Result materializes the accumulator, padding short rows.
func (a *Accumulator) Result() *Result {
	nq := len(a.rows)
	r := &Result{
		Distances: make([][]float32, nq),
		IDs:       make([][]int64, nq),
		Shards:    make([][]model.ShardID, nq),
	}

	inf := float32(math.Inf(1))

	for q, row := range a.rows {
		r.Distances[q] = make([]float32, a.k)
		r.IDs[q] = make([]int64, a.k)
		r.Shards[q] = make([]model.ShardID, a.k)

		for j := range a.k {
			if j < len(row) {
				r.Distances[q][j] = row[j].dist
				r.IDs[q][j] = row[j].id
				r.Shards[q][j] = row[j].shard
			} else {
				r.Distances[q][j] = inf
				r.IDs[q][j] = model.InvalidVectorID
				r.Shards[q][j] = model.InvalidShardID
			}
		}
	}

	return r
}
