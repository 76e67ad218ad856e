package topology

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecshard/model"
)

// QueryKeyed maps query position i to its candidate shards.
type QueryKeyed [][]model.ShardID

// Pairs returns the number of (query, shard) candidate pairs.
func (qk QueryKeyed) Pairs() int {
	n := 0
	for _, shards := range qk {
		n += len(shards)
	}
	return n
}

// ShardKeyed maps shard IDs to the query positions that need them.
type ShardKeyed struct {
	shards map[model.ShardID]*roaring.Bitmap
}

// NewShardKeyed returns an empty ShardKeyed.
func NewShardKeyed() *ShardKeyed {
	return &ShardKeyed{shards: make(map[model.ShardID]*roaring.Bitmap)}
}

// Reverse builds the shard-keyed form of qk in O(total candidate count).
// Invalid shard IDs are skipped.
func Reverse(qk QueryKeyed) *ShardKeyed {
	sk := NewShardKeyed()
	for q, shards := range qk {
		for _, id := range shards {
			sk.Add(id, q)
		}
	}
	return sk
}

// Add records that query q needs shard id. Adding an existing pair is a no-op.
func (sk *ShardKeyed) Add(id model.ShardID, q int) {
	if !id.Valid() || q < 0 {
		return
	}
	bm, ok := sk.shards[id]
	if !ok {
		bm = roaring.New()
		sk.shards[id] = bm
	}
	bm.Add(uint32(q))
}

// ToQueryKeyed converts back to the query-keyed form for a batch of nq queries.
// Candidates of each query are listed by ascending shard ID.
func (sk *ShardKeyed) ToQueryKeyed(nq int) QueryKeyed {
	qk := make(QueryKeyed, nq)
	for _, id := range sk.Shards() {
		it := sk.shards[id].Iterator()
		for it.HasNext() {
			q := int(it.Next())
			if q < nq {
				qk[q] = append(qk[q], id)
			}
		}
	}
	return qk
}

// Shards returns the shard IDs in ascending order.
func (sk *ShardKeyed) Shards() []model.ShardID {
	return slices.Sorted(maps.Keys(sk.shards))
}

// Len returns the number of distinct shards.
func (sk *ShardKeyed) Len() int {
	return len(sk.shards)
}

// Has reports whether any query needs shard id.
func (sk *ShardKeyed) Has(id model.ShardID) bool {
	_, ok := sk.shards[id]
	return ok
}

// Queries returns the query positions that need shard id, ascending.
func (sk *ShardKeyed) Queries(id model.ShardID) []int {
	bm, ok := sk.shards[id]
	if !ok {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// BatchSize returns the number of queries that need shard id.
func (sk *ShardKeyed) BatchSize(id model.ShardID) int {
	bm, ok := sk.shards[id]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// Pairs returns the total number of (shard, query) pairs.
func (sk *ShardKeyed) Pairs() int {
	n := 0
	for _, bm := range sk.shards {
		n += int(bm.GetCardinality())
	}
	return n
}

// Equal reports whether both topologies hold the same pairs.
func (sk *ShardKeyed) Equal(other *ShardKeyed) bool {
	if sk.Len() != other.Len() {
		return false
	}
	for id, bm := range sk.shards {
		o, ok := other.shards[id]
		if !ok || !bm.Equals(o) {
			return false
		}
	}
	return true
}

func (sk *ShardKeyed) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range sk.Shards() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d:%v", id, sk.Queries(id))
	}
	b.WriteByte('}')
	return b.String()
}
