package topology

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/vecshard/model"
)

// Ordering selects how shards are sequenced within each residency group.
type Ordering int

const (
	// SmallestBatchFirst visits shards with fewer queries first so short
	// searches finish early and free capacity for the loader.
	SmallestBatchFirst Ordering = iota
	// LargestBatchFirst visits the most-needed shards first.
	LargestBatchFirst
)

func (o Ordering) String() string {
	switch o {
	case SmallestBatchFirst:
		return "smallest_batch_first"
	case LargestBatchFirst:
		return "largest_batch_first"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// ParseOrdering parses "smallest" / "largest" (and the full String forms).
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(s) {
	case "", "smallest", "smallest_first", "smallest_batch_first", "asc":
		return SmallestBatchFirst, nil
	case "largest", "largest_first", "largest_batch_first", "desc":
		return LargestBatchFirst, nil
	default:
		return 0, fmt.Errorf("unknown ordering %q", s)
	}
}

// Order returns the visitation order for sk: shards for which resident
// reports true come first, then the rest. Within each group shards are
// sorted by batch size per ord, ties by ascending shard ID.
func Order(sk *ShardKeyed, resident func(model.ShardID) bool, ord Ordering) []model.ShardID {
	ids := sk.Shards()

	rank := func(id model.ShardID) int {
		if resident != nil && resident(id) {
			return 0
		}
		return 1
	}

	slices.SortStableFunc(ids, func(a, b model.ShardID) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		c := cmp.Compare(sk.BatchSize(a), sk.BatchSize(b))
		if ord == LargestBatchFirst {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}
