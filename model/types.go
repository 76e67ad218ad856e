package model

import (
	"fmt"
	"slices"
)

// ShardID is the position of a data shard in the index root listing.
type ShardID int

// VectorID identifies a vector inside the collection.
type VectorID = int64

const (
	// InvalidShardID marks a result slot that no shard contributed.
	InvalidShardID ShardID = -1

	// InvalidVectorID marks a padded result slot.
	InvalidVectorID VectorID = -1
)

// Valid reports whether id refers to a real shard.
func (id ShardID) Valid() bool {
	return id >= 0
}

// String returns a string representation of the ShardID.
func (id ShardID) String() string {
	if id < 0 {
		return "shard(invalid)"
	}
	return fmt.Sprintf("shard(%d)", int(id))
}

// SortShardIDs sorts ids ascending in place and returns them.
func SortShardIDs(ids []ShardID) []ShardID {
	slices.Sort(ids)
	return ids
}
