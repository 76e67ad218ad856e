// Package model defines identity types shared by every vecshard package.
//
// # Identity Types
//
//   - ShardID: position of a data shard in the sorted listing of an index root
//   - VectorID: identifier stored alongside each vector inside a shard
//
// InvalidShardID and InvalidVectorID mark padding slots in result matrices.
// Both are negative so they can never collide with a real ID 0.
package model
