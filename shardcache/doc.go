// Package shardcache keeps a bounded set of shard indexes in memory.
//
// The cache never holds more than its capacity of entries, counting shards
// that are still being loaded. Callers obtain a Lease for a shard; a leased
// shard is pinned and is never chosen for eviction until the lease is
// released. When room is needed the cache evicts the coldest unpinned shard
// according to its rank.Tracker, or the oldest one when no tracker is set.
package shardcache
