// Package cache provides a byte-bounded LRU cache for immutable blob blocks.
//
// blobstore.CachingStore uses it to keep recently read blocks of remote shard
// blobs in memory, so a shard that is evicted from the shard cache and loaded
// again shortly after does not pay the full network round trip twice.
//
// Memory is charged against an optional resource.Controller; when the global
// budget is exhausted new blocks are simply not cached.
package cache
