// Package shardindex implements the per-shard nearest-neighbor index.
//
// An Index answers batched k-NN queries over one shard's vectors. Flat is an
// exact brute-force implementation; its on-disk encoding is a fixed header
// followed by an optionally compressed body:
//
//	+--------------------+-----------------------------------------+
//	| header (48 bytes)  | body: count int64 IDs, count*dim values |
//	+--------------------+-----------------------------------------+
//
// The body can be stored as float32 or float16 and compressed with LZ4 or
// Zstandard. Both the header and the stored body carry CRC32C checksums, so
// a truncated or corrupt shard blob fails to load instead of answering
// queries with garbage.
//
// Result rows always have exactly k columns. Slots beyond the number of
// vectors in the shard hold +Inf and model.InvalidVectorID.
package shardindex
