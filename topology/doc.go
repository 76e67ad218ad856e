// Package topology holds the bipartite mapping between the queries of a batch
// and the shards selected for them.
//
// QueryKeyed is the router output: for every query position the candidate
// shards in ascending centroid distance. ShardKeyed is the reverse relation:
// for every shard the set of query positions that need it, stored as a
// roaring bitmap so a (shard, query) pair can appear at most once.
//
// Reverse and ToQueryKeyed convert between the two forms. ShardKeyed is the
// canonical form: reversing, converting back and reversing again yields an
// equal ShardKeyed.
package topology
