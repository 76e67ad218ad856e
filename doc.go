// Package vecshard serves approximate k-nearest-neighbor search over a vector
// collection that has been partitioned into shards and is too large to hold in
// memory at once.
//
// An index root holds one centroid index (one centroid per shard) and one
// flat index per shard. Queries are routed to the nprobe shards whose
// centroids are nearest, searched there, and merged into a global top k.
// At most a fixed number of data shards are resident at any time; a
// background loader keeps the hottest shards warm between batches.
//
// # Quick Start
//
//	ctx := context.Background()
//	store := blobstore.NewLocalStore("./index")
//	srv, _ := vecshard.Open(ctx, store,
//	    vecshard.WithCapacity(4),
//	    vecshard.WithPolicy(rank.RecencyStamped{}),
//	)
//	defer srv.Close()
//
//	resp, _ := srv.Search(ctx, queries, vecshard.SearchOptions{
//	    NProbe:   4,
//	    K:        10,
//	    Strategy: vecshard.StrategyShardPipelined,
//	})
//
// # Strategies
//
// StrategyQuery visits shards query by query and serves as a baseline.
// StrategyShard groups the queries of each shard into one search call.
// StrategyShardPipelined additionally loads the next shard while the current
// one is searched. All strategies return the same results for the same batch.
//
// # Failures
//
// Configuration errors (see IsConfigError) are returned before any shard is
// loaded. A shard that cannot be loaded is skipped and reported in
// Response.FailedShards, unless SearchOptions.Strict is set, in which case the
// batch fails with a *ShardLoadError.
package vecshard
