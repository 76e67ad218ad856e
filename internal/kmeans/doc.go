// Package kmeans partitions a vector collection into shards with Lloyd's
// algorithm. The build command uses it to decide which vectors share a shard
// and to produce the centroid index queries are routed with.
package kmeans
