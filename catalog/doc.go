// Package catalog maps an index root to the shard-ID space.
//
// An index root holds exactly one blob whose name contains "centroid" (the
// routing index) and one blob per data shard. The sorted listing of the data
// blobs defines shard IDs: the first blob is shard 0, the next shard 1, and
// so on. A Catalog is computed once and reused for the lifetime of a server
// so IDs never shift underneath the cache.
package catalog
