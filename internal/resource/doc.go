// Package resource bounds the memory, background concurrency and IO bandwidth
// consumed by shard serving.
//
// The block cache charges decoded bytes against the memory limit, and the
// prefetch loader holds a background slot and IO tokens for every shard it
// loads so warming the cache never starves foreground searches.
//
// A nil *Controller is valid and imposes no limits.
package resource
