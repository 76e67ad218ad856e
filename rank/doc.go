// Package rank tracks per-shard popularity and produces hot and cold shard lists.
//
// A Tracker is parameterized by a Policy chosen once at construction:
//
//   - FrequencyWeighted (LFU): every access adds its weight to the score.
//   - RecencyStamped (LRU): every access replaces the score with a fresh
//     value of a monotonic logical clock.
//
// Sorted views are computed lazily: updates only set a dirty flag and the
// next Head or Tail call re-sorts. All methods are safe for concurrent use.
package rank
