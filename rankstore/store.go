// Package rankstore persists shard rank scores between runs.
//
// A warm restart restores the scores into a rank.Tracker so that eviction
// and background loading start from the previous run's access pattern
// instead of from scratch.
package rankstore

import (
	"context"

	"github.com/hupe1980/vecshard/model"
)

// Store loads and saves a complete score snapshot.
type Store interface {
	// Load returns the saved scores; an empty map if nothing was saved.
	Load(ctx context.Context) (map[model.ShardID]float64, error)
	// Save persists scores, replacing the previous snapshot.
	Save(ctx context.Context, scores map[model.ShardID]float64) error
	// Close releases the store's resources.
	Close() error
}
