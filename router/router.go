// Package router maps query batches to candidate shards by searching a
// centroid index that holds one mean vector per shard.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/topology"
)

var (
	// ErrInvalidNProbe is returned when nprobe is not positive.
	ErrInvalidNProbe = errors.New("nprobe must be positive")
	// ErrCentroidCount is returned when the centroid index does not hold one
	// centroid per shard.
	ErrCentroidCount = errors.New("centroid count does not match shard count")
)

// Router runs coarse centroid search. It is stateless apart from the
// read-only centroid index and safe for concurrent use.
type Router struct {
	centroids shardindex.Index
	numShards int
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// New creates a router over centroids. Centroid vector IDs are shard IDs.
func New(centroids shardindex.Index, numShards int, optFns ...Option) (*Router, error) {
	if centroids.Len() != numShards {
		return nil, fmt.Errorf("%w: %d centroids, %d shards", ErrCentroidCount, centroids.Len(), numShards)
	}

	r := &Router{
		centroids: centroids,
		numShards: numShards,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r, nil
}

// Dimension returns the vector dimension queries must have.
func (r *Router) Dimension() int {
	return r.centroids.Dimension()
}

// NumShards returns the size of the shard-ID space.
func (r *Router) NumShards() int {
	return r.numShards
}

// Route returns, per query, the nprobe nearest shards in ascending centroid
// distance. nprobe larger than the shard count is clamped.
func (r *Router) Route(ctx context.Context, queries [][]float32, nprobe int) (topology.QueryKeyed, error) {
	if nprobe <= 0 {
		return nil, ErrInvalidNProbe
	}
	if err := shardindex.CheckDimensions(queries, r.centroids.Dimension()); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return topology.QueryKeyed{}, nil
	}

	nprobe = min(nprobe, r.numShards)

	res, err := r.centroids.Search(ctx, queries, nprobe)
	if err != nil {
		return nil, fmt.Errorf("centroid search: %w", err)
	}

	qk := make(topology.QueryKeyed, len(queries))
	for q, ids := range res.IDs {
		shards := make([]model.ShardID, 0, len(ids))
		for _, id := range ids {
			if id < 0 || id >= int64(r.numShards) {
				continue
			}
			shards = append(shards, model.ShardID(id))
		}
		qk[q] = shards
	}

	r.logger.DebugContext(ctx, "routed batch", "queries", len(queries), "nprobe", nprobe, "pairs", qk.Pairs())
	return qk, nil
}

// ToShardKeyed reverses a query-keyed topology.
func (r *Router) ToShardKeyed(qk topology.QueryKeyed) *topology.ShardKeyed {
	return topology.Reverse(qk)
}
