// Package search executes a routed query batch against the shard cache.
//
// Three strategies are available. QueryOuter visits each query's shards one
// query at a time and serves as the reference. ShardOuter visits every
// needed shard once with all of its queries as a single batch. ShardPipelined
// does the same but acquires the next shard while the current one is being
// searched. All strategies merge into an Accumulator and therefore return
// the same top k for the same routing.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardcache"
	"github.com/hupe1980/vecshard/telemetry"
	"github.com/hupe1980/vecshard/topology"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("search: k must be positive")

// Strategy selects how a batch visits its shards.
type Strategy int

const (
	// ShardOuter searches each shard once with all queries routed to it.
	ShardOuter Strategy = iota
	// ShardPipelined is ShardOuter with the next shard acquired concurrently.
	ShardPipelined
	// QueryOuter searches shard by shard for one query at a time.
	QueryOuter
)

func (s Strategy) String() string {
	switch s {
	case QueryOuter:
		return "query"
	case ShardOuter:
		return "shard"
	case ShardPipelined:
		return "shard_pipelined"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the names produced by Strategy.String.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "query":
		return QueryOuter, nil
	case "shard", "":
		return ShardOuter, nil
	case "shard_pipelined", "pipelined":
		return ShardPipelined, nil
	default:
		return 0, fmt.Errorf("search: unknown strategy %q", name)
	}
}

// ShardLoadError reports a shard that could not be loaded in strict mode.
type ShardLoadError struct {
	Shard model.ShardID
	Err   error
}

func (e *ShardLoadError) Error() string {
	return fmt.Sprintf("search: load shard %d: %v", e.Shard, e.Err)
}

func (e *ShardLoadError) Unwrap() error { return e.Err }

// Options controls a single batch execution.
type Options struct {
	// K is the number of results per query.
	K int
	// LocalK is the number of results requested from each shard. Zero means K.
	LocalK int
	// Strict fails the whole batch on the first shard load error. Otherwise
	// failed shards contribute no results and are listed in Result.FailedShards.
	Strict bool
}

// Result holds the merged top k per query.
type Result struct {
	Distances [][]float32
	IDs       [][]int64
	Shards    [][]model.ShardID
	// FailedShards lists shards that could not be loaded, in ascending order.
	FailedShards []model.ShardID
}

// Plan is a routed batch.
type Plan struct {
	Queries    [][]float32
	QueryKeyed topology.QueryKeyed
	ShardKeyed *topology.ShardKeyed
	// Order is the shard visitation order of the shard strategies. When nil
	// shards are visited in ascending ID order.
	Order []model.ShardID
}

// NewPlan builds a plan from a query-keyed topology.
func NewPlan(queries [][]float32, qk topology.QueryKeyed) *Plan {
	sk := topology.Reverse(qk)

	return &Plan{
		Queries:    queries,
		QueryKeyed: qk,
		ShardKeyed: sk,
		Order:      sk.Shards(),
	}
}

// Cache is the part of shardcache.Cache used by the scheduler.
type Cache interface {
	Acquire(ctx context.Context, id model.ShardID, weight float64) (*shardcache.Lease, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the telemetry recorder for per-shard search latencies.
func WithRecorder(rec telemetry.Recorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// Scheduler runs plans against a cache.
type Scheduler struct {
	cache    Cache
	logger   *slog.Logger
	recorder telemetry.Recorder
}

// New creates a scheduler reading shards from cache.
func New(cache Cache, optFns ...Option) *Scheduler {
	s := &Scheduler{
		cache:    cache,
		logger:   slog.New(slog.DiscardHandler),
		recorder: telemetry.Noop{},
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// Run executes plan with the given strategy.
func (s *Scheduler) Run(ctx context.Context, strategy Strategy, plan *Plan, opts Options) (*Result, error) {
	switch strategy {
	case QueryOuter:
		return s.QueryOuterLoop(ctx, plan, opts)
	case ShardOuter:
		return s.ShardOuterLoop(ctx, plan, opts)
	case ShardPipelined:
		return s.ShardPipelinedLoop(ctx, plan, opts)
	default:
		return nil, fmt.Errorf("search: unknown strategy %d", int(strategy))
	}
}

// batch carries the per-call state shared by the strategies.
type batch struct {
	s      *Scheduler
	plan   *Plan
	opts   Options
	localK int
	acc    *Accumulator
	failed map[model.ShardID]struct{}
}

func (s *Scheduler) newBatch(plan *Plan, opts Options) (*batch, error) {
	if opts.K <= 0 {
		return nil, ErrInvalidK
	}

	localK := opts.LocalK
	if localK <= 0 {
		localK = opts.K
	}

	return &batch{
		s:      s,
		plan:   plan,
		opts:   opts,
		localK: localK,
		acc:    NewAccumulator(len(plan.Queries), opts.K),
		failed: make(map[model.ShardID]struct{}),
	}, nil
}

// loadFailed decides whether a failed acquisition aborts the batch.
func (b *batch) loadFailed(ctx context.Context, id model.ShardID, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var capErr *shardcache.CapacityError
	if errors.As(err, &capErr) || errors.Is(err, shardcache.ErrClosed) {
		return err
	}

	if b.opts.Strict {
		b.s.logger.Error("shard load failed", "shard", id, "error", err)
		return &ShardLoadError{Shard: id, Err: err}
	}

	b.s.logger.Warn("shard load failed, skipping", "shard", id, "error", err)
	b.failed[id] = struct{}{}

	return nil
}

// searchShard runs queries against a leased shard and merges the results
// into the rows listed in positions.
func (b *batch) searchShard(ctx context.Context, lease *shardcache.Lease, positions []int) error {
	queries := make([][]float32, len(positions))
	for i, q := range positions {
		queries[i] = b.plan.Queries[q]
	}

	start := time.Now()

	res, err := lease.Index().Search(ctx, queries, b.localK)
	if err != nil {
		return fmt.Errorf("search: shard %d: %w", lease.ID(), err)
	}

	b.s.recorder.Record(telemetry.Since(telemetry.KindShardSearch, start, lease.ID(), len(positions)))

	for i, q := range positions {
		b.acc.Merge(q, lease.ID(), res.Distances[i], res.IDs[i])
	}

	return nil
}

func (b *batch) result() *Result {
	r := b.acc.Result()

	if len(b.failed) > 0 {
		r.FailedShards = make([]model.ShardID, 0, len(b.failed))
		for id := range b.failed {
			r.FailedShards = append(r.FailedShards, id)
		}

		slices.Sort(r.FailedShards)
	}

	return r
}

func (p *Plan) order() []model.ShardID {
	if p.Order != nil {
		return p.Order
	}

	return p.ShardKeyed.Shards()
}

// QueryOuterLoop searches every (query, shard) pair with a single-query batch.
func (s *Scheduler) QueryOuterLoop(ctx context.Context, plan *Plan, opts Options) (*Result, error) {
	b, err := s.newBatch(plan, opts)
	if err != nil {
		return nil, err
	}

	for q, shards := range plan.QueryKeyed {
		for _, id := range shards {
			if !id.Valid() {
				continue
			}

			if _, failed := b.failed[id]; failed {
				continue
			}

			lease, err := s.cache.Acquire(ctx, id, 1)
			if err != nil {
				if err := b.loadFailed(ctx, id, err); err != nil {
					return nil, err
				}

				continue
			}

			err = b.searchShard(ctx, lease, []int{q})
			lease.Release()

			if err != nil {
				return nil, err
			}
		}
	}

	return b.result(), nil
}

// ShardOuterLoop searches each shard once with all of its queries.
func (s *Scheduler) ShardOuterLoop(ctx context.Context, plan *Plan, opts Options) (*Result, error) {
	b, err := s.newBatch(plan, opts)
	if err != nil {
		return nil, err
	}

	for _, id := range plan.order() {
		positions := plan.ShardKeyed.Queries(id)
		if len(positions) == 0 {
			continue
		}

		lease, err := s.cache.Acquire(ctx, id, float64(len(positions)))
		if err != nil {
			if err := b.loadFailed(ctx, id, err); err != nil {
				return nil, err
			}

			continue
		}

		err = b.searchShard(ctx, lease, positions)
		lease.Release()

		if err != nil {
			return nil, err
		}
	}

	return b.result(), nil
}

type acquired struct {
	id    model.ShardID
	lease *shardcache.Lease
	err   error
}

// ShardPipelinedLoop is ShardOuterLoop with the acquisition of the next shard
// overlapping the search of the current one.
func (s *Scheduler) ShardPipelinedLoop(ctx context.Context, plan *Plan, opts Options) (*Result, error) {
	b, err := s.newBatch(plan, opts)
	if err != nil {
		return nil, err
	}

	order := plan.order()

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group

	next := make(chan acquired)

	g.Go(func() error {
		defer close(next)

		for _, id := range order {
			n := len(plan.ShardKeyed.Queries(id))
			if n == 0 {
				continue
			}

			lease, err := s.cache.Acquire(pctx, id, float64(n))

			select {
			case next <- acquired{id: id, lease: lease, err: err}:
			case <-pctx.Done():
				if lease != nil {
					lease.Release()
				}

				return pctx.Err()
			}
		}

		return nil
	})

	runErr := func() error {
		for a := range next {
			if a.err != nil {
				if err := b.loadFailed(ctx, a.id, a.err); err != nil {
					return err
				}

				continue
			}

			err := b.searchShard(ctx, a.lease, plan.ShardKeyed.Queries(a.id))
			a.lease.Release()

			if err != nil {
				return err
			}
		}

		return nil
	}()

	if runErr != nil {
		// Stop the producer and release whatever it still hands over.
		cancel()

		for a := range next {
			if a.lease != nil {
				a.lease.Release()
			}
		}

		_ = g.Wait()

		return nil, runErr
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return b.result(), nil
}
