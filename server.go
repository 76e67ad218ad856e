package vecshard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/catalog"
	"github.com/hupe1980/vecshard/internal/resource"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/prefetch"
	"github.com/hupe1980/vecshard/rank"
	"github.com/hupe1980/vecshard/rankstore"
	"github.com/hupe1980/vecshard/router"
	"github.com/hupe1980/vecshard/search"
	"github.com/hupe1980/vecshard/shardcache"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/telemetry"
	"github.com/hupe1980/vecshard/topology"
)

// Strategy selects how a batch visits its shards.
type Strategy = search.Strategy

const (
	// StrategyShard batches all queries of a shard into one search call.
	StrategyShard = search.ShardOuter
	// StrategyShardPipelined is StrategyShard with the next shard loaded
	// while the current one is searched.
	StrategyShardPipelined = search.ShardPipelined
	// StrategyQuery searches shard by shard for every query on its own.
	StrategyQuery = search.QueryOuter
)

// SearchOptions controls a batch search.
type SearchOptions struct {
	// NProbe is the number of shards routed per query.
	NProbe int
	// K is the number of neighbors returned per query.
	K int
	// LocalK is the number of neighbors requested from each shard. Zero means K.
	LocalK int
	// Strategy is the visitation strategy.
	Strategy Strategy
	// Strict fails the batch on the first shard load error.
	Strict bool
}

// Response is the result of a batch search. Row i belongs to query i.
type Response struct {
	// Distances are ascending; missing results are +Inf.
	Distances [][]float32
	// IDs holds model.InvalidVectorID where no result exists.
	IDs [][]int64
	// Shards attributes every result to the shard it came from.
	Shards [][]model.ShardID
	// Topology is the routing decision for the batch.
	Topology topology.QueryKeyed
	// Order is the shard visitation order used.
	Order []model.ShardID
	// FailedShards lists shards skipped because they could not be loaded.
	FailedShards []model.ShardID
}

// Server serves batched k-NN searches over a sharded index root while
// holding at most a fixed number of data shards in memory.
type Server struct {
	catalog   *catalog.Catalog
	router    *router.Router
	tracker   *rank.Tracker
	cache     *shardcache.Cache
	loader    *prefetch.Loader
	resource  *resource.Controller
	scheduler *search.Scheduler

	ordering  topology.Ordering
	rankStore rankstore.Store
	recorder  telemetry.Recorder
	metrics   MetricsCollector
	logger    *Logger

	// mu serializes batches. Routing and reconcile assume one batch at a time.
	mu     sync.Mutex
	closed atomic.Bool
}

// Open scans the index root in store and starts serving it.
//
// Open fails fast on configuration errors (no centroid index, no shards, a
// centroid count that does not match the shard count) before any data shard
// is read.
func Open(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Server, error) {
	o := applyOptions(optFns)

	srv, err := open(ctx, store, o)
	if err != nil {
		if o.rankStore != nil {
			err = errors.Join(err, o.rankStore.Close())
		}
		o.logger.LogOpen(ctx, o.root, 0, 0, err)
		return nil, err
	}

	o.logger.LogOpen(ctx, o.root, srv.catalog.Len(), srv.router.Dimension(), nil)
	return srv, nil
}

func open(ctx context.Context, store blobstore.BlobStore, o options) (*Server, error) {
	if o.capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	cat, err := catalog.Scan(ctx, store, o.root)
	if err != nil {
		return nil, err
	}

	loader := o.loader
	if loader == nil {
		loader = shardindex.NewBlobLoader(store)
	}
	src := catalog.NewSource(cat, loader)

	centroids, err := src.LoadCentroids(ctx)
	if err != nil {
		return nil, fmt.Errorf("load centroids: %w", err)
	}

	rt, err := router.New(centroids, cat.Len(), router.WithLogger(o.logger.Component("router")))
	if err != nil {
		return nil, err
	}

	tracker := rank.NewTracker(o.policy)
	if o.rankStore != nil {
		scores, err := o.rankStore.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore ranking: %w", err)
		}
		tracker.Restore(scores)
	}

	recorder := telemetry.Multi{o.recorder, metricsRecorder{mc: o.metricsCollector}}

	cache, err := shardcache.New(src, o.capacity, func(co *shardcache.Options) {
		co.Tracker = tracker
		co.Logger = o.logger.Component("shardcache")
		co.Recorder = recorder
	})
	if err != nil {
		return nil, err
	}

	srv := &Server{
		catalog: cat,
		router:  rt,
		tracker: tracker,
		cache:   cache,
		scheduler: search.New(cache,
			search.WithLogger(o.logger.Component("search")),
			search.WithRecorder(recorder),
		),
		resource:  o.resource,
		ordering:  o.ordering,
		rankStore: o.rankStore,
		recorder:  o.recorder,
		metrics:   o.metricsCollector,
		logger:    o.logger,
	}

	if o.prefetch {
		srv.loader = prefetch.New(cache,
			prefetch.WithRanking(tracker),
			prefetch.WithResourceController(o.resource),
			prefetch.WithLogger(o.logger.Component("prefetch")),
		)
		cache.SetLoaderHook(srv.loader)

		if err := srv.loader.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
	}

	return srv, nil
}

// Dimension returns the vector dimension of the index root.
func (s *Server) Dimension() int { return s.router.Dimension() }

// NumShards returns the number of data shards in the index root.
func (s *Server) NumShards() int { return s.catalog.Len() }

// Resident returns the IDs of the shards currently held in memory.
func (s *Server) Resident() []model.ShardID { return s.cache.Resident() }

// CacheStats returns a snapshot of the shard cache counters.
func (s *Server) CacheStats() shardcache.Stats { return s.cache.Stats() }

// PrefetchStats describes the background loader.
type PrefetchStats struct {
	Enabled  bool
	State    string
	Loaded   int64
	Failed   int64
	InFlight int64
	IOBytes  int64
}

// PrefetchStats reports what the background loader has done so far.
func (s *Server) PrefetchStats() PrefetchStats {
	if s.loader == nil {
		return PrefetchStats{}
	}
	rs := s.resource.Stats()
	return PrefetchStats{
		Enabled:  true,
		State:    s.loader.State().String(),
		Loaded:   s.loader.Loaded(),
		Failed:   s.loader.Failed(),
		InFlight: rs.InFlight,
		IOBytes:  rs.IOBytesTotal,
	}
}

// Route returns the query-keyed topology of queries without searching.
func (s *Server) Route(ctx context.Context, queries [][]float32, nprobe int) (topology.QueryKeyed, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	qk, err := s.router.Route(ctx, queries, nprobe)
	if err != nil {
		return nil, translateError(err)
	}
	return qk, nil
}

// Search runs one batch of queries.
//
// Every query is routed to its NProbe nearest shards, the cache is reconciled
// against the batch, the background loader is pointed at the shards the batch
// still needs, and the selected strategy merges per-shard results into the
// global top K.
func (s *Server) Search(ctx context.Context, queries [][]float32, opts SearchOptions) (*Response, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	resp, err := s.search(ctx, queries, opts)
	latency := time.Since(start)

	s.metrics.RecordSearch(len(queries), opts.K, latency, err)

	failed := 0
	if resp != nil {
		failed = len(resp.FailedShards)
	}
	s.logger.LogSearch(ctx, len(queries), opts.K, opts.NProbe, opts.Strategy.String(), latency, failed, err)

	return resp, err
}

func (s *Server) search(ctx context.Context, queries [][]float32, opts SearchOptions) (*Response, error) {
	if len(queries) == 0 {
		return nil, ErrEmptyBatch
	}
	if opts.K <= 0 {
		return nil, ErrInvalidK
	}
	if opts.NProbe <= 0 {
		return nil, ErrInvalidNProbe
	}
	if err := shardindex.CheckDimensions(queries, s.router.Dimension()); err != nil {
		return nil, translateError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evictions := s.cache.Stats().Evictions

	if s.loader != nil {
		s.loader.Resume()
	}

	qk, err := s.router.Route(ctx, queries, opts.NProbe)
	if err != nil {
		return nil, translateError(err)
	}

	plan := search.NewPlan(queries, qk)
	plan.Order = s.cache.Reconcile(plan.ShardKeyed, s.ordering)

	if s.loader != nil {
		pending := make([]model.ShardID, 0, len(plan.Order))
		for _, id := range plan.Order {
			if !s.cache.Contains(id) {
				pending = append(pending, id)
			}
		}
		s.redirectLoader(pending)
	}

	res, err := s.scheduler.Run(ctx, opts.Strategy, plan, search.Options{
		K:      opts.K,
		LocalK: opts.LocalK,
		Strict: opts.Strict,
	})

	if s.loader != nil {
		s.redirectLoader(s.tracker.Head(s.cache.Capacity()))
	}

	if n := s.cache.Stats().Evictions - evictions; n > 0 {
		s.metrics.RecordEviction(int(n))
	}

	if err != nil {
		return nil, translateError(err)
	}

	return &Response{
		Distances:    res.Distances,
		IDs:          res.IDs,
		Shards:       res.Shards,
		Topology:     qk,
		Order:        plan.Order,
		FailedShards: res.FailedShards,
	}, nil
}

// redirectLoader replaces the loader queue. The pause keeps the worker from
// popping a stale entry while the queue is swapped.
func (s *Server) redirectLoader(ids []model.ShardID) {
	s.loader.Pause()
	s.loader.UpdateQueue(ids)
	s.loader.Resume()
}

// Close stops the background loader, persists the ranking and releases the
// cache. Calling Close more than once is a no-op; other methods return
// ErrClosed afterwards.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx := context.Background()

	if s.loader != nil {
		s.loader.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	if s.rankStore != nil {
		if err := s.rankStore.Save(ctx, s.tracker.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save ranking: %w", err))
		}
		if err := s.rankStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.cache.Close(); err != nil {
		errs = append(errs, err)
	}

	if f, ok := s.recorder.(interface{ Flush(context.Context) error }); ok {
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
		}
	}

	err := errors.Join(errs...)
	s.logger.LogClose(ctx, err)
	return err
}
