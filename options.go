package vecshard

import (
	"log/slog"

	"github.com/hupe1980/vecshard/internal/resource"
	"github.com/hupe1980/vecshard/rank"
	"github.com/hupe1980/vecshard/rankstore"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/telemetry"
	"github.com/hupe1980/vecshard/topology"
)

// DefaultCapacity is the number of data shards kept resident by default.
const DefaultCapacity = 8

type options struct {
	root             string
	capacity         int
	policy           rank.Policy
	ordering         topology.Ordering
	prefetch         bool
	resource         *resource.Controller
	rankStore        rankstore.Store
	recorder         telemetry.Recorder
	metricsCollector MetricsCollector
	logger           *Logger
	loader           shardindex.Loader
}

// Option configures Open.
type Option func(*options)

// WithRoot selects the index root inside the store. The root is a name
// prefix; the empty root scans the whole store.
func WithRoot(root string) Option {
	return func(o *options) {
		o.root = root
	}
}

// WithCapacity sets the maximum number of resident data shards.
// The centroid index is held outside the cache and does not count.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithPolicy selects the ranking policy that drives eviction and prefetch.
//
// If nil is passed, rank.FrequencyWeighted is used.
func WithPolicy(p rank.Policy) Option {
	return func(o *options) {
		if p == nil {
			p = rank.FrequencyWeighted{}
		}
		o.policy = p
	}
}

// WithOrdering sets how shards that are not yet resident are ordered within a batch.
func WithOrdering(ord topology.Ordering) Option {
	return func(o *options) {
		o.ordering = ord
	}
}

// WithoutPrefetch disables the background loader. Shards are then only
// loaded on demand by the serving path.
func WithoutPrefetch() Option {
	return func(o *options) {
		o.prefetch = false
	}
}

// WithPrefetchLimits bounds the background loader: maxWorkers concurrent
// background loads and ioBytesPerSec of charged shard bytes (0 = unlimited).
func WithPrefetchLimits(maxWorkers, ioBytesPerSec int64) Option {
	return func(o *options) {
		o.resource = resource.NewController(resource.Config{
			MaxBackgroundWorkers: maxWorkers,
			IOLimitBytesPerSec:   ioBytesPerSec,
		})
	}
}

// WithRankStore restores tracker scores from s on Open and saves them on Close.
// The server takes ownership of s and closes it.
func WithRankStore(s rankstore.Store) Option {
	return func(o *options) {
		o.rankStore = s
	}
}

// WithRecorder attaches a telemetry sink for shard load and shard search events.
//
// If the recorder has a Flush(context.Context) error method, Close calls it.
func WithRecorder(rec telemetry.Recorder) Option {
	return func(o *options) {
		o.recorder = rec
	}
}

// WithShardLoader replaces the blob decoder used to turn shard blobs into indexes.
func WithShardLoader(l shardindex.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecshard.BasicMetricsCollector{}
//	srv, _ := vecshard.Open(ctx, store, vecshard.WithMetricsCollector(metrics))
//	// ... serve batches ...
//	stats := metrics.GetStats()
//	fmt.Printf("Loads: %d, Avg load: %dns\n", stats.ShardLoadCount, stats.ShardLoadAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vecshard.NewJSONLogger(slog.LevelInfo)
//	srv, _ := vecshard.Open(ctx, store, vecshard.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		capacity:         DefaultCapacity,
		policy:           rank.FrequencyWeighted{},
		ordering:         topology.SmallestBatchFirst,
		prefetch:         true,
		recorder:         telemetry.Noop{},
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.resource == nil {
		o.resource = resource.NewController(resource.Config{})
	}
	return o
}
