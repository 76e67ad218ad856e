package vecshard

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecshard/telemetry"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordSearch is called after each batch search. queries is the batch
	// size, k the number of neighbors requested, err is nil if successful.
	RecordSearch(queries, k int, duration time.Duration, err error)

	// RecordShardLoad is called after a shard was loaded into the cache,
	// by a search or by the background loader.
	RecordShardLoad(duration time.Duration)

	// RecordShardSearch is called after one shard answered a query batch.
	RecordShardSearch(batchSize int, duration time.Duration)

	// RecordEviction is called with the number of shards evicted during a batch.
	RecordEviction(count int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordShardLoad(time.Duration)               {}
func (NoopMetricsCollector) RecordShardSearch(int, time.Duration)        {}
func (NoopMetricsCollector) RecordEviction(int)                          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SearchCount         atomic.Int64
	SearchErrors        atomic.Int64
	SearchTotalNanos    atomic.Int64
	QueryCount          atomic.Int64
	ShardLoadCount      atomic.Int64
	ShardLoadTotalNanos atomic.Int64
	ShardSearchCount    atomic.Int64
	ShardSearchQueries  atomic.Int64
	EvictionCount       atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(queries, k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.QueryCount.Add(int64(queries))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordShardLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShardLoad(duration time.Duration) {
	b.ShardLoadCount.Add(1)
	b.ShardLoadTotalNanos.Add(duration.Nanoseconds())
}

// RecordShardSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShardSearch(batchSize int, _ time.Duration) {
	b.ShardSearchCount.Add(1)
	b.ShardSearchQueries.Add(int64(batchSize))
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(count int) {
	b.EvictionCount.Add(int64(count))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchAvgNanos:    avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		QueryCount:        b.QueryCount.Load(),
		ShardLoadCount:    b.ShardLoadCount.Load(),
		ShardLoadAvgNanos: avg(b.ShardLoadTotalNanos.Load(), b.ShardLoadCount.Load()),
		ShardSearchCount:  b.ShardSearchCount.Load(),
		EvictionCount:     b.EvictionCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount       int64
	SearchErrors      int64
	SearchAvgNanos    int64
	QueryCount        int64
	ShardLoadCount    int64
	ShardLoadAvgNanos int64
	ShardSearchCount  int64
	EvictionCount     int64
}

// metricsRecorder feeds telemetry records into a MetricsCollector.
type metricsRecorder struct {
	mc MetricsCollector
}

func (m metricsRecorder) Record(r telemetry.Record) {
	switch r.Kind {
	case telemetry.KindShardLoad:
		m.mc.RecordShardLoad(r.Latency)
	case telemetry.KindShardSearch:
		m.mc.RecordShardSearch(r.BatchSize, r.Latency)
	}
}
