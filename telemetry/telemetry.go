// Package telemetry records per-shard load and search latencies.
//
// A Recorder receives one Record per shard load and per shard search. The
// LineRecorder writes them as comma-separated lines; the SQLRecorder persists
// them into a telemetry_events table so that runs can be compared later.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/vecshard/model"
)

// Kind identifies the event being recorded.
type Kind string

const (
	// KindShardLoad is recorded after a shard has been fetched and decoded.
	KindShardLoad Kind = "shard_load"
	// KindShardSearch is recorded after a query batch ran against one shard.
	KindShardSearch Kind = "shard_search"
)

// Record is a single telemetry event.
type Record struct {
	Time      time.Time
	Kind      Kind
	Latency   time.Duration
	Shard     model.ShardID
	BatchSize int
}

// Recorder consumes telemetry records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(r Record)
}

// Noop discards every record.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(Record) {}

// Multi fans a record out to several recorders.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(r Record) {
	for _, rec := range m {
		if rec != nil {
			rec.Record(r)
		}
	}
}

// Since builds a record of the given kind whose latency is measured from start.
func Since(kind Kind, start time.Time, shard model.ShardID, batchSize int) Record {
	return Record{
		Time:      start,
		Kind:      kind,
		Latency:   time.Since(start),
		Shard:     shard,
		BatchSize: batchSize,
	}
}

// NewRunID returns a fresh identifier used to group the records of one run.
func NewRunID() string {
	return uuid.NewString()
}

// Collector keeps records in memory. It is mostly useful in tests.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

// Record implements Recorder.
func (c *Collector) Record(r Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

// Records returns a copy of the collected records.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, len(c.records))
	copy(out, c.records)

	return out
}

// Count returns the number of collected records of the given kind.
func (c *Collector) Count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, r := range c.records {
		if r.Kind == kind {
			n++
		}
	}

	return n
}
