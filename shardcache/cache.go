package shardcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/rank"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/telemetry"
	"github.com/hupe1980/vecshard/topology"
)

var (
	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("shardcache: capacity must be at least 1")
	// ErrCacheFull is returned by TryPrefetch when no slot is free.
	ErrCacheFull = errors.New("shardcache: cache is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("shardcache: closed")
)

// CapacityError reports a broken capacity bound. It is never expected to
// surface; if it does the cache state is inconsistent.
type CapacityError struct {
	Resident int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("shardcache: %d resident shards exceed capacity %d", e.Resident, e.Capacity)
}

// Source loads a shard index by ID.
type Source interface {
	LoadShard(ctx context.Context, id model.ShardID) (shardindex.Index, error)
}

// Resumer is notified whenever a slot has been freed.
type Resumer interface {
	Resume()
}

type entryState uint8

const (
	stateLoading entryState = iota
	stateReady
)

type entry struct {
	id    model.ShardID
	state entryState
	index shardindex.Index
	err   error
	done  chan struct{} // closed once the load resolved
	pins  int
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Loads        int64
	LoadFailures int64
	Evictions    int64
	Resident     int
	Capacity     int
}

// Options configures a Cache.
type Options struct {
	Tracker  *rank.Tracker
	Logger   *slog.Logger
	Recorder telemetry.Recorder
}

// Cache is a bounded, concurrency-safe shard cache.
type Cache struct {
	source   Source
	capacity int
	tracker  *rank.Tracker
	logger   *slog.Logger
	recorder telemetry.Recorder

	mu      sync.Mutex
	entries map[model.ShardID]*entry
	order   []model.ShardID // insertion order, oldest first
	changed chan struct{}   // closed and replaced when a slot may have become free
	hook    Resumer
	closed  bool

	hits, misses, loads, loadFailures, evictions atomic.Int64
}

// New creates a cache holding at most capacity shards loaded from src.
func New(src Source, capacity int, optFns ...func(o *Options)) (*Cache, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	opts := Options{
		Logger:   slog.New(slog.DiscardHandler),
		Recorder: telemetry.Noop{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Cache{
		source:   src,
		capacity: capacity,
		tracker:  opts.Tracker,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		entries:  make(map[model.ShardID]*entry, capacity),
		changed:  make(chan struct{}),
	}, nil
}

// SetLoaderHook registers r to be resumed whenever the cache frees a slot.
func (c *Cache) SetLoaderHook(r Resumer) {
	c.mu.Lock()
	c.hook = r
	c.mu.Unlock()
}

// Capacity returns the maximum number of resident shards.
func (c *Cache) Capacity() int { return c.capacity }

// Tracker returns the rank tracker, which may be nil.
func (c *Cache) Tracker() *rank.Tracker { return c.tracker }

// Len returns the number of resident shards, including in-flight loads.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Full reports whether every slot is taken.
func (c *Cache) Full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) >= c.capacity
}

// Contains reports whether id is resident or being loaded.
func (c *Cache) Contains(id model.ShardID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Resident returns the IDs of all resident or loading shards in ascending order.
func (c *Cache) Resident() []model.ShardID {
	c.mu.Lock()
	ids := slices.Clone(c.order)
	c.mu.Unlock()

	model.SortShardIDs(ids)

	return ids
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	resident := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Loads:        c.loads.Load(),
		LoadFailures: c.loadFailures.Load(),
		Evictions:    c.evictions.Load(),
		Resident:     resident,
		Capacity:     c.capacity,
	}
}

// Lease pins a resident shard until Release is called.
type Lease struct {
	c    *Cache
	e    *entry
	once sync.Once
}

// ID returns the leased shard's ID.
func (l *Lease) ID() model.ShardID { return l.e.id }

// Index returns the leased shard index.
func (l *Lease) Index() shardindex.Index { return l.e.index }

// Release unpins the shard. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.c.mu.Lock()
		l.c.unpinLocked(l.e)
		l.c.mu.Unlock()
	})
}

// Acquire returns a lease on shard id, loading it when absent. A successful
// acquisition records an access of the given weight with the tracker.
// When the cache is full and every resident shard is pinned or loading,
// Acquire waits until a slot frees up or ctx is done.
func (c *Cache) Acquire(ctx context.Context, id model.ShardID, weight float64) (*Lease, error) {
	evicted := false

	c.mu.Lock()

	for {
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}

		if e, ok := c.entries[id]; ok {
			e.pins++

			if e.state == stateReady {
				c.hits.Add(1)
				c.touchLocked(id, weight)
				c.mu.Unlock()

				return &Lease{c: c, e: e}, nil
			}

			c.mu.Unlock()

			select {
			case <-e.done:
			case <-ctx.Done():
				c.mu.Lock()
				c.unpinLocked(e)
				c.mu.Unlock()

				return nil, ctx.Err()
			}

			c.mu.Lock()

			if e.err != nil {
				c.unpinLocked(e)

				// The loading caller gave up; retry under our own context.
				if isContextErr(e.err) && ctx.Err() == nil {
					continue
				}

				c.mu.Unlock()

				return nil, e.err
			}

			c.hits.Add(1)
			c.touchLocked(id, weight)
			c.mu.Unlock()

			return &Lease{c: c, e: e}, nil
		}

		if len(c.entries) >= c.capacity {
			_, ok := c.evictLocked()
			if ok {
				evicted = true
			} else {
				ch := c.changed
				c.mu.Unlock()

				select {
				case <-ch:
				case <-ctx.Done():
					return nil, ctx.Err()
				}

				c.mu.Lock()

				continue
			}
		}

		e, err := c.reserveLocked(id)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}

		e.pins = 1
		c.misses.Add(1)
		c.mu.Unlock()

		if evicted {
			c.resumeLoader()
		}

		idx, err := c.load(ctx, id, int(weight))

		c.mu.Lock()

		if err != nil {
			c.failLocked(e, err)
			c.mu.Unlock()
			c.resumeLoader()

			return nil, err
		}

		c.readyLocked(e, idx)
		c.touchLocked(id, weight)
		c.mu.Unlock()

		return &Lease{c: c, e: e}, nil
	}
}

// GetOrLoad returns the index of shard id, loading it when absent. The shard
// is not pinned once GetOrLoad returns; use Acquire to keep it resident.
func (c *Cache) GetOrLoad(ctx context.Context, id model.ShardID, weight float64) (shardindex.Index, error) {
	lease, err := c.Acquire(ctx, id, weight)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	return lease.Index(), nil
}

// Insert places an already loaded index into the cache, evicting if needed.
// It does not record an access. Inserting a shard that is already present is
// a no-op.
func (c *Cache) Insert(ctx context.Context, id model.ShardID, idx shardindex.Index) error {
	evicted := false

	c.mu.Lock()

	for {
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}

		if _, ok := c.entries[id]; ok {
			c.mu.Unlock()
			return nil
		}

		if len(c.entries) < c.capacity {
			break
		}

		if _, ok := c.evictLocked(); ok {
			evicted = true
			break
		}

		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
	}

	e, err := c.reserveLocked(id)
	if err == nil {
		c.readyLocked(e, idx)
	}

	c.mu.Unlock()

	if evicted {
		c.resumeLoader()
	}

	return err
}

// TryPrefetch loads shard id only if a slot is free without evicting and
// returns the loaded index. A nil index with a nil error means the shard was
// already present. ErrCacheFull is returned when the cache has no room.
// Prefetching does not record an access.
func (c *Cache) TryPrefetch(ctx context.Context, id model.ShardID) (shardindex.Index, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if _, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return nil, nil
	}

	if len(c.entries) >= c.capacity {
		c.mu.Unlock()
		return nil, ErrCacheFull
	}

	e, err := c.reserveLocked(id)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Unlock()

	idx, err := c.load(ctx, id, 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked(e, err)
		return nil, err
	}

	c.readyLocked(e, idx)

	return idx, nil
}

// EvictOne evicts the coldest unpinned shard. ok is false when nothing can be
// evicted.
func (c *Cache) EvictOne() (model.ShardID, bool) {
	c.mu.Lock()
	id, ok := c.evictLocked()
	c.mu.Unlock()

	if ok {
		c.resumeLoader()
	}

	return id, ok
}

// Reconcile prepares the cache for a batch described by sk. Unpinned resident
// shards the batch does not touch are evicted. The returned slice is the
// order in which the batch should visit its shards: resident ones first.
func (c *Cache) Reconcile(sk *topology.ShardKeyed, ord topology.Ordering) []model.ShardID {
	c.mu.Lock()

	evicted := 0

	for _, id := range slices.Clone(c.order) {
		e := c.entries[id]
		if sk.Has(id) || e.state != stateReady || e.pins > 0 {
			continue
		}

		c.removeLocked(id)
		c.evictions.Add(1)

		evicted++
	}

	// Shards needed by this batch move to the young end of the order.
	slices.SortStableFunc(c.order, func(a, b model.ShardID) int {
		na, nb := sk.Has(a), sk.Has(b)
		switch {
		case na == nb:
			return 0
		case nb:
			return -1
		default:
			return 1
		}
	})

	plan := topology.Order(sk, func(id model.ShardID) bool {
		_, ok := c.entries[id]
		return ok
	}, ord)

	c.mu.Unlock()

	if evicted > 0 {
		c.logger.Debug("reconciled shard cache", "evicted", evicted, "needed", sk.Len())
		c.resumeLoader()
	}

	return plan
}

// Close drops all unpinned resident shards and rejects further use. Pending
// waiters are woken and fail with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true

	for _, id := range slices.Clone(c.order) {
		if e := c.entries[id]; e.state == stateReady && e.pins == 0 {
			c.removeLocked(id)
		}
	}

	c.broadcastLocked()
	c.mu.Unlock()

	return nil
}

func (c *Cache) load(ctx context.Context, id model.ShardID, batchSize int) (shardindex.Index, error) {
	start := time.Now()

	idx, err := c.source.LoadShard(ctx, id)
	if err != nil {
		c.loadFailures.Add(1)
		c.logger.Warn("shard load failed", "shard", id, "error", err)

		return nil, err
	}

	c.loads.Add(1)
	c.recorder.Record(telemetry.Since(telemetry.KindShardLoad, start, id, batchSize))

	return idx, nil
}

// reserveLocked adds a loading entry. The caller has made room.
func (c *Cache) reserveLocked(id model.ShardID) (*entry, error) {
	if len(c.entries) >= c.capacity {
		return nil, &CapacityError{Resident: len(c.entries) + 1, Capacity: c.capacity}
	}

	e := &entry{id: id, state: stateLoading, done: make(chan struct{})}
	c.entries[id] = e
	c.order = append(c.order, id)

	return e, nil
}

func (c *Cache) readyLocked(e *entry, idx shardindex.Index) {
	e.state = stateReady
	e.index = idx
	close(e.done)
	// The entry just became an eviction candidate for waiters at capacity.
	c.broadcastLocked()
}

func (c *Cache) failLocked(e *entry, err error) {
	e.err = err
	c.removeLocked(e.id)
	close(e.done)
	c.broadcastLocked()
}

func (c *Cache) unpinLocked(e *entry) {
	e.pins--
	if e.pins == 0 {
		c.broadcastLocked()
	}
}

func (c *Cache) touchLocked(id model.ShardID, weight float64) {
	if c.tracker != nil {
		c.tracker.Update(id, weight)
	}
}

// evictLocked removes the coldest ready, unpinned entry.
func (c *Cache) evictLocked() (model.ShardID, bool) {
	candidates := make([]model.ShardID, 0, len(c.order))

	for _, id := range c.order {
		if e := c.entries[id]; e.state == stateReady && e.pins == 0 {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) == 0 {
		return model.InvalidShardID, false
	}

	victim := candidates[0]
	if c.tracker != nil {
		victim, _ = c.tracker.Coldest(candidates)
	}

	c.removeLocked(victim)
	c.evictions.Add(1)
	c.logger.Debug("evicted shard", "shard", victim)

	return victim, true
}

func (c *Cache) removeLocked(id model.ShardID) {
	if _, ok := c.entries[id]; !ok {
		return
	}

	delete(c.entries, id)

	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}

	c.broadcastLocked()
}

func (c *Cache) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Cache) resumeLoader() {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook.Resume()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
