// Package prefetch implements the background shard loader.
//
// A Loader pops shard IDs from its queue and loads them into a cache while
// the cache has spare capacity. When its queue runs dry it refills it from
// the hottest shards of a ranking; when nothing is left to load, or the cache
// is full, it pauses itself until Resume is called.
package prefetch

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vecshard/internal/resource"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/shardcache"
	"github.com/hupe1980/vecshard/shardindex"
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("prefetch: loader stopped")

// State is the loader's current state.
type State int

const (
	// StateIdle means the worker is between loads or not started yet.
	StateIdle State = iota
	// StatePaused means the worker waits for Resume.
	StatePaused
	// StateLoading means a shard load is in flight.
	StateLoading
	// StateStopped means the worker has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaused:
		return "paused"
	case StateLoading:
		return "loading"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Cache is the part of shardcache.Cache the loader needs.
type Cache interface {
	Full() bool
	Contains(id model.ShardID) bool
	Capacity() int
	TryPrefetch(ctx context.Context, id model.ShardID) (shardindex.Index, error)
}

// Ranking yields the hottest shards, hottest first.
type Ranking interface {
	Head(n int) []model.ShardID
}

// Option configures a Loader.
type Option func(*Loader)

// WithRanking sets the ranking used to refill an empty queue.
func WithRanking(r Ranking) Option {
	return func(l *Loader) {
		l.ranking = r
	}
}

// WithResourceController throttles background loads: each load holds a
// background slot and its size is charged against the IO budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(l *Loader) {
		l.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loader is a single background worker filling a cache.
type Loader struct {
	cache   Cache
	ranking Ranking
	rc      *resource.Controller
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	queue   []model.ShardID
	skip    map[model.ShardID]struct{} // failed since the last UpdateQueue
	paused  bool
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	loaded atomic.Int64
	failed atomic.Int64
}

var _ shardcache.Resumer = (*Loader)(nil)

// New creates a loader for cache. It does nothing until Start is called.
func New(cache Cache, optFns ...Option) *Loader {
	l := &Loader{
		cache:  cache,
		logger: slog.New(slog.DiscardHandler),
	}

	for _, fn := range optFns {
		fn(l)
	}

	l.cond = sync.NewCond(&l.mu)

	return l
}

// Start launches the worker. Calling Start on a running loader is a no-op.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}

	if l.started {
		return nil
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)

	go l.run(ctx)

	return nil
}

// Stop terminates the worker and waits for it to exit. An in-flight load is
// cancelled. Stop is idempotent.
func (l *Loader) Stop() {
	l.mu.Lock()

	if l.stopped {
		l.mu.Unlock()
		return
	}

	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}

	if !l.started {
		l.state = StateStopped
	}

	l.cond.Broadcast()
	l.mu.Unlock()

	l.wg.Wait()
}

// Pause stops the worker before its next queue pop. An in-flight load
// completes.
func (l *Loader) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}

	l.paused = true
	l.cond.Broadcast()
}

// Resume wakes a paused worker. It is a no-op when the loader is not paused.
func (l *Loader) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.paused || l.stopped {
		return
	}

	l.paused = false
	l.cond.Broadcast()
}

// UpdateQueue replaces the pending queue with ids.
func (l *Loader) UpdateQueue(ids []model.ShardID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.queue = slices.Clone(ids)
	clear(l.skip)
	l.cond.Broadcast()
}

// Queue returns a copy of the pending queue.
func (l *Loader) Queue() []model.ShardID {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.queue)
}

// State returns the worker state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Loaded returns the number of shards loaded by the worker.
func (l *Loader) Loaded() int64 { return l.loaded.Load() }

// Failed returns the number of failed background loads.
func (l *Loader) Failed() int64 { return l.failed.Load() }

func (l *Loader) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		id, ok := l.next()
		if !ok {
			return
		}

		l.load(ctx, id)
	}
}

// next blocks until there is a shard to load. It returns false once the
// loader is stopped.
func (l *Loader) next() (model.ShardID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.stopped {
			l.setStateLocked(StateStopped)
			return model.InvalidShardID, false
		}

		if l.paused {
			l.setStateLocked(StatePaused)
			l.cond.Wait()

			continue
		}

		if l.cache.Full() {
			l.paused = true
			continue
		}

		if len(l.queue) == 0 {
			l.refillLocked()

			if len(l.queue) == 0 {
				l.paused = true
				continue
			}
		}

		id := l.queue[0]
		l.queue = l.queue[1:]

		if l.cache.Contains(id) {
			continue
		}

		l.setStateLocked(StateLoading)

		return id, true
	}
}

func (l *Loader) refillLocked() {
	if l.ranking == nil {
		return
	}

	for _, id := range l.ranking.Head(l.cache.Capacity()) {
		if _, failed := l.skip[id]; failed {
			continue
		}
		if !l.cache.Contains(id) {
			l.queue = append(l.queue, id)
		}
	}
}

func (l *Loader) load(ctx context.Context, id model.ShardID) {
	defer func() {
		l.mu.Lock()
		if l.state == StateLoading {
			l.setStateLocked(StateIdle)
		}
		l.mu.Unlock()
	}()

	if err := l.rc.AcquireBackground(ctx); err != nil {
		return
	}
	defer l.rc.ReleaseBackground()

	idx, err := l.cache.TryPrefetch(ctx, id)

	switch {
	case err == nil:
		if idx == nil {
			return
		}

		l.loaded.Add(1)

		if err := l.rc.AcquireIO(ctx, idx.SizeBytes()); err != nil {
			return
		}
	case errors.Is(err, shardcache.ErrCacheFull):
		l.mu.Lock()
		l.queue = slices.Insert(l.queue, 0, id)
		l.paused = true
		l.mu.Unlock()
	case ctx.Err() != nil:
	case errors.Is(err, shardcache.ErrClosed):
		l.Pause()
	default:
		// The shard is dropped and left out of refills until the queue is
		// replaced; the rest of the queue keeps loading.
		l.failed.Add(1)
		l.logger.Warn("background shard load failed", "shard", id, "error", err)

		l.mu.Lock()
		if l.skip == nil {
			l.skip = make(map[model.ShardID]struct{})
		}
		l.skip[id] = struct{}{}
		l.mu.Unlock()
	}
}

func (l *Loader) setStateLocked(s State) {
	if l.state == s {
		return
	}

	l.logger.Debug("prefetch state change", "from", l.state.String(), "to", s.String())
	l.state = s
}
