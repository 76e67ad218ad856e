package shardcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/rank"
	"github.com/hupe1980/vecshard/shardindex"
	"github.com/hupe1980/vecshard/telemetry"
	"github.com/hupe1980/vecshard/topology"
)

type fakeSource struct {
	mu    sync.Mutex
	loads map[model.ShardID]int
	gate  chan struct{}
	fail  map[model.ShardID]error
	probe func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{loads: make(map[model.ShardID]int), fail: make(map[model.ShardID]error)}
}

func (s *fakeSource) LoadShard(ctx context.Context, id model.ShardID) (shardindex.Index, error) {
	s.mu.Lock()
	s.loads[id]++
	gate, err, probe := s.gate, s.fail[id], s.probe
	s.mu.Unlock()

	if probe != nil {
		probe()
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	return shardindex.Build([][]float32{{float32(id), 0}}, []int64{int64(id)}, distance.MetricL2)
}

func (s *fakeSource) Loads(id model.ShardID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[id]
}

type countingResumer struct{ n atomic.Int32 }

func (r *countingResumer) Resume() { r.n.Add(1) }

func withTracker(t *rank.Tracker) func(*Options) {
	return func(o *Options) { o.Tracker = t }
}

func TestNewInvalidCapacity(t *testing.T) {
	_, err := New(newFakeSource(), 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestRecencyEviction(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 2, withTracker(rank.NewTracker(rank.RecencyStamped{})))
	require.NoError(t, err)

	for _, id := range []model.ShardID{1, 2, 3, 1} {
		_, err := c.GetOrLoad(ctx, id, 1)
		require.NoError(t, err)
	}

	assert.Equal(t, []model.ShardID{1, 3}, c.Resident())
	assert.Equal(t, int64(2), c.Stats().Evictions)
}

func TestFrequencyEviction(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 2, withTracker(rank.NewTracker(rank.FrequencyWeighted{})))
	require.NoError(t, err)

	_, err = c.GetOrLoad(ctx, 1, 10)
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, 2, 1)
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, 3, 5)
	require.NoError(t, err)

	// Shard 2 has the smallest accumulated weight.
	assert.Equal(t, []model.ShardID{1, 3}, c.Resident())
}

func TestInsertionOrderEvictionWithoutTracker(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 2)
	require.NoError(t, err)

	for _, id := range []model.ShardID{5, 6, 7} {
		_, err := c.GetOrLoad(ctx, id, 1)
		require.NoError(t, err)
	}

	assert.Equal(t, []model.ShardID{6, 7}, c.Resident())
}

func TestHitDoesNotReload(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	c, err := New(src, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		idx, err := c.GetOrLoad(ctx, 4, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, idx.Len())
	}

	assert.Equal(t, 1, src.Loads(4))
	st := c.Stats()
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(2), st.Hits)
}

func TestCapacityNeverExceeded(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()

	var c *Cache

	var violations atomic.Int32

	src.probe = func() {
		if c.Len() > c.Capacity() {
			violations.Add(1)
		}
	}

	c, err := New(src, 3, withTracker(rank.NewTracker(rank.FrequencyWeighted{})))
	require.NoError(t, err)

	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)

		go func(w int) {
			defer wg.Done()

			for i := 0; i < 50; i++ {
				lease, err := c.Acquire(ctx, model.ShardID((w*7+i)%20), 1)
				if !assert.NoError(t, err) {
					return
				}

				if c.Len() > c.Capacity() {
					violations.Add(1)
				}

				lease.Release()
			}
		}(w)
	}

	wg.Wait()

	assert.Zero(t, violations.Load())
	assert.LessOrEqual(t, c.Len(), 3)
}

func TestPinnedShardIsNotEvicted(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 1)
	require.NoError(t, err)

	lease, err := c.Acquire(ctx, 1, 1)
	require.NoError(t, err)

	_, ok := c.EvictOne()
	assert.False(t, ok)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = c.Acquire(short, 2, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.Contains(1))

	done := make(chan error, 1)

	go func() {
		l, err := c.Acquire(ctx, 2, 1)
		if err == nil {
			l.Release()
		}
		done <- err
	}()

	lease.Release()
	lease.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not proceed after release")
	}

	assert.Equal(t, []model.ShardID{2}, c.Resident())
}

func TestConcurrentAcquireLoadsOnce(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.gate = make(chan struct{})

	c, err := New(src, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			lease, err := c.Acquire(ctx, 9, 1)
			if assert.NoError(t, err) {
				assert.Equal(t, model.ShardID(9), lease.ID())
				lease.Release()
			}
		}()
	}

	require.Eventually(t, func() bool { return src.Loads(9) == 1 }, time.Second, time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.Loads(9))
	assert.Equal(t, 1, c.Len())
}

func TestLoadFailureFreesSlot(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	boom := errors.New("boom")
	src.fail[3] = boom

	c, err := New(src, 1)
	require.NoError(t, err)

	hook := &countingResumer{}
	c.SetLoaderHook(hook)

	_, err = c.Acquire(ctx, 3, 1)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
	assert.Equal(t, int32(1), hook.n.Load())
	assert.Equal(t, int64(1), c.Stats().LoadFailures)

	_, err = c.GetOrLoad(ctx, 4, 1)
	require.NoError(t, err)
}

func TestTryPrefetch(t *testing.T) {
	ctx := context.Background()
	tracker := rank.NewTracker(rank.FrequencyWeighted{})
	c, err := New(newFakeSource(), 1, withTracker(tracker))
	require.NoError(t, err)

	idx, err := c.TryPrefetch(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 1, idx.Len())

	idx, err = c.TryPrefetch(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, idx)

	_, err = c.TryPrefetch(ctx, 2)
	assert.ErrorIs(t, err, ErrCacheFull)

	assert.Zero(t, tracker.Len())
	assert.True(t, c.Full())
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	tracker := rank.NewTracker(rank.FrequencyWeighted{})
	c, err := New(src, 2, withTracker(tracker))
	require.NoError(t, err)

	for id := model.ShardID(0); id < 3; id++ {
		idx, err := shardindex.Build([][]float32{{1, 2}}, nil, distance.MetricL2)
		require.NoError(t, err)
		require.NoError(t, c.Insert(ctx, id, idx))
	}

	assert.Equal(t, 2, c.Len())
	assert.Zero(t, tracker.Len())

	_, err = c.GetOrLoad(ctx, 2, 1)
	require.NoError(t, err)
	assert.Zero(t, src.Loads(2))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 4)
	require.NoError(t, err)

	hook := &countingResumer{}
	c.SetLoaderHook(hook)

	for _, id := range []model.ShardID{1, 2, 3} {
		_, err := c.GetOrLoad(ctx, id, 1)
		require.NoError(t, err)
	}

	pinned, err := c.Acquire(ctx, 3, 1)
	require.NoError(t, err)
	defer pinned.Release()

	sk := topology.Reverse(topology.QueryKeyed{{4, 2}, {4}})
	plan := c.Reconcile(sk, topology.SmallestBatchFirst)

	// 1 is evicted, 3 survives because it is pinned, 2 is resident and first.
	assert.Equal(t, []model.ShardID{2, 4}, plan)
	assert.Equal(t, []model.ShardID{2, 3}, c.Resident())
	assert.Equal(t, int32(1), hook.n.Load())
}

func TestEvictOneResumesLoader(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 2)
	require.NoError(t, err)

	hook := &countingResumer{}
	c.SetLoaderHook(hook)

	_, ok := c.EvictOne()
	assert.False(t, ok)

	_, err = c.GetOrLoad(ctx, 1, 1)
	require.NoError(t, err)

	id, ok := c.EvictOne()
	assert.True(t, ok)
	assert.Equal(t, model.ShardID(1), id)
	assert.Equal(t, int32(1), hook.n.Load())
}

func TestCapacityEvictionResumesLoader(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 1)
	require.NoError(t, err)

	hook := &countingResumer{}
	c.SetLoaderHook(hook)

	_, err = c.GetOrLoad(ctx, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, hook.n.Load())

	_, err = c.GetOrLoad(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hook.n.Load())

	idx, err := shardindex.Build([][]float32{{3, 0}}, []int64{3}, distance.MetricL2)
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, 3, idx))
	assert.Equal(t, int32(2), hook.n.Load())
	assert.Equal(t, []model.ShardID{3}, c.Resident())
}

func TestWaiterWakesWhenPrefetchFinishes(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})

	c, err := New(src, 1)
	require.NoError(t, err)

	prefetched := make(chan error, 1)
	go func() {
		_, err := c.TryPrefetch(context.Background(), 0)
		prefetched <- err
	}()
	require.Eventually(t, func() bool { return src.Loads(0) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, 1, 1)
		loaded <- err
	}()

	// Let GetOrLoad find every slot loading and start waiting.
	time.Sleep(20 * time.Millisecond)
	close(src.gate)

	require.NoError(t, <-prefetched)
	require.NoError(t, <-loaded)
	assert.Equal(t, []model.ShardID{1}, c.Resident())
}

func TestLoadTelemetry(t *testing.T) {
	ctx := context.Background()
	rec := &telemetry.Collector{}
	c, err := New(newFakeSource(), 2, func(o *Options) { o.Recorder = rec })
	require.NoError(t, err)

	for _, id := range []model.ShardID{1, 1, 2} {
		_, err := c.GetOrLoad(ctx, id, 3)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, rec.Count(telemetry.KindShardLoad))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	c, err := New(newFakeSource(), 1)
	require.NoError(t, err)

	_, err = c.GetOrLoad(ctx, 1, 1)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Zero(t, c.Len())

	_, err = c.Acquire(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.TryPrefetch(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCapacityErrorMessage(t *testing.T) {
	err := &CapacityError{Resident: 4, Capacity: 3}
	assert.Equal(t, fmt.Sprintf("shardcache: %d resident shards exceed capacity %d", 4, 3), err.Error())
}
