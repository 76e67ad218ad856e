package rank

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/vecshard/model"
)

// Tracker maintains a score per shard.
type Tracker struct {
	mu     sync.Mutex
	policy Policy
	scores map[model.ShardID]float64
	clock  uint64

	sorted []model.ShardID // hottest first, valid when !dirty
	dirty  bool
}

// NewTracker creates a tracker using policy.
func NewTracker(policy Policy) *Tracker {
	return &Tracker{
		policy: policy,
		scores: make(map[model.ShardID]float64),
	}
}

// Policy returns the tracker's policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Update records an access of weight to shard id.
func (t *Tracker) Update(id model.ShardID, weight float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clock++
	t.scores[id] = t.policy.Next(t.scores[id], weight, t.clock)
	t.dirty = true
}

// Score returns the score of id; 0 if it was never accessed.
func (t *Tracker) Score(id model.ShardID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scores[id]
}

// Len returns the number of shards with a score.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.scores)
}

// Head returns up to n shard IDs, hottest first.
func (t *Tracker) Head(n int) []model.ShardID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sortLocked()
	n = max(0, min(n, len(t.sorted)))
	return slices.Clone(t.sorted[:n])
}

// Tail returns up to n shard IDs, coldest first.
func (t *Tracker) Tail(n int) []model.ShardID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sortLocked()
	n = max(0, min(n, len(t.sorted)))
	out := slices.Clone(t.sorted[len(t.sorted)-n:])
	slices.Reverse(out)
	return out
}

// Coldest returns the coldest shard among candidates. Shards without a score
// count as 0. Ties go to the candidate listed first. ok is false when
// candidates is empty.
func (t *Tracker) Coldest(candidates []model.ShardID) (id model.ShardID, ok bool) {
	if len(candidates) == 0 {
		return model.InvalidShardID, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id = candidates[0]
	best := t.scores[id]
	for _, c := range candidates[1:] {
		if s := t.scores[c]; s < best {
			id, best = c, s
		}
	}
	return id, true
}

// Snapshot returns a copy of all scores.
func (t *Tracker) Snapshot() map[model.ShardID]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.scores)
}

// Restore replaces all scores. The logical clock moves past the largest
// restored score so recency stamps stay monotonic.
func (t *Tracker) Restore(scores map[model.ShardID]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scores = make(map[model.ShardID]float64, len(scores))
	for id, s := range scores {
		if s < 0 {
			s = 0
		}
		t.scores[id] = s
		if c := uint64(s); c > t.clock {
			t.clock = c
		}
	}
	t.dirty = true
}

// sortLocked orders shards by score descending, ties by ascending ID.
func (t *Tracker) sortLocked() {
	if !t.dirty && len(t.sorted) == len(t.scores) {
		return
	}

	t.sorted = t.sorted[:0]
	for id := range t.scores {
		t.sorted = append(t.sorted, id)
	}
	slices.SortFunc(t.sorted, func(a, b model.ShardID) int {
		if c := cmp.Compare(t.scores[b], t.scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	t.dirty = false
}
