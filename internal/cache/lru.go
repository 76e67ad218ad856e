package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vecshard/internal/resource"
)

// block is a node of the recency ring. The sentinel's next is the most
// recently used block and its prev the eviction victim.
type block struct {
	key        Key
	data       []byte
	prev, next *block
}

// LRUBlockCache holds up to capacity bytes of blocks and evicts the least
// recently used one first.
type LRUBlockCache struct {
	rc       *resource.Controller
	capacity int64

	mu     sync.Mutex
	used   int64
	blocks map[Key]*block
	ring   block

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

var _ BlockCache = (*LRUBlockCache)(nil)

// NewLRUBlockCache returns a cache bounded to capacity bytes. Cached bytes
// are also charged to rc when it is non-nil.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	c := &LRUBlockCache{
		rc:       rc,
		capacity: capacity,
		blocks:   make(map[Key]*block),
	}
	c.ring.prev, c.ring.next = &c.ring, &c.ring
	return c
}

func (c *LRUBlockCache) unlink(b *block) {
	b.prev.next, b.next.prev = b.next, b.prev
	b.prev, b.next = nil, nil
}

func (c *LRUBlockCache) pushFront(b *block) {
	b.prev, b.next = &c.ring, c.ring.next
	c.ring.next.prev = b
	c.ring.next = b
}

func (c *LRUBlockCache) touch(b *block) {
	c.unlink(b)
	c.pushFront(b)
}

func (c *LRUBlockCache) drop(b *block) {
	c.unlink(b)
	delete(c.blocks, b.key)

	n := int64(len(b.data))
	c.used -= n
	c.rc.ReleaseMemory(n)
}

// Get returns the block for key and marks it recently used.
func (c *LRUBlockCache) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.blocks[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.touch(b)
	return b.data, true
}

// Set caches data under key. Blocks larger than the cache, or that the
// memory budget refuses, are not cached. Blocks are immutable, so setting
// an existing key only refreshes its recency.
func (c *LRUBlockCache) Set(_ context.Context, key Key, data []byte) {
	n := int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.capacity {
		return
	}
	if b, ok := c.blocks[key]; ok {
		c.touch(b)
		return
	}

	for c.used+n > c.capacity && c.ring.prev != &c.ring {
		c.drop(c.ring.prev)
		c.evictions.Add(1)
	}
	if !c.rc.TryAcquireMemory(n) {
		return
	}

	b := &block{key: key, data: data}
	c.blocks[key] = b
	c.pushFront(b)
	c.used += n
}

// Invalidate drops every block whose key matches.
func (c *LRUBlockCache) Invalidate(match func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, b := range c.blocks {
		if match(key) {
			c.drop(b)
		}
	}
}

// Stats returns the hit, miss and eviction counters with the bytes held.
func (c *LRUBlockCache) Stats() Stats {
	c.mu.Lock()
	used := c.used
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		SizeBytes: used,
	}
}

// Len returns the number of cached blocks.
func (c *LRUBlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}
