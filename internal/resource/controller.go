package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits. Zero values mean unlimited, except
// MaxBackgroundWorkers which defaults to one.
type Config struct {
	MemoryLimitBytes     int64
	MaxBackgroundWorkers int64
	IOLimitBytesPerSec   int64
}

// Stats is a point-in-time view of a Controller.
type Stats struct {
	MemoryUsed   int64
	MemoryLimit  int64
	InFlight     int64
	IOBytesTotal int64
}

// Controller arbitrates memory, background loads and read bandwidth.
type Controller struct {
	memLimit int64
	mem      *semaphore.Weighted
	memUsed  atomic.Int64

	workers  *semaphore.Weighted
	inFlight atomic.Int64

	io      *rate.Limiter
	ioTotal atomic.Int64
}

// NewController returns a Controller enforcing cfg.
func NewController(cfg Config) *Controller {
	workers := cfg.MaxBackgroundWorkers
	if workers <= 0 {
		workers = 1
	}

	c := &Controller{
		memLimit: max(cfg.MemoryLimitBytes, 0),
		workers:  semaphore.NewWeighted(workers),
	}
	if c.memLimit > 0 {
		c.mem = semaphore.NewWeighted(c.memLimit)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// TryAcquireMemory charges n bytes if the limit allows it.
func (c *Controller) TryAcquireMemory(n int64) bool {
	if c == nil || n <= 0 {
		return true
	}
	if c.mem != nil && !c.mem.TryAcquire(n) {
		return false
	}
	c.memUsed.Add(n)
	return true
}

// ReleaseMemory returns n bytes charged by TryAcquireMemory.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.mem != nil {
		c.mem.Release(n)
	}
	c.memUsed.Add(-n)
}

// AcquireBackground blocks until a background load slot is free.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

// ReleaseBackground frees a slot taken by AcquireBackground.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.workers.Release(1)
}

// AcquireIO waits until n bytes of read bandwidth are available. Requests
// above the limiter burst are paid in burst-sized installments.
func (c *Controller) AcquireIO(ctx context.Context, n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	c.ioTotal.Add(n)
	if c.io == nil {
		return nil
	}

	burst := int64(c.io.Burst())
	for n > 0 {
		step := min(n, burst)
		if err := c.io.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Stats returns the current usage. A nil Controller reports zeros.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:   c.memUsed.Load(),
		MemoryLimit:  c.memLimit,
		InFlight:     c.inFlight.Load(),
		IOBytesTotal: c.ioTotal.Load(),
	}
}
