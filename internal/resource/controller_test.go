package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	assert.True(t, c.TryAcquireMemory(50))
	assert.True(t, c.TryAcquireMemory(40))
	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, Stats{MemoryUsed: 90, MemoryLimit: 100}, c.Stats())

	c.ReleaseMemory(50)
	assert.True(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.Stats().MemoryUsed)
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: -5})

	assert.True(t, c.TryAcquireMemory(1000))
	c.ReleaseMemory(500)
	assert.True(t, c.TryAcquireMemory(-1))

	st := c.Stats()
	assert.Equal(t, int64(500), st.MemoryUsed)
	assert.Zero(t, st.MemoryLimit)
}

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	require.NoError(t, c.AcquireBackground(t.Context()))
	require.NoError(t, c.AcquireBackground(t.Context()))
	assert.Equal(t, int64(2), c.Stats().InFlight)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireBackground(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(2), c.Stats().InFlight)

	c.ReleaseBackground()
	require.NoError(t, c.AcquireBackground(t.Context()))
	c.ReleaseBackground()
	c.ReleaseBackground()
	assert.Zero(t, c.Stats().InFlight)
}

func TestController_IOChunksLargeRequests(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	require.NoError(t, c.AcquireIO(t.Context(), 1<<20+10))
	assert.Equal(t, int64(1<<20+10), c.Stats().IOBytesTotal)
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(10))
	c.ReleaseMemory(10)
	require.NoError(t, c.AcquireBackground(t.Context()))
	c.ReleaseBackground()
	require.NoError(t, c.AcquireIO(t.Context(), 1<<30))
	assert.Equal(t, Stats{}, c.Stats())
}
