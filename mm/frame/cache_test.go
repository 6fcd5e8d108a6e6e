package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchanging/asterinas/mm/memerr"
)

func newTestCache(t *testing.T, frames uint64, cfg CacheConfig) (*Allocator, *Cache) {
	t.Helper()
	a := newTestAllocator(t, frames)
	return a, NewCache(a, 2, cfg)
}

func TestCacheRefillPullsOneBatch(t *testing.T) {
	a, c := newTestCache(t, 32, CacheConfig{Capacity: 8, RefillBatch: 4, DrainBatch: 4})

	b, err := c.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Occupancy(0), "batch landed minus the served frame")
	assert.Equal(t, uint64(28), a.FreeFrames(), "the whole batch left the allocator")

	c.Free(0, b)
	assert.Equal(t, 4, c.Occupancy(0))
	assert.Equal(t, uint64(28), a.FreeFrames(), "a pooled frame stays allocated")
}

func TestCacheSlotsAreIndependent(t *testing.T) {
	_, c := newTestCache(t, 32, DefaultCacheConfig)

	_, err := c.Alloc(0)
	require.NoError(t, err)
	assert.NotZero(t, c.Occupancy(0))
	assert.Zero(t, c.Occupancy(1))
}

func TestCacheLIFOReuse(t *testing.T) {
	_, c := newTestCache(t, 32, DefaultCacheConfig)

	b, err := c.Alloc(0)
	require.NoError(t, err)
	c.Free(0, b)
	again, err := c.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, b.Start, again.Start)
	assert.True(t, again.NeedZero, "recycled frame keeps the dirty hint")
}

func TestCacheDrainsAtWatermark(t *testing.T) {
	a, c := newTestCache(t, 64, CacheConfig{Capacity: 4, RefillBatch: 2, DrainBatch: 2})

	var blocks []Block
	for i := 0; i < 5; i++ {
		b, err := c.Alloc(0)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	// Start the free phase from an empty pool.
	c.FlushAll()
	for i, b := range blocks {
		c.Free(0, b)
		if i < 4 {
			assert.Equal(t, i+1, c.Occupancy(0))
		}
	}
	// The fifth free crossed the watermark and drained a batch.
	assert.Equal(t, 3, c.Occupancy(0))
	checkClean(t, a)
}

func TestCachePartialRefill(t *testing.T) {
	a, c := newTestCache(t, 2, CacheConfig{Capacity: 8, RefillBatch: 4, DrainBatch: 4})

	b1, err := c.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Occupancy(0), "only two frames existed to batch")

	b2, err := c.Alloc(0)
	require.NoError(t, err)

	_, err = c.Alloc(0)
	require.ErrorIs(t, err, memerr.ErrOutOfMemory)

	c.Free(0, b1)
	c.Free(0, b2)
	c.FlushAll()
	assert.Equal(t, uint64(2), a.FreeFrames())
}

func TestCacheFlushAll(t *testing.T) {
	a, c := newTestCache(t, 64, DefaultCacheConfig)

	for cpu := 0; cpu < 2; cpu++ {
		b, err := c.Alloc(cpu)
		require.NoError(t, err)
		c.Free(cpu, b)
	}
	require.NotZero(t, c.Occupied())

	c.FlushAll()
	assert.Zero(t, c.Occupied())
	assert.Equal(t, uint64(64), a.FreeFrames())
	checkClean(t, a)
}

func TestCacheFreeWrongOrderPanics(t *testing.T) {
	a, c := newTestCache(t, 16, DefaultCacheConfig)
	b, err := a.Alloc(1)
	require.NoError(t, err)
	wantInvalidFree(t, func() { c.Free(0, b) })
}

func TestCacheFreeForeignFramePanics(t *testing.T) {
	_, c := newTestCache(t, 16, DefaultCacheConfig)
	wantInvalidFree(t, func() { c.Free(0, Block{Start: 3, Order: 0}) })
}

func TestCacheDoubleFreePanics(t *testing.T) {
	_, c := newTestCache(t, 16, DefaultCacheConfig)
	b, err := c.Alloc(0)
	require.NoError(t, err)
	c.Free(0, b)
	wantInvalidFree(t, func() { c.Free(0, b) })
}

func TestCacheCrossCPUDoubleFreePanics(t *testing.T) {
	_, c := newTestCache(t, 16, DefaultCacheConfig)
	b, err := c.Alloc(0)
	require.NoError(t, err)
	c.Free(0, b)
	wantInvalidFree(t, func() { c.Free(1, b) })
}

func TestDirectFreeOfPooledFramePanics(t *testing.T) {
	a, c := newTestCache(t, 16, DefaultCacheConfig)
	b, err := c.Alloc(0)
	require.NoError(t, err)
	c.Free(0, b)
	wantInvalidFree(t, func() { a.Free(b) })
}
