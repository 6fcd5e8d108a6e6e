package frame

// AllocatorConfig tunes Allocator construction.
type AllocatorConfig struct {
	// DirtyAtInit marks every seeded frame as needing zeroing before use.
	// Set it when the backing store does not hand out zero-filled pages.
	DirtyAtInit bool
}

// CacheConfig tunes the per-CPU frame cache watermarks.
type CacheConfig struct {
	// Capacity is the most frames one CPU keeps pooled. A free that would
	// exceed it triggers a drain.
	Capacity int

	// RefillBatch is how many frames an empty pool requests from the
	// allocator in one lock acquisition. Capped at Capacity.
	RefillBatch int

	// DrainBatch is how many frames an overfull pool returns in one lock
	// acquisition. Capped at Capacity.
	DrainBatch int
}

// Predefined cache profiles.
var (
	// CacheLatency: deep pools, fewest trips to the shared allocator.
	CacheLatency = CacheConfig{Capacity: 32, RefillBatch: 16, DrainBatch: 16}

	// CacheCompact: shallow pools for memory-tight configurations.
	CacheCompact = CacheConfig{Capacity: 8, RefillBatch: 4, DrainBatch: 4}

	// DefaultCacheConfig is used for zero-valued fields.
	DefaultCacheConfig = CacheConfig{Capacity: 16, RefillBatch: 8, DrainBatch: 8}
)

// withDefaults fills unset fields and clamps the batches to Capacity.
func (c CacheConfig) withDefaults() CacheConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCacheConfig.Capacity
	}
	if c.RefillBatch <= 0 {
		c.RefillBatch = DefaultCacheConfig.RefillBatch
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = DefaultCacheConfig.DrainBatch
	}
	if c.RefillBatch > c.Capacity {
		c.RefillBatch = c.Capacity
	}
	if c.DrainBatch > c.Capacity {
		c.DrainBatch = c.Capacity
	}
	return c
}
