package heap

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/memmap"
)

// Config tunes the size-class table and the per-CPU object caches.
type Config struct {
	// ClassSizes lists the object sizes served from slabs, in ascending
	// order. Requests that no class can serve take whole frame blocks.
	// A nil table selects DefaultConfig wholesale.
	ClassSizes []int

	// SlabOrder is the frame order of one slab; every slab spans
	// 1<<SlabOrder frames.
	SlabOrder int

	// CacheCapacity is the most objects one CPU pools per class before a
	// free triggers a drain back to the central lists.
	CacheCapacity int

	// CacheRefill is how many objects an empty per-CPU pool pulls from
	// the central lists in one lock acquisition.
	CacheRefill int

	// CacheDrain is how many objects an overfull pool pushes back in one
	// lock acquisition.
	CacheDrain int

	// EmptyRetained is how many completely free slabs each class keeps
	// before further emptied slabs return to the frame allocator. Zero
	// returns every emptied slab immediately.
	EmptyRetained int
}

// Predefined heap profiles.
var (
	// ConfigGeneral serves the common kernel object mix.
	ConfigGeneral = Config{
		ClassSizes:    []int{16, 32, 64, 128, 256, 512, 1024, 2048},
		SlabOrder:     0,
		CacheCapacity: 32,
		CacheRefill:   16,
		CacheDrain:    16,
		EmptyRetained: 2,
	}

	// ConfigCompact trims pool depth and retention for memory-tight
	// setups.
	ConfigCompact = Config{
		ClassSizes:    []int{16, 32, 64, 128, 256, 512, 1024, 2048},
		SlabOrder:     0,
		CacheCapacity: 8,
		CacheRefill:   4,
		CacheDrain:    4,
		EmptyRetained: 1,
	}

	// DefaultConfig is the profile used when Config has no class table.
	DefaultConfig = ConfigGeneral
)

// withDefaults resolves the zero value to DefaultConfig, and on explicit
// configs fills unset cache fields and clamps batch sizes to capacity.
func (c Config) withDefaults() Config {
	if c.ClassSizes == nil {
		return DefaultConfig
	}
	if c.SlabOrder < 0 {
		c.SlabOrder = 0
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = DefaultConfig.CacheCapacity
	}
	if c.CacheRefill <= 0 {
		c.CacheRefill = DefaultConfig.CacheRefill
	}
	if c.CacheDrain <= 0 {
		c.CacheDrain = DefaultConfig.CacheDrain
	}
	if c.CacheRefill > c.CacheCapacity {
		c.CacheRefill = c.CacheCapacity
	}
	if c.CacheDrain > c.CacheCapacity {
		c.CacheDrain = c.CacheCapacity
	}
	if c.EmptyRetained < 0 {
		c.EmptyRetained = 0
	}
	return c
}

// validate rejects class tables a slab cannot carve.
func (c Config) validate() error {
	if len(c.ClassSizes) == 0 {
		return errors.New("heap: config has no size classes")
	}
	if c.SlabOrder > frame.MaxOrder {
		return errors.Newf("heap: slab order %d exceeds max order %d", c.SlabOrder, frame.MaxOrder)
	}
	slabBytes := (1 << c.SlabOrder) * memmap.FrameSize
	prev := 0
	for _, size := range c.ClassSizes {
		if size <= prev {
			return errors.Newf("heap: class sizes must be positive and ascending, got %d after %d", size, prev)
		}
		if size > slabBytes {
			return errors.Newf("heap: class size %d exceeds the %d-byte slab", size, slabBytes)
		}
		if slabBytes/size > math.MaxUint16 {
			return errors.Newf("heap: class size %d carves more objects than a slab can index", size)
		}
		prev = size
	}
	return nil
}
