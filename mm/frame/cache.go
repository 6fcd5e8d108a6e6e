package frame

import "github.com/cchanging/asterinas/mm/memerr"

// Cache is a per-CPU pool of order-0 frames in front of an Allocator.
//
// Slot cpu may only be touched while holding the percpu pin for cpu. Under
// that rule the fast path is lock-free: the shared allocator is involved
// only when a pool runs empty or past its capacity, and then for a whole
// batch at a time. Pooled frames stay accounted as allocated in the
// Allocator; their head descriptors carry a pooled marker so that stray
// frees of a pooled frame still panic instead of corrupting the pool.
type Cache struct {
	alloc *Allocator
	cfg   CacheConfig
	slots []cacheSlot
}

type cacheSlot struct {
	frames []Block
}

// NewCache builds a cache with one slot per CPU on top of a.
func NewCache(a *Allocator, cpus int, cfg CacheConfig) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		alloc: a,
		cfg:   cfg,
		slots: make([]cacheSlot, cpus),
	}
	for i := range c.slots {
		// Capacity plus one free beyond the watermark before the drain cuts.
		c.slots[i].frames = make([]Block, 0, cfg.Capacity+1)
	}
	return c
}

// Alloc pops a frame from cpu's pool, refilling an empty pool with a batch
// from the shared allocator. A partial refill is served as far as it goes;
// only a completely failed refill returns memerr.ErrOutOfMemory.
func (c *Cache) Alloc(cpu int) (Block, error) {
	s := &c.slots[cpu]
	if len(s.frames) == 0 {
		buf := s.frames[:c.cfg.RefillBatch]
		n, err := c.alloc.AllocBulk(buf)
		if n == 0 {
			return Block{}, err
		}
		s.frames = s.frames[:n]
		for i := range s.frames {
			c.alloc.markPooled(s.frames[i])
		}
	}
	last := len(s.frames) - 1
	b := s.frames[last]
	s.frames = s.frames[:last]
	c.alloc.markLive(b)
	return b, nil
}

// Free pushes a frame onto cpu's pool. Crossing the capacity watermark
// drains a batch back to the shared allocator. The block is validated
// against the allocator's descriptors first, so double frees and foreign
// frames panic here rather than poison the pool.
func (c *Cache) Free(cpu int, b Block) {
	if b.Order != 0 {
		memerr.FatalInvalidFreef("per-CPU frame cache free of order-%d block at frame %#x",
			b.Order, uint64(b.Start))
	}
	c.alloc.AssertAllocated(b)
	c.alloc.markPooled(b)
	b.NeedZero = true
	s := &c.slots[cpu]
	s.frames = append(s.frames, b)
	if len(s.frames) > c.cfg.Capacity {
		cut := len(s.frames) - c.cfg.DrainBatch
		c.drain(s, cut)
	}
}

// drain hands s.frames[cut:] back to the allocator.
func (c *Cache) drain(s *cacheSlot, cut int) {
	batch := s.frames[cut:]
	for i := range batch {
		c.alloc.markLive(batch[i])
	}
	c.alloc.FreeBulk(batch)
	s.frames = s.frames[:cut]
}

// FlushAll drains every slot completely. Teardown and test use only: the
// caller must guarantee no slot is in concurrent use.
func (c *Cache) FlushAll() {
	for i := range c.slots {
		s := &c.slots[i]
		if len(s.frames) > 0 {
			c.drain(s, 0)
		}
	}
}

// Occupancy returns how many frames cpu's slot currently pools. Call it
// under the cpu's pin for an exact answer.
func (c *Cache) Occupancy(cpu int) int {
	return len(c.slots[cpu].frames)
}

// Occupied sums pooled frames across all slots. Exact only while no slot
// is in concurrent use.
func (c *Cache) Occupied() int {
	n := 0
	for i := range c.slots {
		n += len(c.slots[i].frames)
	}
	return n
}

// CPUs returns the slot count.
func (c *Cache) CPUs() int {
	return len(c.slots)
}
