package heap

// ClassStats is one size class's snapshot.
type ClassStats struct {
	// Size is the class's object size in bytes.
	Size int

	// Slabs counts the class's live slabs in every state.
	Slabs int

	// PartialSlabs and EmptySlabs count the central lists; slabs on
	// neither are full.
	PartialSlabs int
	EmptySlabs   int

	// CentralObjects counts objects resident in the central lists,
	// excluding per-CPU pools.
	CentralObjects int

	// Carves and Reclaims count slabs cut from and returned to the frame
	// layer over the allocator's lifetime.
	Carves   uint64
	Reclaims uint64
}

// Stats is a point-in-time view of the heap. Counts are exact when the
// heap is quiescent; under traffic each class is internally consistent
// but classes are sampled one after another.
type Stats struct {
	Classes []ClassStats

	// SlabFrames and OversizeFrames count frames the heap currently
	// holds from the frame layer on each path.
	SlabFrames     uint64
	OversizeFrames uint64

	// OversizeBlocks counts live whole-frame allocations.
	OversizeBlocks uint64

	// CachedObjects counts objects sitting in per-CPU pools across all
	// classes.
	CachedObjects int
}

// Snapshot collects per-class and global counters.
func (h *Allocator) Snapshot() Stats {
	st := Stats{
		Classes:        make([]ClassStats, len(h.classes)),
		SlabFrames:     h.slabFrames.Load(),
		OversizeFrames: h.oversizeFrames.Load(),
		OversizeBlocks: h.oversizeBlocks.Load(),
	}
	for i := range h.centrals {
		c := &h.centrals[i]
		c.mu.Lock()
		cs := &st.Classes[i]
		cs.Size = h.classes[i]
		cs.Slabs = c.slabs
		cs.PartialSlabs = len(c.partial)
		cs.EmptySlabs = len(c.empty)
		for _, s := range c.partial {
			cs.CentralObjects += len(s.free)
		}
		for _, s := range c.empty {
			cs.CentralObjects += len(s.free)
		}
		cs.Carves = c.carves
		cs.Reclaims = c.reclaims
		c.mu.Unlock()
	}
	for cpu := range h.cpus {
		for class := range h.cpus[cpu].classes {
			st.CachedObjects += len(h.cpus[cpu].classes[class].objs)
		}
	}
	return st
}
