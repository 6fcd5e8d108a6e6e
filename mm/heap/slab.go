package heap

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/memerr"
)

// Which central list a slab is threaded on. A slab on neither list is
// Full: all of its objects are user- or cache-held.
const (
	listNone uint8 = iota
	listPartial
	listEmpty
)

// slab is one frame block carved into equal objects of a single class.
//
// free stacks the indices of objects resident in the central lists; the
// slab's state (Empty, Partial, Full) is just len(free) relative to objs.
// Objects sitting in a per-CPU pool are not on the stack, so a slab whose
// objects are all pooled elsewhere counts as Full and can never be
// reclaimed under a live object.
//
// bits holds one bit per object, set while the object is free or pooled
// and cleared only while a user holds it. It changes with atomic ops so
// Free can catch double frees before taking any lock.
type slab struct {
	class   int
	block   frame.Block
	mem     []byte
	objSize int
	objs    int

	free []uint16
	bits []atomic.Uint64

	onList  uint8
	listPos int
}

func (s *slab) addrOf(idx int) Addr {
	return Addr(s.block.Addr() + uint64(idx)*uint64(s.objSize))
}

func (s *slab) indexOf(a Addr) int {
	return int(uint64(a)-s.block.Addr()) / s.objSize
}

// objBytes returns the object's byte view, capped so the caller cannot
// write past it into a neighbor.
func (s *slab) objBytes(a Addr) []byte {
	off := int(uint64(a) - s.block.Addr())
	return s.mem[off : off+s.objSize : off+s.objSize]
}

// checkObjectAddr resolves a freed address to its object index and dies
// if the address is not an object boundary of this slab. Addresses in the
// slab's unused tail resolve to an out-of-range index and die too.
func (s *slab) checkObjectAddr(a Addr) int {
	off := int(uint64(a) - s.block.Addr())
	idx := off / s.objSize
	if off%s.objSize != 0 || idx >= s.objs {
		memerr.FatalInvalidFreef("free of %#x, which is not an object boundary in its slab", uint64(a))
	}
	return idx
}

// handOut clears the object's held bit on its way to a user. The bit must
// have been set; a clear bit here means the bookkeeping lost track of the
// object.
func (s *slab) handOut(idx int) {
	w, mask := idx>>6, uint64(1)<<(idx&63)
	if old := s.bits[w].And(^mask); old&mask == 0 {
		panic(errors.AssertionFailedf("heap: object %#x handed out while already user-held", uint64(s.addrOf(idx))))
	}
}

// markFree sets the object's bit on free and reports whether it was
// already set, which means the object was freed twice.
func (s *slab) markFree(idx int) bool {
	w, mask := idx>>6, uint64(1)<<(idx&63)
	old := s.bits[w].Or(mask)
	return old&mask != 0
}

// central is one size class's shared side: the lists of partially used
// and empty slabs, and the class counters. Everything here is guarded by
// mu; fields of member slabs other than bits are too.
type central struct {
	mu      sync.Mutex
	partial []*slab
	empty   []*slab

	slabs    int
	carves   uint64
	reclaims uint64
}

func (c *central) list(which uint8) *[]*slab {
	if which == listEmpty {
		return &c.empty
	}
	return &c.partial
}

func (c *central) push(s *slab, which uint8) {
	l := c.list(which)
	s.onList = which
	s.listPos = len(*l)
	*l = append(*l, s)
}

// remove unthreads a slab with a swap against the list tail.
func (c *central) remove(s *slab) {
	l := c.list(s.onList)
	last := len(*l) - 1
	moved := (*l)[last]
	(*l)[s.listPos] = moved
	moved.listPos = s.listPos
	(*l)[last] = nil
	*l = (*l)[:last]
	s.onList = listNone
	s.listPos = -1
}

// pickLocked returns a slab with central objects, preferring partially
// used slabs so retained empties stay whole and reclaimable.
func (c *central) pickLocked() *slab {
	if n := len(c.partial); n > 0 {
		return c.partial[n-1]
	}
	if n := len(c.empty); n > 0 {
		s := c.empty[n-1]
		c.remove(s)
		c.push(s, listPartial)
		return s
	}
	return nil
}

func (c *central) insertLocked(s *slab) {
	c.push(s, listPartial)
	c.slabs++
	c.carves++
}
