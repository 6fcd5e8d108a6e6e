package frame

import (
	"fmt"
	"math"
	"math/bits"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/cchanging/asterinas/mm/memerr"
	"github.com/cchanging/asterinas/mm/memmap"
)

// Runtime trace flag for allocation logging, controlled by KMEM_TRACE_ALLOC.
var traceAlloc = os.Getenv("KMEM_TRACE_ALLOC") != ""

// Per-frame descriptor states.
const (
	stateHole      uint8 = iota // gap between managed regions
	stateFreeHead               // first frame of a free block, on a free list
	stateFreeTail               // interior frame of a free block
	stateAllocHead              // first frame of an allocated block
	stateAllocTail              // interior frame of an allocated block
	statePooled                 // order-0 frame parked in a per-CPU cache
)

// nilRef terminates free-list chains.
const nilRef = int32(-1)

// frameMeta is the per-frame descriptor. Free lists are threaded through
// prev/next as descriptor offsets, so no bookkeeping ever lives inside the
// managed memory. Head descriptors are authoritative for order and the
// zero hint; tail descriptors only record that the frame is interior.
type frameMeta struct {
	state    uint8
	order    uint8
	needZero bool
	prev     int32
	next     int32
}

// freeList heads one per-order list of free blocks.
type freeList struct {
	head  int32
	count int
}

// Allocator is a binary-buddy allocator over the usable physical regions.
// Descriptor space covers the whole span between the lowest and highest
// managed frame, so dense layouts are expected; holes between regions cost
// one descriptor each and are never handed out.
type Allocator struct {
	mu   sync.Mutex
	base memmap.Frame
	meta []frameMeta
	free [MaxOrder + 1]freeList

	total   uint64 // managed frames
	freeNow uint64 // free frames, weighted by block size

	stats Stats
}

// Stats is a point-in-time snapshot of allocator counters.
type Stats struct {
	TotalFrames uint64
	FreeFrames  uint64
	AllocCalls  uint64
	FreeCalls   uint64
	Splits      uint64 // block splits performed by allocations
	Merges      uint64 // buddy merges performed by frees

	// FreeBlocks counts free blocks per order.
	FreeBlocks [MaxOrder + 1]int
}

// NewAllocator builds an allocator over the given usable regions. Regions
// are normalized first; seeding then splits each one into maximal aligned
// blocks, so a fresh allocator holds the largest block shapes its layout
// permits.
func NewAllocator(regions []memmap.Region, cfg AllocatorConfig) (*Allocator, error) {
	rs, err := memmap.Normalize(regions)
	if err != nil {
		return nil, err
	}
	base := rs[0].FirstFrame()
	span := uint64(rs[len(rs)-1].EndFrame() - base)
	if span > math.MaxInt32 {
		return nil, errors.Wrapf(memerr.ErrInvalidRange,
			"span of %d frames exceeds the descriptor limit", span)
	}

	a := &Allocator{
		base: base,
		meta: make([]frameMeta, span),
	}
	for k := range a.free {
		a.free[k].head = nilRef
	}
	for _, r := range rs {
		first := int32(r.FirstFrame() - base)
		end := int32(r.EndFrame() - base)
		a.total += uint64(end - first)
		a.seedRange(first, end, cfg.DirtyAtInit)
	}
	a.freeNow = a.total
	return a, nil
}

// seedRange splits [first, end) into maximal aligned blocks and links them
// onto the free lists.
func (a *Allocator) seedRange(first, end int32, dirty bool) {
	for first < end {
		order := maxSeedOrder(a.base, first, end)
		a.linkFree(first, order, dirty)
		first += 1 << order
	}
}

// maxSeedOrder returns the largest order a block headed at offset rel may
// take: capped by MaxOrder, by the alignment of the head's absolute frame
// number, and by the end of the range.
func maxSeedOrder(base memmap.Frame, rel, end int32) int {
	abs := uint64(base) + uint64(rel)
	order := MaxOrder
	if abs != 0 {
		if tz := bits.TrailingZeros64(abs); tz < order {
			order = tz
		}
	}
	for int32(1)<<order > end-rel {
		order--
	}
	return order
}

// Alloc returns a block of 1<<order frames whose head frame number is a
// multiple of 1<<order. It fails with memerr.ErrInvalidRange when order is
// outside [0, MaxOrder] and with memerr.ErrOutOfMemory when no block of
// the requested or any larger order is free.
func (a *Allocator) Alloc(order int) (Block, error) {
	if order < 0 || order > MaxOrder {
		return Block{}, errors.Wrapf(memerr.ErrInvalidRange,
			"order %d not in [0, %d]", order, MaxOrder)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.AllocCalls++
	rel, ok := a.allocLocked(order)
	if !ok {
		return Block{}, errors.Wrapf(memerr.ErrOutOfMemory,
			"no free block of order %d", order)
	}
	b := Block{
		Start:    a.base + memmap.Frame(rel),
		Order:    order,
		NeedZero: a.meta[rel].needZero,
	}
	if traceAlloc {
		fmt.Fprintf(os.Stderr, "frame: alloc order=%d frame=%#x\n", order, uint64(b.Start))
	}
	return b, nil
}

// AllocBulk fills dst with order-0 blocks under one lock acquisition and
// returns how many it filled. A short count means the allocator ran dry;
// zero filled also returns memerr.ErrOutOfMemory.
func (a *Allocator) AllocBulk(dst []Block) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for n < len(dst) {
		a.stats.AllocCalls++
		rel, ok := a.allocLocked(0)
		if !ok {
			break
		}
		dst[n] = Block{
			Start:    a.base + memmap.Frame(rel),
			Order:    0,
			NeedZero: a.meta[rel].needZero,
		}
		n++
	}
	if n == 0 {
		return 0, errors.Wrap(memerr.ErrOutOfMemory, "bulk refill found no free frames")
	}
	return n, nil
}

// allocLocked pops a block of exactly order, splitting a larger block when
// needed. Splits keep the lower half and push the upper half back, so a
// free-then-realloc of the same order replays to the same frames.
func (a *Allocator) allocLocked(order int) (int32, bool) {
	k := order
	for k <= MaxOrder && a.free[k].head == nilRef {
		k++
	}
	if k > MaxOrder {
		return 0, false
	}
	rel := a.free[k].head
	a.unlinkFree(rel, k)
	nz := a.meta[rel].needZero
	for k > order {
		k--
		upper := rel + 1<<k
		a.meta[upper].state = stateFreeHead
		a.meta[upper].order = uint8(k)
		a.meta[upper].needZero = nz
		a.pushFree(upper, k)
		a.stats.Splits++
	}
	a.meta[rel].state = stateAllocHead
	a.meta[rel].order = uint8(order)
	for i := int32(1); i < 1<<order; i++ {
		a.meta[rel+i].state = stateAllocTail
	}
	a.freeNow -= 1 << order
	return rel, true
}

// Free returns a block to the allocator and eagerly merges it with its
// buddy while the buddy is a whole free block of equal order. The block
// must be exactly as returned by Alloc; anything else panics through
// memerr.FatalInvalidFreef.
func (a *Allocator) Free(b Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.FreeCalls++
	a.freeLocked(b)
}

// FreeBulk returns blocks under one lock acquisition.
func (a *Allocator) FreeBulk(blocks []Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range blocks {
		a.stats.FreeCalls++
		a.freeLocked(b)
	}
}

func (a *Allocator) freeLocked(b Block) {
	rel := a.checkLiveBlock(b)

	cur := rel
	order := b.Order
	for order < MaxOrder {
		bud, ok := a.buddy(cur, order)
		if !ok {
			break
		}
		bm := &a.meta[bud]
		if bm.state != stateFreeHead || int(bm.order) != order {
			break
		}
		a.unlinkFree(bud, order)
		if bud < cur {
			cur = bud
		}
		order++
		a.stats.Merges++
	}
	// Recycled contents are unknown, whatever the hint said before.
	a.linkFree(cur, order, true)
	a.freeNow += 1 << b.Order
	if traceAlloc {
		fmt.Fprintf(os.Stderr, "frame: free order=%d frame=%#x merged_order=%d\n",
			b.Order, uint64(b.Start), order)
	}
}

// checkLiveBlock panics unless b names a live allocated block, and returns
// the head's descriptor offset.
func (a *Allocator) checkLiveBlock(b Block) int32 {
	rel, ok := a.rel(b.Start)
	if !ok || b.Order < 0 || b.Order > MaxOrder {
		memerr.FatalInvalidFreef("free of frame %#x order %d outside the managed range",
			uint64(b.Start), b.Order)
	}
	if uint64(b.Start)&(uint64(1)<<b.Order-1) != 0 {
		memerr.FatalInvalidFreef("free of misaligned order-%d block at frame %#x",
			b.Order, uint64(b.Start))
	}
	switch m := &a.meta[rel]; m.state {
	case stateAllocHead:
		if int(m.order) != b.Order {
			memerr.FatalInvalidFreef("free of frame %#x as order %d, allocated as order %d",
				uint64(b.Start), b.Order, m.order)
		}
	case statePooled:
		memerr.FatalInvalidFreef("double free of frame %#x, already pooled for reuse",
			uint64(b.Start))
	case stateFreeHead, stateFreeTail:
		memerr.FatalInvalidFreef("double free of frame %#x", uint64(b.Start))
	case stateAllocTail:
		memerr.FatalInvalidFreef("free of interior frame %#x", uint64(b.Start))
	default:
		memerr.FatalInvalidFreef("free of unmanaged frame %#x", uint64(b.Start))
	}
	return rel
}

// AssertAllocated panics unless b matches a live allocation. It reads the
// head descriptor without the allocator lock: a live block's descriptor is
// quiescent while its owner holds the block, which is exactly the state a
// correct caller is in.
func (a *Allocator) AssertAllocated(b Block) {
	a.checkLiveBlock(b)
}

// linkFree marks [rel, rel+1<<order) as one free block and pushes it onto
// its order list.
func (a *Allocator) linkFree(rel int32, order int, needZero bool) {
	m := &a.meta[rel]
	m.state = stateFreeHead
	m.order = uint8(order)
	m.needZero = needZero
	for i := int32(1); i < 1<<order; i++ {
		a.meta[rel+i].state = stateFreeTail
	}
	a.pushFree(rel, order)
}

// pushFree pushes an already-marked free head onto its order list.
func (a *Allocator) pushFree(rel int32, order int) {
	l := &a.free[order]
	a.meta[rel].prev = nilRef
	a.meta[rel].next = l.head
	if l.head != nilRef {
		a.meta[l.head].prev = rel
	}
	l.head = rel
	l.count++
}

// unlinkFree removes a free head from its order list.
func (a *Allocator) unlinkFree(rel int32, order int) {
	m := &a.meta[rel]
	if m.prev != nilRef {
		a.meta[m.prev].next = m.next
	} else {
		a.free[order].head = m.next
	}
	if m.next != nilRef {
		a.meta[m.next].prev = m.prev
	}
	a.free[order].count--
	m.prev, m.next = nilRef, nilRef
}

// buddy returns the descriptor offset of cur's buddy at the given order
// when it lies inside the managed span. Buddy arithmetic runs on absolute
// frame numbers, matching the alignment guarantee of block heads.
func (a *Allocator) buddy(cur int32, order int) (int32, bool) {
	abs := uint64(a.base) + uint64(cur)
	budAbs := abs ^ uint64(1)<<order
	if budAbs < uint64(a.base) || budAbs-uint64(a.base) >= uint64(len(a.meta)) {
		return 0, false
	}
	return int32(budAbs - uint64(a.base)), true
}

// rel converts a frame number to a descriptor offset.
func (a *Allocator) rel(f memmap.Frame) (int32, bool) {
	if f < a.base || uint64(f-a.base) >= uint64(len(a.meta)) {
		return 0, false
	}
	return int32(f - a.base), true
}

// markPooled flags an order-0 block as parked in a per-CPU cache, and
// markLive reverses it. Both are owner-only writes done without the
// allocator lock: the block belongs to the calling cache slot, and merges
// never touch descriptors of allocated frames.
func (a *Allocator) markPooled(b Block) {
	rel, _ := a.rel(b.Start)
	a.meta[rel].state = statePooled
}

func (a *Allocator) markLive(b Block) {
	rel, _ := a.rel(b.Start)
	a.meta[rel].state = stateAllocHead
}

// Base returns the first managed frame.
func (a *Allocator) Base() memmap.Frame {
	return a.base
}

// TotalFrames returns the number of managed frames.
func (a *Allocator) TotalFrames() uint64 {
	return a.total
}

// FreeFrames returns the number of currently free frames.
func (a *Allocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeNow
}

// IsFree reports whether f currently belongs to a free block.
func (a *Allocator) IsFree(f memmap.Frame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	rel, ok := a.rel(f)
	if !ok {
		return false
	}
	s := a.meta[rel].state
	return s == stateFreeHead || s == stateFreeTail
}

// Snapshot returns the allocator counters.
func (a *Allocator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.TotalFrames = a.total
	s.FreeFrames = a.freeNow
	for k := range a.free {
		s.FreeBlocks[k] = a.free[k].count
	}
	return s
}
