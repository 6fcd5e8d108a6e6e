package heap

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/cchanging/asterinas/internal/align"
	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/memerr"
	"github.com/cchanging/asterinas/mm/memmap"
	"github.com/cchanging/asterinas/mm/percpu"
)

// Runtime trace flag for slab traffic, controlled by KMEM_TRACE_ALLOC.
var traceSlabs = os.Getenv("KMEM_TRACE_ALLOC") != ""

// Addr is a byte address handed out by the heap. Object contents are
// reached through the []byte view returned alongside it; the Addr is the
// stable identity Free works from.
type Addr uint64

// FrameSource supplies and takes back frame blocks. *frame.Allocator
// satisfies it; the top-level assembly substitutes a source that releases
// backing store before handing frames back.
type FrameSource interface {
	Alloc(order int) (frame.Block, error)
	Free(b frame.Block)
}

// FrameMemory turns a frame block into its byte view.
type FrameMemory interface {
	BlockBytes(b frame.Block) []byte
}

// cached is one ready object in a per-CPU pool. The slab rides along so
// the pool's alloc and drain paths never consult the owner table.
type cached struct {
	addr Addr
	sl   *slab
}

type classCache struct {
	objs []cached
}

type cpuSlot struct {
	classes []classCache
}

// Allocator is the slab heap. One per system; CPUs share it through
// percpu pins.
type Allocator struct {
	env *percpu.Env
	src FrameSource
	mem FrameMemory
	cfg Config

	classes  []int
	centrals []central
	cpus     []cpuSlot
	owners   *ownerTable

	slabFrames     atomic.Uint64
	oversizeBlocks atomic.Uint64
	oversizeFrames atomic.Uint64
}

// New builds a heap over the given frame source. The frame views mem
// returns must stay valid for the allocator's lifetime.
func New(env *percpu.Env, src FrameSource, mem FrameMemory, cfg Config) (*Allocator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	h := &Allocator{
		env:      env,
		src:      src,
		mem:      mem,
		cfg:      cfg,
		classes:  cfg.ClassSizes,
		centrals: make([]central, len(cfg.ClassSizes)),
		cpus:     make([]cpuSlot, env.CPUs()),
		owners:   newOwnerTable(),
	}
	for i := range h.cpus {
		h.cpus[i].classes = make([]classCache, len(cfg.ClassSizes))
		for j := range h.cpus[i].classes {
			h.cpus[i].classes[j].objs = make([]cached, 0, cfg.CacheCapacity+1)
		}
	}
	return h, nil
}

// classFor picks the smallest class that covers size at the requested
// alignment. Power-of-two classes make class%align==0 equivalent to
// class>=align, so an alignment above the size just bumps the class.
func (h *Allocator) classFor(size, alignment int) (int, bool) {
	for i, class := range h.classes {
		if class >= size && class%alignment == 0 {
			return i, true
		}
	}
	return 0, false
}

// Alloc returns size bytes aligned to alignment, as a stable address and
// the object's byte view. alignment must be a power of two no larger than
// a frame; zero means no requirement. The view's length is the object's
// full class size, or exactly size on the whole-frame path.
func (h *Allocator) Alloc(size, alignment int) (Addr, []byte, error) {
	if size <= 0 {
		return 0, nil, errors.Wrapf(memerr.ErrInvalidRange, "heap request of %d bytes", size)
	}
	if alignment <= 0 {
		alignment = 1
	}
	if !align.IsPowerOfTwo(uint64(alignment)) || alignment > memmap.FrameSize {
		return 0, nil, errors.Wrapf(memerr.ErrMisaligned,
			"alignment %d is not a power of two within a frame", alignment)
	}
	class, ok := h.classFor(size, alignment)
	if !ok {
		return h.allocOversize(size)
	}

	pin := h.env.Pin()
	defer pin.Unpin()
	cc := &h.cpus[pin.CPU()].classes[class]
	if len(cc.objs) == 0 {
		if err := h.refill(class, cc); err != nil {
			return 0, nil, err
		}
	}
	e := cc.objs[len(cc.objs)-1]
	cc.objs = cc.objs[:len(cc.objs)-1]
	e.sl.handOut(e.sl.indexOf(e.addr))
	return e.addr, e.sl.objBytes(e.addr), nil
}

// Free returns an object to its owner. The address must be exactly one
// returned by Alloc and not freed since; anything else is a fatal
// bookkeeping violation.
func (h *Allocator) Free(a Addr) {
	own, ok := h.owners.resolve(memmap.FrameContaining(uint64(a)))
	if !ok {
		memerr.FatalInvalidFreef("free of %#x, which the heap does not own", uint64(a))
	}
	if own.sl == nil {
		h.freeOversize(a, own)
		return
	}
	s := own.sl
	idx := s.checkObjectAddr(a)
	if s.markFree(idx) {
		memerr.FatalInvalidFreef("double free of heap object %#x", uint64(a))
	}

	pin := h.env.Pin()
	defer pin.Unpin()
	cc := &h.cpus[pin.CPU()].classes[s.class]
	cc.objs = append(cc.objs, cached{addr: a, sl: s})
	if len(cc.objs) > h.cfg.CacheCapacity {
		h.drainN(s.class, cc, len(cc.objs)-h.cfg.CacheDrain)
	}
}

// refill pulls up to CacheRefill objects from the class's central lists
// into the CPU pool, carving a fresh slab when the lists are bare.
func (h *Allocator) refill(class int, cc *classCache) error {
	c := &h.centrals[class]
	c.mu.Lock()
	s := c.pickLocked()
	if s == nil {
		c.mu.Unlock()
		fresh, err := h.carve(class)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.insertLocked(fresh)
		h.slabFrames.Add(fresh.block.Frames())
		s = c.pickLocked()
	}
	for len(cc.objs) < h.cfg.CacheRefill && len(s.free) > 0 {
		idx := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		cc.objs = append(cc.objs, cached{addr: s.addrOf(int(idx)), sl: s})
	}
	if len(s.free) == 0 {
		c.remove(s)
	}
	c.mu.Unlock()
	return nil
}

// drainN pushes pooled objects back to their slabs until the pool is down
// to keep objects, then reclaims emptied slabs past the retention count.
func (h *Allocator) drainN(class int, cc *classCache, keep int) {
	if keep < 0 {
		keep = 0
	}
	if keep >= len(cc.objs) {
		return
	}
	batch := cc.objs[keep:]
	c := &h.centrals[class]
	c.mu.Lock()
	for _, e := range batch {
		s := e.sl
		if s.onList == listNone {
			c.push(s, listPartial)
		}
		s.free = append(s.free, uint16(s.indexOf(e.addr)))
		if len(s.free) == s.objs {
			c.remove(s)
			c.push(s, listEmpty)
		}
	}
	for len(c.empty) > h.cfg.EmptyRetained {
		h.reclaimLocked(c, c.empty[len(c.empty)-1])
	}
	c.mu.Unlock()
	for i := keep; i < len(cc.objs); i++ {
		cc.objs[i] = cached{}
	}
	cc.objs = cc.objs[:keep]
}

// reclaimLocked hands an empty slab's block back to the frame source.
// Owner entries go first so a stray free of a dead address resolves to
// nothing instead of a recycled slab.
func (h *Allocator) reclaimLocked(c *central, s *slab) {
	c.remove(s)
	c.slabs--
	c.reclaims++
	h.owners.removeSlab(s)
	h.slabFrames.Add(^(s.block.Frames() - 1))
	if traceSlabs {
		fmt.Fprintf(os.Stderr, "heap: reclaim class=%d frame=%#x\n",
			s.objSize, uint64(s.block.Start))
	}
	h.src.Free(s.block)
}

// carve cuts a fresh slab for the class out of a new frame block. It runs
// with no class lock held, so two CPUs racing on an empty class may carve
// two slabs; both get inserted and used.
func (h *Allocator) carve(class int) (*slab, error) {
	blk, err := h.src.Alloc(h.cfg.SlabOrder)
	if err != nil {
		return nil, errors.Wrapf(err, "carving a slab for class size %d", h.classes[class])
	}
	size := h.classes[class]
	mem := h.mem.BlockBytes(blk)
	n := len(mem) / size
	s := &slab{
		class:   class,
		block:   blk,
		mem:     mem,
		objSize: size,
		objs:    n,
		free:    make([]uint16, n),
		bits:    make([]atomic.Uint64, (n+63)/64),
		onList:  listNone,
		listPos: -1,
	}
	for i := range s.free {
		s.free[i] = uint16(n - 1 - i)
	}
	for w := range s.bits {
		s.bits[w].Store(^uint64(0))
	}
	h.owners.insertSlab(s)
	if traceSlabs {
		fmt.Fprintf(os.Stderr, "heap: carve class=%d frame=%#x objs=%d\n",
			size, uint64(blk.Start), n)
	}
	return s, nil
}

// allocOversize serves a request no class covers with a whole frame
// block. Block starts are frame aligned, which covers every alignment
// Alloc accepts.
func (h *Allocator) allocOversize(size int) (Addr, []byte, error) {
	frames := align.Up(uint64(size), memmap.FrameSize) >> memmap.FrameShift
	order := int(align.CeilLog2(frames))
	if order > frame.MaxOrder {
		return 0, nil, errors.Wrapf(memerr.ErrOutOfMemory,
			"heap request of %d bytes exceeds the largest frame block", size)
	}
	blk, err := h.src.Alloc(order)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "heap request of %d bytes", size)
	}
	h.owners.insertOversize(blk)
	h.oversizeBlocks.Add(1)
	h.oversizeFrames.Add(blk.Frames())
	mem := h.mem.BlockBytes(blk)
	return Addr(blk.Addr()), mem[:size:size], nil
}

func (h *Allocator) freeOversize(a Addr, own owner) {
	if uint64(a) != own.head.Address() {
		memerr.FatalInvalidFreef("free of %#x, the interior of a whole-frame heap block", uint64(a))
	}
	h.owners.removeOversize(own.head, own.order)
	frames := uint64(1) << own.order
	h.oversizeBlocks.Add(^uint64(0))
	h.oversizeFrames.Add(^(frames - 1))
	h.src.Free(frame.Block{Start: own.head, Order: own.order})
}

// FlushCPUCaches drains every per-CPU pool to the central lists. Teardown
// and test use only: the caller must guarantee no pool is in concurrent
// use.
func (h *Allocator) FlushCPUCaches() {
	for cpu := range h.cpus {
		for class := range h.cpus[cpu].classes {
			h.drainN(class, &h.cpus[cpu].classes[class], 0)
		}
	}
}

// Close flushes the caches and reclaims every empty slab, retention
// notwithstanding. Live objects keep their slabs and blocks allocated;
// Close does not revoke them.
func (h *Allocator) Close() {
	h.FlushCPUCaches()
	for i := range h.centrals {
		c := &h.centrals[i]
		c.mu.Lock()
		for len(c.empty) > 0 {
			h.reclaimLocked(c, c.empty[len(c.empty)-1])
		}
		c.mu.Unlock()
	}
}
