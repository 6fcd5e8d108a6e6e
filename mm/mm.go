package mm

import (
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/cchanging/asterinas/internal/arena"
	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/heap"
	"github.com/cchanging/asterinas/mm/memmap"
	"github.com/cchanging/asterinas/mm/percpu"
)

// Config carries the tunables for Init. The zero value builds a system
// with one slot per GOMAXPROCS CPU, default pool depths, the default
// class table, and logging off.
type Config struct {
	// CPUs is the number of per-CPU slots. Zero or negative takes the
	// runtime's CPU count.
	CPUs int

	// FrameCache tunes the per-CPU frame pools.
	FrameCache frame.CacheConfig

	// Heap tunes the slab heap and its per-CPU object pools.
	Heap heap.Config

	// Logger receives assembly and teardown events. Nil disables logging.
	Logger *slog.Logger
}

// System is one assembled memory system. All methods are safe for
// concurrent use unless noted otherwise.
type System struct {
	log    *slog.Logger
	arena  *arena.Arena
	base   uint64
	env    *percpu.Env
	frames *frame.Allocator
	fcache *frame.Cache
	heap   *heap.Allocator
}

// Init builds a memory system over the given physical regions. Regions
// may be unsorted and unaligned; they are trimmed to frame bounds and
// must not overlap. The span in between is reserved from the OS in one
// anonymous mapping.
func Init(regions []memmap.Region, cfg Config) (*System, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	norm, err := memmap.Normalize(regions)
	if err != nil {
		return nil, err
	}
	base := norm[0].Start
	span := norm[len(norm)-1].End() - base

	ar, err := arena.Map(span)
	if err != nil {
		return nil, err
	}
	fa, err := frame.NewAllocator(norm, frame.AllocatorConfig{
		DirtyAtInit: !ar.Zeroed(),
	})
	if err != nil {
		return nil, errors.CombineErrors(err, ar.Close())
	}

	s := &System{
		log:    log,
		arena:  ar,
		base:   base,
		env:    percpu.NewEnv(cfg.CPUs),
		frames: fa,
	}
	s.fcache = frame.NewCache(fa, s.env.CPUs(), cfg.FrameCache)
	s.heap, err = heap.New(s.env, &slabSource{s}, &spanMemory{s}, cfg.Heap)
	if err != nil {
		return nil, errors.CombineErrors(err, ar.Close())
	}

	log.Info("memory system up",
		"frames", fa.TotalFrames(),
		"span_bytes", span,
		"cpus", s.env.CPUs(),
		"zeroed_backing", ar.Zeroed())
	return s, nil
}

// CPUs returns the per-CPU slot count.
func (s *System) CPUs() int {
	return s.env.CPUs()
}

// MemTotal returns the managed memory size in bytes.
func (s *System) MemTotal() uint64 {
	return s.frames.TotalFrames() * memmap.FrameSize
}

// AllocFrames returns a block of 1<<order frames. Order 0 rides the
// calling CPU's pool; larger orders go to the shared allocator.
func (s *System) AllocFrames(order int) (frame.Block, error) {
	if order == 0 {
		pin := s.env.Pin()
		b, err := s.fcache.Alloc(pin.CPU())
		pin.Unpin()
		return b, err
	}
	return s.frames.Alloc(order)
}

// AllocFramesZeroed is AllocFrames with the block contents cleared when
// the backing store cannot vouch for them.
func (s *System) AllocFramesZeroed(order int) (frame.Block, error) {
	b, err := s.AllocFrames(order)
	if err != nil {
		return frame.Block{}, err
	}
	if b.NeedZero {
		clear(s.BlockBytes(b))
		b.NeedZero = false
	}
	return b, nil
}

// FreeFrames returns a block from AllocFrames. Order-0 blocks go back
// through the calling CPU's pool.
func (s *System) FreeFrames(b frame.Block) {
	if b.Order == 0 {
		pin := s.env.Pin()
		s.fcache.Free(pin.CPU(), b)
		pin.Unpin()
		return
	}
	s.frames.Free(b)
}

// BlockBytes returns the byte view of a block's backing memory.
func (s *System) BlockBytes(b frame.Block) []byte {
	return s.arena.Bytes(b.Addr()-s.base, b.Bytes())
}

// AllocBytes returns size bytes at the given alignment from the heap,
// as a stable address and the object's byte view. Contents are not
// zeroed.
func (s *System) AllocBytes(size, alignment int) (heap.Addr, []byte, error) {
	return s.heap.Alloc(size, alignment)
}

// FreeBytes returns an object from AllocBytes.
func (s *System) FreeBytes(a heap.Addr) {
	s.heap.Free(a)
}

// Flush drains every per-CPU pool, frame and heap alike, back to the
// shared allocators. Quiesce point use only: no allocation may run
// concurrently.
func (s *System) Flush() {
	s.heap.FlushCPUCaches()
	s.fcache.FlushAll()
	s.log.Debug("per-cpu pools flushed")
}

// CheckConsistency audits the frame allocator's bookkeeping.
func (s *System) CheckConsistency() error {
	return s.frames.CheckConsistency()
}

// Stats is a combined point-in-time view of the system.
type Stats struct {
	Frame frame.Stats
	Heap  heap.Stats

	// PooledFrames counts frames sitting in per-CPU frame pools. They
	// are accounted as allocated in the frame stats.
	PooledFrames int
}

// Stats snapshots all layers. Exact when quiescent; under traffic each
// layer is sampled consistently but not atomically with the others.
func (s *System) Stats() Stats {
	return Stats{
		Frame:        s.frames.Snapshot(),
		Heap:         s.heap.Snapshot(),
		PooledFrames: s.fcache.Occupied(),
	}
}

// Close flushes the pools, tears the heap down, and unmaps the span.
// Frames still allocated by callers are logged and abandoned with it.
func (s *System) Close() error {
	s.heap.Close()
	s.fcache.FlushAll()

	err := s.frames.CheckConsistency()
	if leaked := s.frames.TotalFrames() - s.frames.FreeFrames(); leaked > 0 {
		s.log.Warn("frames still allocated at close", "frames", leaked)
	}
	s.log.Info("memory system down")
	return errors.CombineErrors(err, s.arena.Close())
}
