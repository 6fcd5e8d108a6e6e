package mm

import (
	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/heap"
)

// spanMemory hands the heap byte views straight off the arena.
type spanMemory struct {
	sys *System
}

func (m *spanMemory) BlockBytes(b frame.Block) []byte {
	return m.sys.BlockBytes(b)
}

// slabSource feeds the heap from the shared frame allocator, bypassing
// the per-CPU frame pools: the heap calls it under its own pin, and pins
// do not nest. On the way back the block's bytes are released to the OS
// first, while the frames are still ours.
type slabSource struct {
	sys *System
}

func (src *slabSource) Alloc(order int) (frame.Block, error) {
	return src.sys.frames.Alloc(order)
}

func (src *slabSource) Free(b frame.Block) {
	s := src.sys
	if err := s.arena.Release(b.Addr()-s.base, b.Bytes()); err != nil {
		s.log.Warn("releasing heap block to the OS failed",
			"frame", uint64(b.Start), "order", b.Order, "error", err)
	}
	s.log.Debug("heap block returned", "frame", uint64(b.Start), "order", b.Order)
	s.frames.Free(b)
}

var (
	_ heap.FrameSource = (*slabSource)(nil)
	_ heap.FrameMemory = (*spanMemory)(nil)
)
