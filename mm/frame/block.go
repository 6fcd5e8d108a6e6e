package frame

import "github.com/cchanging/asterinas/mm/memmap"

// MaxOrder is the largest block order served. An order-k block covers
// 1<<k contiguous frames and its head frame number is a multiple of 1<<k.
const MaxOrder = 12

// Block is a contiguous run of 1<<Order frames handed out by an Allocator.
type Block struct {
	Start memmap.Frame
	Order int

	// NeedZero is set when the block contents are not known to be zero.
	// Frames fresh from a zeroed backing store start clear; recycled
	// frames are always dirty.
	NeedZero bool
}

// Frames returns the number of frames the block covers.
func (b Block) Frames() uint64 {
	return 1 << b.Order
}

// Bytes returns the block size in bytes.
func (b Block) Bytes() uint64 {
	return b.Frames() << memmap.FrameShift
}

// End returns the first frame past the block.
func (b Block) End() memmap.Frame {
	return b.Start + memmap.Frame(b.Frames())
}

// Addr returns the physical byte address of the block's first byte.
func (b Block) Addr() uint64 {
	return b.Start.Address()
}
