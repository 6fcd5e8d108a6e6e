// Package memmap models the physical memory layout handed to the memory
// subsystem at boot: frame-granular addressing and validation of the usable
// ranges reported by the loader.
package memmap

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/cchanging/asterinas/internal/align"
	"github.com/cchanging/asterinas/mm/memerr"
)

const (
	// FrameShift is log2(FrameSize).
	FrameShift = 12

	// FrameSize is the size in bytes of one physical frame.
	FrameSize = 1 << FrameShift
)

// Frame is a physical frame index. Frame n covers byte addresses
// [n*FrameSize, (n+1)*FrameSize).
type Frame uint64

// Address returns the physical byte address of the first byte of f.
func (f Frame) Address() uint64 {
	return uint64(f) << FrameShift
}

// FrameContaining returns the frame that covers physical address addr.
func FrameContaining(addr uint64) Frame {
	return Frame(addr >> FrameShift)
}

// Region is a contiguous range of usable physical memory, in bytes.
// Loaders may report unaligned edges; Normalize trims them to frames.
type Region struct {
	Start uint64
	Size  uint64
}

// End returns the first byte address past the region.
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// FirstFrame returns the first frame of a normalized region.
func (r Region) FirstFrame() Frame {
	return FrameContaining(r.Start)
}

// EndFrame returns the first frame past a normalized region.
func (r Region) EndFrame() Frame {
	return FrameContaining(r.End())
}

// Frames returns the frame count of a normalized region.
func (r Region) Frames() uint64 {
	return r.Size >> FrameShift
}

// Normalize validates the usable ranges and returns them frame-aligned and
// sorted by start address. Edges are trimmed inward to frame boundaries;
// ranges too small to hold a single frame after trimming are dropped.
//
// Zero-size ranges, address overflow, overlapping ranges, and an input that
// yields no usable frames at all are rejected with memerr.ErrInvalidRange.
func Normalize(regions []Region) ([]Region, error) {
	if len(regions) == 0 {
		return nil, errors.Wrap(memerr.ErrInvalidRange, "no usable physical regions")
	}

	out := make([]Region, 0, len(regions))
	for i, r := range regions {
		if r.Size == 0 {
			return nil, errors.Wrapf(memerr.ErrInvalidRange,
				"region %d at %#x has zero size", i, r.Start)
		}
		if r.Start+r.Size < r.Start {
			return nil, errors.Wrapf(memerr.ErrInvalidRange,
				"region %d at %#x overflows the physical address space", i, r.Start)
		}
		start := align.Up(r.Start, FrameSize)
		end := align.Down(r.End(), FrameSize)
		if end <= start {
			// Sub-frame sliver, unusable at frame granularity.
			continue
		}
		out = append(out, Region{Start: start, Size: end - start})
	}
	if len(out) == 0 {
		return nil, errors.Wrap(memerr.ErrInvalidRange,
			"regions yield no whole frames")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 1; i < len(out); i++ {
		if out[i-1].End() > out[i].Start {
			return nil, errors.Wrapf(memerr.ErrInvalidRange,
				"region [%#x,%#x) overlaps [%#x,%#x)",
				out[i-1].Start, out[i-1].End(), out[i].Start, out[i].End())
		}
	}
	return out, nil
}

// TotalBytes returns the byte sum of a set of normalized regions.
func TotalBytes(regions []Region) uint64 {
	var n uint64
	for _, r := range regions {
		n += r.Size
	}
	return n
}
