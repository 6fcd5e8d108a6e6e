// Package mm assembles the kernel memory system: a byte span standing in
// for physical memory, the buddy frame allocator over it, per-CPU frame
// pools, and the slab heap, wired together behind one System value.
//
// # Assembly
//
// Init maps an anonymous span covering the configured physical regions
// and builds the layers bottom up. Holes between regions cost address
// space only; the frame allocator never hands out a frame inside one.
// Everything is torn down again by Close.
//
// # Allocation Paths
//
// Single frames ride the per-CPU frame pools; multi-frame blocks go to
// the buddy allocator directly. Byte requests ride the heap's size
// classes with their own per-CPU pools, or whole frame blocks when no
// class fits. Frames backing reclaimed slabs and freed whole-frame heap
// blocks are released to the OS before they rejoin the free lists.
package mm
