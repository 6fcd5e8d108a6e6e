// Package frame manages physical memory at frame granularity.
//
// # Overview
//
// The package provides two layers. Allocator is a binary-buddy allocator
// over the usable physical regions: it serves blocks of 1<<order frames
// aligned to their own size, splits larger blocks on demand, and eagerly
// merges freed buddies back together. Cache is a per-CPU pool in front of
// the Allocator for the order-0 traffic that dominates kernel workloads;
// it refills and drains in batches so the shared lock is taken once per
// batch instead of once per frame.
//
// # Block Lifetime
//
//	blk, err := a.Alloc(3)   // 8 contiguous frames, base aligned to 8
//	...
//	a.Free(blk)              // merges with free buddies immediately
//
// Free must receive exactly the block Alloc returned: same head frame,
// same order. Freeing an interior or unmanaged frame, freeing with the
// wrong order, or freeing twice panics through memerr.FatalInvalidFreef.
// Allocation failures are ordinary errors: memerr.ErrOutOfMemory when
// nothing large enough is free and memerr.ErrInvalidRange for orders
// outside [0, MaxOrder].
//
// # Bookkeeping
//
// All state lives in a per-frame descriptor slice indexed by frame number.
// Free lists are threaded through descriptor indexes, never through the
// managed memory itself, so the allocator works for memory it cannot
// dereference. Descriptors also record which frames still hold stale data;
// blocks carry that out as Block.NeedZero.
//
// # Concurrency
//
// Allocator methods are safe for concurrent use behind one mutex. A Cache
// slot is owned by whoever holds the matching percpu.Pin; the Cache itself
// takes no locks on the fast path.
package frame
