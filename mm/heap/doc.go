// Package heap is the kernel byte allocator: slab size classes over the
// frame layer, with per-CPU object caches.
//
// # Overview
//
// Requests round up to a size class and are served from slabs, frame
// blocks carved into equal objects. Each class keeps central lists of
// partially used and empty slabs behind one mutex, and every CPU keeps a
// small stack of ready objects per class, so the common alloc and free
// touch no lock at all. Requests above the largest class bypass slabs and
// take whole frame blocks directly.
//
// # Slab States
//
// A slab's state follows how many of its objects sit in its central
// stack: Empty holds all of them, Full holds none, Partial sits between.
// Refills move objects out toward a CPU pool and can take a slab from
// Empty through Partial to Full; drains move objects back and can leave a
// slab Empty again. Emptied slabs are retained up to a configured count;
// past it they are reclaimed to the frame allocator, so short alloc/free
// bursts do not bounce frames back and forth.
//
// # Ownership Recovery
//
// Free receives only an address. The owner table maps the address's frame
// back to its slab or oversize block, the object index follows from
// offset arithmetic, and a per-object atomic bitmap catches double frees
// without taking a lock. A free that resolves to no owner, to an object
// interior, or to an already-free object panics through
// memerr.FatalInvalidFreef.
//
// # Concurrency
//
// Fast paths run under a percpu.Pin and touch only the pinned CPU's
// pools. Lock order is pin first, then a class mutex, then the frame
// allocator's mutex. The owner table is a leaf: its lock is never held
// while taking any other.
package heap
