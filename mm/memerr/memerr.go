// Package memerr defines the error kinds shared by the memory subsystem.
//
// Allocation failures are ordinary errors callers test with errors.Is.
// A free that does not match a live allocation is not: allocator state is
// already suspect at that point, so those paths panic through
// FatalInvalidFreef instead of returning.
package memerr

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory indicates that no free block or slab object could
	// satisfy the request, after cache refill and block splitting.
	ErrOutOfMemory = errors.New("mm: out of memory")

	// ErrInvalidRange indicates a physical range or block order outside the
	// managed space.
	ErrInvalidRange = errors.New("mm: invalid physical range")

	// ErrMisaligned indicates an alignment no size class can satisfy.
	ErrMisaligned = errors.New("mm: unsatisfiable alignment")

	// ErrInvalidFree marks the panic raised for frees of unowned, interior,
	// or already-free memory. It is never returned from an operation.
	ErrInvalidFree = errors.New("mm: invalid free")
)

// FatalInvalidFreef panics with an assertion failure marked as ErrInvalidFree.
// Recover sites can classify the value with errors.Is.
func FatalInvalidFreef(format string, args ...any) {
	panic(errors.Mark(errors.AssertionFailedf(format, args...), ErrInvalidFree))
}
