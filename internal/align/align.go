package align

// Power-of-two arithmetic shared by the frame and heap allocators.
// Alignments must be powers of two; callers validate requests before rounding.

import "math/bits"

// Up returns n aligned up to the next multiple of align.
//
// Example:
//
//	Up(1, 4096)    = 4096
//	Up(4096, 4096) = 4096
//	Up(4097, 4096) = 8192
func Up(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Down returns n aligned down to the previous multiple of align.
//
// Example:
//
//	Down(4095, 4096) = 0
//	Down(4096, 4096) = 4096
//	Down(8191, 4096) = 4096
func Down(n, align uint64) uint64 {
	return n &^ (align - 1)
}

// IsAligned reports whether n is a multiple of align.
func IsAligned(n, align uint64) bool {
	return n&(align-1) == 0
}

// IsPowerOfTwo reports whether n is a power of two. Zero is not.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// CeilLog2 returns the smallest k such that 1<<k >= n. CeilLog2(0) is 0.
func CeilLog2(n uint64) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len64(n - 1))
}

// FloorLog2 returns the largest k such that 1<<k <= n. n must not be zero.
func FloorLog2(n uint64) uint {
	return uint(bits.Len64(n)) - 1
}
