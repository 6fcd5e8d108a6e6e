package frame

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/cchanging/asterinas/mm/memerr"
	"github.com/cchanging/asterinas/mm/memmap"
)

// testStart is aligned well past MaxOrder so seeding is limited only by
// region length.
const testStart = uint64(0x4000000)

func region(frames uint64) []memmap.Region {
	return []memmap.Region{{Start: testStart, Size: frames * memmap.FrameSize}}
}

func newTestAllocator(t *testing.T, frames uint64) *Allocator {
	t.Helper()
	a, err := NewAllocator(region(frames), AllocatorConfig{})
	require.NoError(t, err)
	return a
}

// wantInvalidFree runs fn and requires it to panic with the invalid-free
// kind.
func wantInvalidFree(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected an invalid-free panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value is %T, want error", r)
		require.True(t, errors.Is(err, memerr.ErrInvalidFree), "unexpected panic: %v", err)
	}()
	fn()
}

func checkClean(t *testing.T, a *Allocator) {
	t.Helper()
	require.NoError(t, a.CheckConsistency())
}
