package heap

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/memerr"
	"github.com/cchanging/asterinas/mm/memmap"
	"github.com/cchanging/asterinas/mm/percpu"
)

const testStart = uint64(0x8000000)

// sliceMemory backs a test heap with one plain byte slice.
type sliceMemory struct {
	base memmap.Frame
	buf  []byte
}

func (m *sliceMemory) BlockBytes(b frame.Block) []byte {
	off := uint64(b.Start-m.base) << memmap.FrameShift
	end := off + b.Bytes()
	return m.buf[off:end:end]
}

// testHeap is a heap over a fresh frame allocator of the given span, with
// a 2-slot percpu environment. Single-goroutine tests always pin slot 0.
func testHeap(t *testing.T, frames uint64, cfg Config) (*Allocator, *frame.Allocator) {
	t.Helper()
	fa, err := frame.NewAllocator(
		[]memmap.Region{{Start: testStart, Size: frames * memmap.FrameSize}},
		frame.AllocatorConfig{},
	)
	require.NoError(t, err)
	mem := &sliceMemory{base: fa.Base(), buf: make([]byte, frames*memmap.FrameSize)}
	h, err := New(percpu.NewEnv(2), fa, mem, cfg)
	require.NoError(t, err)
	return h, fa
}

// smallClasses is the three-class table most state-machine tests use. One
// order-0 slab of the 32-byte class holds exactly 128 objects.
func smallClasses() Config {
	return Config{ClassSizes: []int{16, 32, 64}}
}

func mustAlloc(t *testing.T, h *Allocator, size, alignment int) (Addr, []byte) {
	t.Helper()
	a, buf, err := h.Alloc(size, alignment)
	require.NoError(t, err)
	return a, buf
}

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
