package heap

import (
	"testing"

	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/memmap"
	"github.com/cchanging/asterinas/mm/percpu"
)

func benchHeap(b *testing.B, frames uint64, cfg Config) *Allocator {
	b.Helper()
	fa, err := frame.NewAllocator(
		[]memmap.Region{{Start: testStart, Size: frames * memmap.FrameSize}},
		frame.AllocatorConfig{},
	)
	if err != nil {
		b.Fatal(err)
	}
	mem := &sliceMemory{base: fa.Base(), buf: make([]byte, frames*memmap.FrameSize)}
	h, err := New(percpu.NewEnv(2), fa, mem, cfg)
	if err != nil {
		b.Fatal(err)
	}
	return h
}

func BenchmarkAllocFreePooled(b *testing.B) {
	h := benchHeap(b, 256, Config{})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, _, err := h.Alloc(64, 0)
		if err != nil {
			b.Fatal(err)
		}
		h.Free(a)
	}
}

func BenchmarkAllocFreeCrossSlab(b *testing.B) {
	h := benchHeap(b, 1024, Config{})
	addrs := make([]Addr, 512)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range addrs {
			a, _, err := h.Alloc(256, 0)
			if err != nil {
				b.Fatal(err)
			}
			addrs[j] = a
		}
		for _, a := range addrs {
			h.Free(a)
		}
	}
}

func BenchmarkOversizeRoundTrip(b *testing.B) {
	h := benchHeap(b, 256, Config{})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, _, err := h.Alloc(3*memmap.FrameSize, 0)
		if err != nil {
			b.Fatal(err)
		}
		h.Free(a)
	}
}
