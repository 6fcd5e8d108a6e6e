package heap

import (
	"sync"

	"github.com/cchanging/asterinas/mm/frame"
	"github.com/cchanging/asterinas/mm/memerr"
	"github.com/cchanging/asterinas/mm/memmap"
)

// owner records what a frame belongs to. Slab frames point at their slab;
// oversize frames carry the block's head and order so any frame of the
// block resolves to the whole.
type owner struct {
	sl    *slab
	head  memmap.Frame
	order int
}

// ownerTable maps every frame the heap holds, slab or oversize, back to
// its owner. It is a leaf lock: never acquire anything else while holding
// it.
type ownerTable struct {
	mu sync.RWMutex
	m  map[memmap.Frame]owner
}

func newOwnerTable() *ownerTable {
	return &ownerTable{m: make(map[memmap.Frame]owner)}
}

func (t *ownerTable) resolve(f memmap.Frame) (owner, bool) {
	t.mu.RLock()
	own, ok := t.m[f]
	t.mu.RUnlock()
	return own, ok
}

func (t *ownerTable) insertSlab(s *slab) {
	t.mu.Lock()
	for i := uint64(0); i < s.block.Frames(); i++ {
		t.m[s.block.Start+memmap.Frame(i)] = owner{sl: s}
	}
	t.mu.Unlock()
}

func (t *ownerTable) removeSlab(s *slab) {
	t.mu.Lock()
	for i := uint64(0); i < s.block.Frames(); i++ {
		delete(t.m, s.block.Start+memmap.Frame(i))
	}
	t.mu.Unlock()
}

func (t *ownerTable) insertOversize(b frame.Block) {
	t.mu.Lock()
	for i := uint64(0); i < b.Frames(); i++ {
		t.m[b.Start+memmap.Frame(i)] = owner{head: b.Start, order: b.Order}
	}
	t.mu.Unlock()
}

// removeOversize drops an oversize block's entries. Two racing frees of
// the same block both resolve it, so the loser is caught here rather than
// at resolve time.
func (t *ownerTable) removeOversize(head memmap.Frame, order int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[head]; !ok {
		memerr.FatalInvalidFreef("double free of the block at %#x", head.Address())
	}
	for i := uint64(0); i < uint64(1)<<order; i++ {
		delete(t.m, head+memmap.Frame(i))
	}
}
