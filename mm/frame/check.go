package frame

import "github.com/cockroachdb/errors"

// CheckConsistency walks the descriptors and free lists and reports the
// first violation found: list and descriptor disagreement, misaligned or
// unmerged free blocks, corrupt tails, or counters out of sync. It takes
// the allocator lock and touches every descriptor, so it belongs in
// teardown paths and tests, not on hot paths. Per-CPU cache slots must be
// quiescent while it runs.
func (a *Allocator) CheckConsistency() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var listed uint64
	for k := range a.free {
		n := 0
		prev := nilRef
		for cur := a.free[k].head; cur != nilRef; cur = a.meta[cur].next {
			m := a.meta[cur]
			if m.state != stateFreeHead || int(m.order) != k {
				return errors.Newf("frame %#x on the order-%d list has state=%d order=%d",
					a.abs(cur), k, m.state, m.order)
			}
			if m.prev != prev {
				return errors.Newf("frame %#x on the order-%d list has a broken prev link",
					a.abs(cur), k)
			}
			if a.abs(cur)&(uint64(1)<<k-1) != 0 {
				return errors.Newf("free order-%d block at frame %#x is misaligned", k, a.abs(cur))
			}
			if k < MaxOrder {
				if bud, ok := a.buddy(cur, k); ok {
					if bm := a.meta[bud]; bm.state == stateFreeHead && int(bm.order) == k {
						return errors.Newf("unmerged buddy pair at frames %#x and %#x, order %d",
							a.abs(cur), a.abs(bud), k)
					}
				}
			}
			listed += uint64(1) << k
			n++
			if n > len(a.meta) {
				return errors.Newf("order-%d free list cycles", k)
			}
			prev = cur
		}
		if n != a.free[k].count {
			return errors.Newf("order-%d list count is %d, walk found %d", k, a.free[k].count, n)
		}
	}
	if listed != a.freeNow {
		return errors.Newf("free lists hold %d frames, counter says %d", listed, a.freeNow)
	}

	var free, busy uint64
	for i := int32(0); i < int32(len(a.meta)); {
		m := a.meta[i]
		switch m.state {
		case stateHole:
			i++
		case stateFreeHead, stateAllocHead, statePooled:
			if m.state == statePooled && m.order != 0 {
				return errors.Newf("pooled frame %#x has order %d", a.abs(i), m.order)
			}
			span := int32(1) << m.order
			wantTail := stateAllocTail
			if m.state == stateFreeHead {
				wantTail = stateFreeTail
			}
			for j := int32(1); j < span; j++ {
				if i+j >= int32(len(a.meta)) || a.meta[i+j].state != wantTail {
					return errors.Newf("order-%d block at frame %#x has a corrupt tail",
						m.order, a.abs(i))
				}
			}
			if m.state == stateFreeHead {
				free += uint64(span)
			} else {
				busy += uint64(span)
			}
			i += span
		default:
			return errors.Newf("orphan tail descriptor at frame %#x", a.abs(i))
		}
	}
	if free != a.freeNow {
		return errors.Newf("descriptors hold %d free frames, counter says %d", free, a.freeNow)
	}
	if free+busy != a.total {
		return errors.Newf("descriptors account for %d frames, managed total is %d",
			free+busy, a.total)
	}
	return nil
}

func (a *Allocator) abs(rel int32) uint64 {
	return uint64(a.base) + uint64(rel)
}
