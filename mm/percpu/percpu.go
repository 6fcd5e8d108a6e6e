// Package percpu provides the CPU-identity service the allocator fast paths
// rely on. A Pin stands in for a kernel's disabled-preemption window: while
// held, the owner has exclusive use of one CPU slot, and per-CPU cache state
// belonging to that slot may only be touched by the holder.
package percpu

import (
	"runtime"
	"sync"
)

// Env is a fixed set of CPU slots created once at init and shared by every
// component that keeps per-CPU state.
type Env struct {
	slots []sync.Mutex
}

// NewEnv returns an Env with n CPU slots. n <= 0 selects GOMAXPROCS.
func NewEnv(n int) *Env {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Env{slots: make([]sync.Mutex, n)}
}

// CPUs returns the slot count.
func (e *Env) CPUs() int {
	return len(e.slots)
}

// Pin acquires the lowest-numbered free CPU slot and returns ownership of it.
// When every slot is busy it yields and retries. Release with Unpin on every
// exit path, typically via defer.
//
// Pins do not nest: a holder must release before acquiring another, and no
// allocator lock may be held when calling Pin.
func (e *Env) Pin() Pin {
	for {
		for i := range e.slots {
			if e.slots[i].TryLock() {
				return Pin{env: e, cpu: i}
			}
		}
		runtime.Gosched()
	}
}

// Pin is exclusive ownership of one CPU slot between Pin and Unpin.
type Pin struct {
	env *Env
	cpu int
}

// CPU returns the owned slot index.
func (p Pin) CPU() int {
	return p.cpu
}

// Unpin releases the slot. Each Pin must be released exactly once.
func (p Pin) Unpin() {
	p.env.slots[p.cpu].Unlock()
}
