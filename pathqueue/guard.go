package pathqueue

import (
	"runtime"
	"sync/atomic"

	"hybridsched/clock"
)

// guardYieldAfter bounds pure spinning before a guard yields the processor
// so a descheduled holder can run.
const guardYieldAfter = 64

// guard is a spin reservation flag. The hot path takes an uncontended guard
// with one CAS; resize and the cold-path readers contend for it.
type guard struct {
	v atomic.Uint32
}

//go:nosplit
func (g *guard) lock() {
	for spins := 0; !g.v.CompareAndSwap(0, 1); spins++ {
		if spins < guardYieldAfter {
			clock.Pause()
			continue
		}
		runtime.Gosched()
	}
}

//go:nosplit
func (g *guard) unlock() {
	g.v.Store(0)
}
