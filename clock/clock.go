// ============================================================================
// MONOTONIC TIME SOURCE
// ============================================================================
//
// The executor's hold loop and the queue's dedup window read time through
// Clock so tests can drive virtual time. Now returns monotonic nanoseconds
// relative to an arbitrary origin; only differences are meaningful.
//
// Relax is called once per busy-wait iteration. The real clock issues a CPU
// pause hint; the fake clock advances virtual time instead.

package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic nanosecond source with a spin-wait hint.
type Clock interface {
	Now() int64
	Relax()
}

// ============================================================================
// REAL CLOCK
// ============================================================================

// Monotonic reads the runtime monotonic clock.
type Monotonic struct {
	base time.Time
}

// NewMonotonic returns a clock whose origin is the moment of the call.
func NewMonotonic() *Monotonic {
	return &Monotonic{base: time.Now()}
}

// Now returns nanoseconds since the clock was created.
func (m *Monotonic) Now() int64 {
	return int64(time.Since(m.base))
}

// Relax issues the architecture's spin-wait hint.
func (m *Monotonic) Relax() {
	cpuRelax()
}

// ============================================================================
// VIRTUAL CLOCK
// ============================================================================

// Fake is a deterministic clock. Every Relax advances time by Step, so a
// busy-wait loop built on Fake terminates after duration/Step iterations
// without real delay.
type Fake struct {
	now  atomic.Int64
	step int64
}

// NewFake returns a fake clock at t=0 advancing step per Relax.
func NewFake(step time.Duration) *Fake {
	return &Fake{step: int64(step)}
}

// Now returns the current virtual time.
func (f *Fake) Now() int64 {
	return f.now.Load()
}

// Relax advances virtual time by one step.
func (f *Fake) Relax() {
	f.now.Add(f.step)
}

// Advance moves virtual time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.now.Add(int64(d))
}

// Pause issues the spin-wait hint without a Clock value. Spin guards use it
// between failed acquisition attempts.
func Pause() {
	cpuRelax()
}
