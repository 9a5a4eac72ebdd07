// control.go — Stop/hot coordination flags for spinning goroutines
// ============================================================================
// SPIN-LOOP COORDINATION
// ============================================================================
//
// Flags carries the two signals every busy-polling loop in the fabric needs:
//
//   • stop: 1 once shutdown is requested; loops exit at their next check
//   • hot:  1 while producers are active; consumers stay in tight spin
//
// Producers call SignalActivity on ingress. Consumers call PollCooldown from
// their cold path, which clears hot after ActivityCooldown of silence.
// All fields are accessed atomically; a Flags value is shared by pointer.

package control

import (
	"sync/atomic"
	"time"

	"hybridsched/constants"
)

// Flags is a set of coordination flags shared by one group of loops.
type Flags struct {
	stop    atomic.Uint32
	hot     atomic.Uint32
	lastHot atomic.Int64 // unix ns of last SignalActivity
	cool    int64        // cooldown in ns
}

// New returns flags with the default activity cooldown.
func New() *Flags {
	return NewWithCooldown(constants.ActivityCooldown)
}

// NewWithCooldown returns flags whose hot bit clears after d of silence.
func NewWithCooldown(d time.Duration) *Flags {
	return &Flags{cool: int64(d)}
}

// ============================================================================
// ACTIVITY SIGNALING
// ============================================================================

// SignalActivity marks the group hot and records the activity time.
func (f *Flags) SignalActivity() {
	f.lastHot.Store(time.Now().UnixNano())
	f.hot.Store(1)
}

// ForceHot sets the hot bit without touching the cooldown timestamp.
func (f *Flags) ForceHot() {
	f.hot.Store(1)
}

// PollCooldown clears hot once the cooldown elapsed since the last activity.
func (f *Flags) PollCooldown() {
	if f.hot.Load() == 1 && time.Now().UnixNano()-f.lastHot.Load() > f.cool {
		f.hot.Store(0)
	}
}

// Hot reports whether producers were recently active.
func (f *Flags) Hot() bool {
	return f.hot.Load() != 0
}

// ============================================================================
// SHUTDOWN
// ============================================================================

// Shutdown requests that all loops sharing f exit.
func (f *Flags) Shutdown() {
	f.stop.Store(1)
}

// Stopping reports whether Shutdown was called.
func (f *Flags) Stopping() bool {
	return f.stop.Load() != 0
}
