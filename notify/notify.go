// Package notify implements the edge-triggered activity signal PathQueues
// use to tell parked consumers (non-empty) and producers (non-full) when to
// look again.
//
// Wake raises the signal; only the 0→1 edge posts a token on the channel, so
// a listener that saw the signal low and then blocks on C is never lost.
// Sleep lowers it. Listeners must re-check the queue after every wake-up:
// tokens can be stale.
package notify

import "sync/atomic"

// Notifier is a binary activity signal with a wake channel.
type Notifier struct {
	active atomic.Uint32
	wakes  atomic.Uint64
	ch     chan struct{}
}

// New returns a notifier in the given initial state.
func New(active bool) *Notifier {
	n := &Notifier{ch: make(chan struct{}, 1)}
	if active {
		n.active.Store(1)
	}
	return n
}

// Wake raises the signal.
func (n *Notifier) Wake() {
	if n.active.Swap(1) == 0 {
		n.wakes.Add(1)
		select {
		case n.ch <- struct{}{}:
		default:
		}
	}
}

// Sleep lowers the signal.
func (n *Notifier) Sleep() {
	n.active.Store(0)
}

// Active reports the current signal state.
func (n *Notifier) Active() bool {
	return n.active.Load() != 0
}

// C returns the channel that receives a token on each rising edge.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// Wakes counts rising edges since creation.
func (n *Notifier) Wakes() uint64 {
	return n.wakes.Load()
}
