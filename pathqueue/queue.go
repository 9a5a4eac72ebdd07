// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: queue.go — Bounded per-path VOQ with notification and resize
//
// Purpose:
//   - Buffers packets for one ordered (src, dst) pair between exactly one
//     producer and one consumer.
//   - Tags packets past the marking threshold and keeps byte counters.
//   - Accepts capacity and threshold changes from any goroutine while the
//     data path keeps running.
//
// Reservation protocol:
//   - Enqueue holds xenq, Dequeue holds xdeq. With one producer and one
//     consumer these guards are never contended on the hot path.
//   - Resize, Reset, Bytes and Len take xdeq then xenq, in that order, so
//     the ring cannot move underneath them. Release is the reverse order.
//   - head and tail are atomics so the producer and consumer publish slots
//     to each other without sharing a guard.
//
// Notification:
//   - nonEmpty is raised on every successful enqueue and lowered only after
//     SleepinessTrigger consecutive empty dequeues.
//   - nonFull is lowered when an enqueue fills the ring and raised by every
//     successful dequeue. Both lowerings re-check and re-raise on a race.
// ─────────────────────────────────────────────────────────────────────────────

package pathqueue

import (
	"errors"
	"fmt"
	"sync/atomic"

	"hybridsched/clock"
	"hybridsched/constants"
	"hybridsched/debug"
	"hybridsched/notify"
	"hybridsched/packet"
)

// ErrCapacity reports a capacity outside 1..constants.MaxQueueCapacity.
var ErrCapacity = errors.New("pathqueue: invalid capacity")

// ErrThreshold reports a non-positive marking threshold.
var ErrThreshold = errors.New("pathqueue: invalid marking threshold")

// Sink receives packets a full queue could not admit.
type Sink interface {
	Enqueue(p *packet.Packet) bool
}

// Options configures a new Queue. Zero fields take package defaults.
type Options struct {
	Name             string
	Capacity         int
	MarkingThreshold int
	MarkingEnabled   bool
	Accounting       bool
	Clock            clock.Clock // dedup window time source
	Alt              Sink        // optional overflow output
}

// Queue is a bounded SPSC FIFO of packets.
//
//go:align 64
type Queue struct {
	_    [64]byte
	head atomic.Uint64 // consumer cursor
	_    [56]byte
	tail atomic.Uint64 // producer cursor
	_    [56]byte

	xenq guard
	xdeq guard
	xadu guard

	buf        []*packet.Packet // capacity+1 slots, replaced only under both guards
	capacity   atomic.Int64
	sleepiness int // consumer-owned

	thresh         atomic.Int64
	markingEnabled atomic.Bool
	accounting     atomic.Bool

	highwater  atomic.Int64
	drops      atomic.Uint64
	enqBytes   atomic.Uint64
	deqBytes   atomic.Uint64
	deqPayload atomic.Uint64

	nonEmpty *notify.Notifier
	nonFull  *notify.Notifier

	adu  aduTable
	name string
	alt  Sink
}

// New builds a queue from opts.
func New(opts Options) (*Queue, error) {
	if opts.Capacity == 0 {
		opts.Capacity = constants.DefaultQueueCapacity
	}
	if opts.MarkingThreshold == 0 {
		opts.MarkingThreshold = constants.DefaultMarkingThreshold
	}
	if err := checkCapacity(opts.Capacity); err != nil {
		return nil, err
	}
	if err := checkThreshold(opts.MarkingThreshold); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewMonotonic()
	}
	if opts.Name == "" {
		opts.Name = "pathqueue"
	}
	q := &Queue{
		buf:      make([]*packet.Packet, opts.Capacity+1),
		nonEmpty: notify.New(false),
		nonFull:  notify.New(true),
		name:     opts.Name,
		alt:      opts.Alt,
	}
	q.capacity.Store(int64(opts.Capacity))
	q.thresh.Store(int64(opts.MarkingThreshold))
	q.markingEnabled.Store(opts.MarkingEnabled)
	q.accounting.Store(opts.Accounting)
	q.adu.init(opts.Clock)
	return q, nil
}

func checkCapacity(n int) error {
	if n <= 0 || n > constants.MaxQueueCapacity {
		return fmt.Errorf("%w: %d outside 1..%d", ErrCapacity, n, constants.MaxQueueCapacity)
	}
	return nil
}

func checkThreshold(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrThreshold, n)
	}
	return nil
}

// occupancy returns the number of items between h and t in a ring of
// slots entries.
//
//go:nosplit
//go:inline
func occupancy(h, t, slots uint64) int {
	return int((t + slots - h) % slots)
}

// ============================================================================
// DATA PATH
// ============================================================================

// Enqueue admits p unless the queue is full. Producer side only.
func (q *Queue) Enqueue(p *packet.Packet) bool {
	q.xenq.lock()
	slots := uint64(len(q.buf))
	h, t := q.head.Load(), q.tail.Load()
	nt := t + 1
	if nt == slots {
		nt = 0
	}

	if q.markingEnabled.Load() && int64(occupancy(h, t, slots)+1) > q.thresh.Load() {
		p.ThresholdExceeded = true
	}

	if nt == h {
		q.xenq.unlock()
		q.pushFailure(p)
		return false
	}

	q.buf[t] = p
	q.tail.Store(nt)
	q.enqBytes.Add(uint64(p.Len()))

	s := occupancy(h, nt, slots)
	if int64(s) > q.highwater.Load() {
		q.highwater.Store(int64(s))
	}
	q.nonEmpty.Wake()

	if int64(s) == q.capacity.Load() {
		q.nonFull.Sleep()
		// a dequeue between the fill and the Sleep would be undone
		if int64(occupancy(q.head.Load(), nt, slots)) < q.capacity.Load() {
			q.nonFull.Wake()
		}
	}
	q.xenq.unlock()
	return true
}

func (q *Queue) pushFailure(p *packet.Packet) {
	if q.drops.Add(1) == 1 {
		debug.DropWarning(q.name, "overflow")
	}
	if q.alt != nil {
		q.alt.Enqueue(p)
	}
}

// Dequeue returns the oldest packet, or nil when empty. Consumer side only.
func (q *Queue) Dequeue() *packet.Packet {
	q.xdeq.lock()
	slots := uint64(len(q.buf))
	h, t := q.head.Load(), q.tail.Load()
	if h == t {
		q.pullFailure(t, slots)
		q.xdeq.unlock()
		return nil
	}

	p := q.buf[h]
	q.buf[h] = nil
	nh := h + 1
	if nh == slots {
		nh = 0
	}
	q.head.Store(nh)
	q.sleepiness = 0
	q.nonFull.Wake()
	q.xdeq.unlock()

	q.deqBytes.Add(uint64(p.Len()))
	q.account(p)
	return p
}

func (q *Queue) pullFailure(h, slots uint64) {
	if q.sleepiness < constants.SleepinessTrigger {
		q.sleepiness++
		return
	}
	q.nonEmpty.Sleep()
	// an enqueue between the empty check and the Sleep would be undone
	if occupancy(h, q.tail.Load(), slots) > 0 {
		q.nonEmpty.Wake()
	}
}

// ============================================================================
// RECONFIGURATION
// ============================================================================

// Resize changes capacity to n, keeping the newest min(n, Len) packets in
// order. Packets dropped by a shrink count as drops.
func (q *Queue) Resize(n int) error {
	if err := checkCapacity(n); err != nil {
		return err
	}
	q.xdeq.lock()
	q.xenq.lock()

	old := int(q.capacity.Load())
	if n == old {
		q.xenq.unlock()
		q.xdeq.unlock()
		return nil
	}

	slots := uint64(len(q.buf))
	h, t := q.head.Load(), q.tail.Load()
	size := occupancy(h, t, slots)
	wasFull := size == old
	kept := min(size, n)

	nb := make([]*packet.Packet, n+1)
	skip := uint64(size - kept)
	for i := 0; i < kept; i++ {
		nb[i] = q.buf[(h+skip+uint64(i))%slots]
	}
	if skip > 0 {
		q.drops.Add(skip)
	}
	q.buf = nb
	q.head.Store(0)
	q.tail.Store(uint64(kept))
	q.capacity.Store(int64(n))

	q.xenq.unlock()
	q.xdeq.unlock()

	switch {
	case kept == n:
		q.nonFull.Sleep()
		// a dequeue after the guards were released would be undone
		if q.Len() < q.Capacity() {
			q.nonFull.Wake()
		}
	case wasFull:
		q.nonFull.Wake()
		// the producer may have refilled and lowered it again
		if q.Len() < n {
			q.nonFull.Wake()
		}
	}
	if kept > 0 {
		q.nonEmpty.Wake()
	}
	return nil
}

// SetMarkingThreshold replaces the marking threshold.
func (q *Queue) SetMarkingThreshold(n int) error {
	if err := checkThreshold(n); err != nil {
		return err
	}
	q.thresh.Store(int64(n))
	return nil
}

// SetMarkingEnabled turns threshold tagging on or off.
func (q *Queue) SetMarkingEnabled(on bool) {
	q.markingEnabled.Store(on)
}

// Reset discards every queued packet.
func (q *Queue) Reset() {
	q.xdeq.lock()
	q.xenq.lock()
	clear(q.buf)
	q.head.Store(0)
	q.tail.Store(0)
	q.xenq.unlock()
	q.xdeq.unlock()
	q.nonFull.Wake()
}

// ResetCounts zeroes the drop counter and high-water mark.
func (q *Queue) ResetCounts() {
	q.drops.Store(0)
	q.highwater.Store(0)
}

// ============================================================================
// OBSERVATION
// ============================================================================

// Len returns the current occupancy.
func (q *Queue) Len() int {
	q.xdeq.lock()
	q.xenq.lock()
	n := occupancy(q.head.Load(), q.tail.Load(), uint64(len(q.buf)))
	q.xenq.unlock()
	q.xdeq.unlock()
	return n
}

// Bytes returns the summed length of queued packets.
func (q *Queue) Bytes() int {
	q.xdeq.lock()
	q.xenq.lock()
	slots := uint64(len(q.buf))
	total := 0
	for i := q.head.Load(); i != q.tail.Load(); i = (i + 1) % slots {
		total += q.buf[i].Len()
	}
	q.xenq.unlock()
	q.xdeq.unlock()
	return total
}

func (q *Queue) Name() string { return q.name }
func (q *Queue) Capacity() int { return int(q.capacity.Load()) }
func (q *Queue) MarkingThreshold() int { return int(q.thresh.Load()) }
func (q *Queue) MarkingEnabled() bool { return q.markingEnabled.Load() }
func (q *Queue) HighWater() int { return int(q.highwater.Load()) }
func (q *Queue) Drops() uint64 { return q.drops.Load() }
func (q *Queue) EnqueueBytes() uint64 { return q.enqBytes.Load() }
func (q *Queue) DequeueBytes() uint64 { return q.deqBytes.Load() }
func (q *Queue) DequeuePayloadBytes() uint64 { return q.deqPayload.Load() }

// NonEmpty is raised while the queue may hold packets.
func (q *Queue) NonEmpty() *notify.Notifier { return q.nonEmpty }

// NonFull is raised while the queue may accept packets.
func (q *Queue) NonFull() *notify.Notifier { return q.nonFull }
