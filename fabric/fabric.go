// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: fabric.go — Hybrid switch assembly around the VOQ bank
//
// Purpose:
//   - Owns the N² PathQueues and the per-destination circuit and per-pair
//     packet switch state the executor drives.
//   - Provides the data-path entry (Push) and the two exits: circuit pulls
//     per destination and packet pulls per pair.
//
// Notes:
//   - Switch state is plain atomics; the executor writes, pullers read.
//   - A queue may be pulled by both its circuit and packet ports; Dequeue
//     serializes consumers on the queue's own guard.
//   - Pulled packets get CE marking and the reverse-direction ECE hint.
// ─────────────────────────────────────────────────────────────────────────────

package fabric

import (
	"fmt"
	"math"
	"sync/atomic"

	"hybridsched/clock"
	"hybridsched/congestion"
	"hybridsched/executor"
	"hybridsched/grid"
	"hybridsched/packet"
	"hybridsched/pathqueue"
	"hybridsched/schedule"
	"hybridsched/utils"
)

// Options sizes and configures the VOQ bank.
type Options struct {
	Hosts            int
	Capacity         int
	MarkingThreshold int
	MarkingEnabled   bool
	Accounting       bool
	Clock            clock.Clock
}

// Fabric is the hybrid switch state for one rack group.
type Fabric struct {
	hosts    int
	queues   *grid.Grid[*pathqueue.Queue]
	circuit  []atomic.Int32  // per dst: current circuit source or NoCircuit
	packetOn []atomic.Bool   // per (src,dst), row-major
	delay    []atomic.Uint64 // per dst: float64 bits, seconds
	ece      *congestion.Map
}

// New builds the queue bank with every packet path open and no circuits.
func New(opts Options) (*Fabric, error) {
	if err := grid.ValidateHosts(opts.Hosts); err != nil {
		return nil, fmt.Errorf("fabric: %w", err)
	}
	ece, err := congestion.NewMap(opts.Hosts)
	if err != nil {
		return nil, err
	}
	var qerr error
	queues, err := grid.New(opts.Hosts, func(src, dst int) *pathqueue.Queue {
		q, err := pathqueue.New(pathqueue.Options{
			Name:             QueueName(src, dst),
			Capacity:         opts.Capacity,
			MarkingThreshold: opts.MarkingThreshold,
			MarkingEnabled:   opts.MarkingEnabled,
			Accounting:       opts.Accounting,
			Clock:            opts.Clock,
		})
		if err != nil && qerr == nil {
			qerr = err
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	if qerr != nil {
		return nil, fmt.Errorf("fabric: %w", qerr)
	}

	f := &Fabric{
		hosts:    opts.Hosts,
		queues:   queues,
		circuit:  make([]atomic.Int32, opts.Hosts),
		packetOn: make([]atomic.Bool, opts.Hosts*opts.Hosts),
		delay:    make([]atomic.Uint64, opts.Hosts),
		ece:      ece,
	}
	for dst := range f.circuit {
		f.circuit[dst].Store(schedule.NoCircuit)
	}
	for i := range f.packetOn {
		f.packetOn[i].Store(true)
	}
	return f, nil
}

// QueueName returns the 1-based VOQ name, e.g. "q12" for (0,1).
func QueueName(src, dst int) string {
	return "q" + utils.Itoa(src+1) + utils.Itoa(dst+1)
}

// Hosts returns N.
func (f *Fabric) Hosts() int { return f.hosts }

// Queue returns the VOQ for (src, dst).
func (f *Fabric) Queue(src, dst int) (*pathqueue.Queue, error) {
	return f.queues.At(src, dst)
}

// QueueHandles returns the VOQs as executor handles.
func (f *Fabric) QueueHandles() *grid.Grid[executor.QueueHandle] {
	g, _ := grid.New(f.hosts, func(src, dst int) executor.QueueHandle {
		return f.queues.MustAt(src, dst)
	})
	return g
}

// Congestion returns the ECE circuit map.
func (f *Fabric) Congestion() *congestion.Map { return f.ece }

func (f *Fabric) inRange(i int) bool { return i >= 0 && i < f.hosts }

// ============================================================================
// SWITCH STATE (executor side)
// ============================================================================

// SelectSource points dst's circuit at src, or closes it for NoCircuit.
// Out-of-range indices are ignored.
func (f *Fabric) SelectSource(dst, src int) {
	if !f.inRange(dst) || (src != schedule.NoCircuit && !f.inRange(src)) {
		return
	}
	f.circuit[dst].Store(int32(src))
}

// CircuitSource returns dst's current circuit source.
func (f *Fabric) CircuitSource(dst int) int {
	if !f.inRange(dst) {
		return schedule.NoCircuit
	}
	return int(f.circuit[dst].Load())
}

// SetPacketEnabled opens or closes the packet path of (src, dst).
func (f *Fabric) SetPacketEnabled(src, dst int, on bool) {
	if f.inRange(src) && f.inRange(dst) {
		f.packetOn[src*f.hosts+dst].Store(on)
	}
}

// PacketEnabled reports whether (src, dst) may use the packet path.
func (f *Fabric) PacketEnabled(src, dst int) bool {
	return f.inRange(src) && f.inRange(dst) && f.packetOn[src*f.hosts+dst].Load()
}

// SetExtraDelay sets dst's extra circuit delay in seconds.
func (f *Fabric) SetExtraDelay(dst int, seconds float64) {
	if f.inRange(dst) {
		f.delay[dst].Store(math.Float64bits(seconds))
	}
}

// ExtraDelay returns dst's extra circuit delay in seconds.
func (f *Fabric) ExtraDelay(dst int) float64 {
	if !f.inRange(dst) {
		return 0
	}
	return math.Float64frombits(f.delay[dst].Load())
}

// UpdateCongestionMap forwards the horizon pairs to the ECE map.
func (f *Fabric) UpdateCongestionMap(pairs []schedule.Pair) {
	f.ece.UpdateCongestionMap(pairs)
}

// ============================================================================
// DATA PATH
// ============================================================================

// Push annotates p with its rack pair and enqueues it on (src, dst).
// Reports false when the index is out of range or the VOQ is full.
func (f *Fabric) Push(src, dst int, p *packet.Packet) bool {
	q, err := f.queues.At(src, dst)
	if err != nil {
		return false
	}
	p.SrcRack, p.DstRack = src, dst
	return q.Enqueue(p)
}

// PullCircuit dequeues from the VOQ currently holding dst's circuit.
// Returns nil during a night or when that VOQ is empty.
func (f *Fabric) PullCircuit(dst int) *packet.Packet {
	src := f.CircuitSource(dst)
	if src == schedule.NoCircuit {
		return nil
	}
	p := f.queues.MustAt(src, dst).Dequeue()
	if p == nil {
		return nil
	}
	p.Circuit = true
	f.egress(p)
	return p
}

// PullPacket dequeues from (src, dst) when its packet path is open.
func (f *Fabric) PullPacket(src, dst int) *packet.Packet {
	if !f.PacketEnabled(src, dst) {
		return nil
	}
	p := f.queues.MustAt(src, dst).Dequeue()
	if p == nil {
		return nil
	}
	f.egress(p)
	return p
}

func (f *Fabric) egress(p *packet.Packet) {
	congestion.MarkCE(p)
	f.ece.Apply(p)
}
