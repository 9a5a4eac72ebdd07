// ============================================================================
// FLOW ACCOUNTING
// ============================================================================
//
// Dequeued payload bytes are credited per flow so a traffic estimator can
// read how much each flow actually moved through this VOQ.
//
// TCP retransmissions must not be credited twice: a (flow, seq) seen less
// than AduDedupWindow ago is skipped. Once the seen table grows past
// aduPruneAt it is swept for stale entries, at most once per window.
//
// UDP has no sequence number; every datagram is credited.
//
// Both tables sit behind xadu, separate from the data-path guards, so
// ObservedBytes and ClearAccounting may be called from any goroutine.

package pathqueue

import (
	"hybridsched/clock"
	"hybridsched/constants"
	"hybridsched/packet"
)

const aduPruneAt = 1 << 16

// FlowKey identifies a transport flow.
type FlowKey struct {
	Src, Dst         [4]byte
	Protocol         uint8
	SrcPort, DstPort uint16
}

// SeqKey identifies one TCP segment of a flow.
type SeqKey struct {
	Src, Dst         [4]byte
	SrcPort, DstPort uint16
	Seq              uint32
}

type aduTable struct {
	clk      clock.Clock
	seen     map[SeqKey]int64 // last credited time, ns
	observed map[FlowKey]int64
	pruned   int64 // time of the last sweep
}

func (a *aduTable) init(clk clock.Clock) {
	a.clk = clk
	a.seen = make(map[SeqKey]int64)
	a.observed = make(map[FlowKey]int64)
}

// account runs after a successful dequeue on the consumer goroutine.
func (q *Queue) account(p *packet.Packet) {
	ip, ok := p.IPv4()
	if !ok {
		return
	}
	tp, ok := p.Transport()
	if !ok {
		return
	}
	payload := p.PayloadLen(ip, tp)
	q.deqPayload.Add(uint64(payload))
	if !q.accounting.Load() {
		return
	}

	flow := FlowKey{Src: ip.Src(), Dst: ip.Dst(), Protocol: tp.Protocol, SrcPort: tp.SrcPort, DstPort: tp.DstPort}

	q.xadu.lock()
	if tp.Protocol == packet.ProtoTCP {
		key := SeqKey{Src: flow.Src, Dst: flow.Dst, SrcPort: tp.SrcPort, DstPort: tp.DstPort, Seq: tp.Seq}
		now := q.adu.clk.Now()
		if last, dup := q.adu.seen[key]; dup && now-last <= int64(constants.AduDedupWindow) {
			q.xadu.unlock()
			return
		}
		q.adu.seen[key] = now
		if len(q.adu.seen) > aduPruneAt && now-q.adu.pruned > int64(constants.AduDedupWindow) {
			q.adu.prune(now)
		}
	}
	q.adu.observed[flow] += int64(payload)
	q.xadu.unlock()
}

func (a *aduTable) prune(now int64) {
	a.pruned = now
	for k, ts := range a.seen {
		if now-ts > int64(constants.AduDedupWindow) {
			delete(a.seen, k)
		}
	}
}

// SetAccounting enables or disables per-flow crediting.
func (q *Queue) SetAccounting(on bool) {
	q.accounting.Store(on)
}

// Accounting reports whether per-flow crediting is enabled.
func (q *Queue) Accounting() bool {
	return q.accounting.Load()
}

// ObservedBytes returns the payload bytes credited to flow since the last
// clear.
func (q *Queue) ObservedBytes(flow FlowKey) int64 {
	q.xadu.lock()
	n := q.adu.observed[flow]
	q.xadu.unlock()
	return n
}

// Observed returns a copy of every flow's credited bytes.
func (q *Queue) Observed() map[FlowKey]int64 {
	q.xadu.lock()
	out := make(map[FlowKey]int64, len(q.adu.observed))
	for k, v := range q.adu.observed {
		out[k] = v
	}
	q.xadu.unlock()
	return out
}

// ClearAccounting empties both the dedup and the per-flow tables.
func (q *Queue) ClearAccounting() {
	q.xadu.lock()
	clear(q.adu.seen)
	clear(q.adu.observed)
	q.xadu.unlock()
}
