// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: executor.go — Real-time circuit schedule executor
//
// Purpose:
//   - Walks the installed schedule configuration by configuration, forever.
//   - Drives circuit and packet switch state at every boundary.
//   - Grows VOQs before their circuit arrives and shrinks them once the
//     circuit is not coming back within the horizon.
//
// Per configuration m:
//   1. enter: select circuit sources, apply extra delay, close the packet
//      path of pairs whose circuit is being set up during a night, log.
//   2. hold:  busy-wait the duration on the clock; at each recomputation
//      point run the lookahead sweep (big capacity + congestion map).
//   3. exit:  shrink pairs that do not reappear within the horizon,
//      reopen the packet path of pairs that just lost their circuit.
//
// Notes:
//   - Run owns one OS thread. Parameters arrive through the cell; a pass
//     reads one snapshot and applies it for the whole pass.
//   - ctx is checked at configuration boundaries only.
// ─────────────────────────────────────────────────────────────────────────────

package executor

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"hybridsched/clock"
	"hybridsched/constants"
	"hybridsched/control"
	"hybridsched/debug"
	"hybridsched/grid"
	"hybridsched/schedule"
	"hybridsched/utils"
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// CircuitSwitch selects which source feeds each destination's circuit.
type CircuitSwitch interface {
	SelectSource(dst, src int)
}

// PacketSwitch opens or closes the electrical path of one pair.
type PacketSwitch interface {
	SetPacketEnabled(src, dst int, on bool)
}

// QueueHandle is the per-pair VOQ control surface.
type QueueHandle interface {
	Resize(n int) error
	SetMarkingThreshold(n int) error
}

// CongestionSink receives the pairs inside the horizon after every sweep.
type CongestionSink interface {
	UpdateCongestionMap(pairs []schedule.Pair)
}

// EventLog records every configuration change.
type EventLog interface {
	CircuitEvent(label string)
}

// ScheduleLog records accepted schedule submissions.
type ScheduleLog interface {
	ScheduleInstalled(s *schedule.Schedule)
}

// DelayControl sets the extra per-destination circuit delay in seconds.
type DelayControl interface {
	SetExtraDelay(dst int, seconds float64)
}

// Config wires an Executor. Circuit, Packet, Queues and Congestion are
// required; the rest are optional.
type Config struct {
	Hosts      int
	Clock      clock.Clock
	CPU        int // pin target for Run; negative leaves the thread floating
	Circuit    CircuitSwitch
	Packet     PacketSwitch
	Queues     *grid.Grid[QueueHandle]
	Congestion CongestionSink
	Events     EventLog
	Schedules  ScheduleLog
	Delay      DelayControl
	Params     Params
}

// ============================================================================
// EXECUTOR
// ============================================================================

// Executor runs circuit schedules against the VOQ bank.
type Executor struct {
	hosts      int
	clk        clock.Clock
	cpu        int
	circuit    CircuitSwitch
	packetSw   PacketSwitch
	queues     *grid.Grid[QueueHandle]
	congestion CongestionSink
	events     EventLog
	schedules  ScheduleLog
	delay      DelayControl

	params cell

	// owned by the Run goroutine
	seenSched     uint64
	epoch         int64 // start of the current configuration, ns
	nextRecompute int64 // ns
	extraOn       bool
	passes        uint64
}

// New validates the wiring and returns an idle executor.
func New(cfg Config) (*Executor, error) {
	if err := grid.ValidateHosts(cfg.Hosts); err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	switch {
	case cfg.Circuit == nil:
		return nil, fmt.Errorf("executor: circuit switch missing")
	case cfg.Packet == nil:
		return nil, fmt.Errorf("executor: packet switch missing")
	case cfg.Congestion == nil:
		return nil, fmt.Errorf("executor: congestion sink missing")
	case cfg.Queues == nil:
		return nil, fmt.Errorf("executor: queue handles missing")
	case cfg.Queues.Hosts() != cfg.Hosts:
		return nil, fmt.Errorf("executor: queue grid is %dx%d, want %dx%d", cfg.Queues.Hosts(), cfg.Queues.Hosts(), cfg.Hosts, cfg.Hosts)
	}
	var missing error
	cfg.Queues.Each(func(src, dst int, h QueueHandle) {
		if h == nil && missing == nil {
			missing = fmt.Errorf("executor: no queue handle for q%d%d", src+1, dst+1)
		}
	})
	if missing != nil {
		return nil, missing
	}

	p := cfg.Params
	if p == (Params{}) {
		p = DefaultParams()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Schedule != nil {
		if p.Schedule.Hosts != cfg.Hosts {
			return nil, fmt.Errorf("%w: schedule for %d hosts on a %d-host fabric", ErrInvalidParam, p.Schedule.Hosts, cfg.Hosts)
		}
		p.schedVersion = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMonotonic()
	}

	e := &Executor{
		hosts:      cfg.Hosts,
		clk:        cfg.Clock,
		cpu:        cfg.CPU,
		circuit:    cfg.Circuit,
		packetSw:   cfg.Packet,
		queues:     cfg.Queues,
		congestion: cfg.Congestion,
		events:     cfg.Events,
		schedules:  cfg.Schedules,
		delay:      cfg.Delay,
	}
	e.params.init(p)
	return e, nil
}

// Hosts returns the fabric size.
func (e *Executor) Hosts() int { return e.hosts }

// Run executes schedules until ctx is done and returns ctx.Err().
func (e *Executor) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := control.PinThread(e.cpu); err != nil {
		debug.DropError("EXEC", err)
	}

	debug.DropMessage("EXEC", "executor running on "+utils.Itoa(e.hosts)+" hosts")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := e.params.load()
		if p.Schedule == nil {
			select {
			case <-e.params.changed:
			case <-ctx.Done():
			}
			continue
		}
		e.pass(ctx, p)
	}
}

// pass runs every configuration of p.Schedule once. Returns false when ctx
// ended the pass early.
func (e *Executor) pass(ctx context.Context, p *Params) bool {
	s := p.Schedule
	n := s.Len()

	newS := p.schedVersion != e.seenSched
	e.seenSched = p.schedVersion
	e.extraOn = !e.extraOn
	e.passes++
	if e.passes%constants.StatusEveryPasses == 0 {
		e.logStatus(p)
	}

	if newS {
		e.epoch = e.clk.Now()
		e.nextRecompute = e.epoch - 1
		if p.Resize {
			e.forcedSweep(p)
		}
	}

	if newS || n == 1 {
		first := s.Configs[0].Sources
		for dst := 0; dst < e.hosts; dst++ {
			for src := 0; src < e.hosts; src++ {
				e.packetSw.SetPacketEnabled(src, dst, first[dst] != src)
			}
		}
	}

	for m := 0; m < n; m++ {
		if ctx.Err() != nil {
			return false
		}
		e.enter(p, m)
		e.hold(p, m)
		e.exit(p, m)
	}
	return true
}

// ============================================================================
// CONFIGURATION PHASES
// ============================================================================

func (e *Executor) enter(p *Params, m int) {
	s := p.Schedule
	n := s.Len()
	cfg := s.Configs[m]

	delay := 0.0
	if e.extraOn {
		delay = p.ExtraDelaySec
	}
	for dst, src := range cfg.Sources {
		e.circuit.SelectSource(dst, src)
		if e.delay != nil {
			e.delay.SetExtraDelay(dst, delay)
		}
		// a night in a multi-slot schedule is the setup time of the next
		// circuit; keep that pair off the packet path meanwhile
		if src == schedule.NoCircuit && n > 1 {
			if next := s.Configs[(m+1)%n].Sources[dst]; next != schedule.NoCircuit {
				e.packetSw.SetPacketEnabled(next, dst, false)
			}
		}
	}
	if e.events != nil {
		e.events.CircuitEvent(cfg.Label())
	}
}

func (e *Executor) hold(p *Params, m int) {
	durNs := p.Schedule.Configs[m].DurationUs * 1000
	for {
		now := e.clk.Now()
		elapsed := now - e.epoch
		if now > e.nextRecompute {
			e.sweep(p, m, now, elapsed)
		}
		if elapsed >= durNs {
			e.epoch = now
			return
		}
		e.clk.Relax()
	}
}

func (e *Executor) exit(p *Params, m int) {
	s := p.Schedule
	cfg := s.Configs[m]
	if p.Resize {
		for dst, src := range cfg.Sources {
			if src == schedule.NoCircuit {
				continue
			}
			if !s.Reappears(m, p.InAdvanceUs, src, dst) {
				e.setQueue(src, dst, p.SmallCapacity, p.SmallThresh)
			}
		}
	}
	for dst, src := range cfg.Sources {
		if src != schedule.NoCircuit {
			e.packetSw.SetPacketEnabled(src, dst, true)
		}
	}
}

// ============================================================================
// LOOKAHEAD
// ============================================================================

// sweep grows every pair with a circuit inside the horizon and publishes
// them as the congestion map. The horizon is measured from the start of
// configuration m, so it is extended by the time already spent in m.
func (e *Executor) sweep(p *Params, m int, now, elapsedNs int64) {
	pairs, leftoverUs := p.Schedule.PairsWithin(m, p.InAdvanceUs+elapsedNs/1000)
	if p.Resize {
		for _, pr := range pairs {
			e.setQueue(pr.Src, pr.Dst, p.BigCapacity, p.BigThresh)
		}
	}
	e.congestion.UpdateCongestionMap(pairs)
	e.nextRecompute = now + leftoverUs*1000
}

// forcedSweep brings every VOQ to its correct size for the start of a new
// schedule: big within the first configuration's horizon, small elsewhere.
func (e *Executor) forcedSweep(p *Params) {
	pairs, _ := p.Schedule.PairsWithin(0, p.InAdvanceUs)
	big := make(map[schedule.Pair]struct{}, len(pairs))
	for _, pr := range pairs {
		big[pr] = struct{}{}
		e.setQueue(pr.Src, pr.Dst, p.BigCapacity, p.BigThresh)
	}
	for src := 0; src < e.hosts; src++ {
		for dst := 0; dst < e.hosts; dst++ {
			if _, ok := big[schedule.Pair{Src: src, Dst: dst}]; !ok {
				e.setQueue(src, dst, p.SmallCapacity, p.SmallThresh)
			}
		}
	}
}

func (e *Executor) setQueue(src, dst, capacity, thresh int) {
	h := e.queues.MustAt(src, dst)
	if err := h.Resize(capacity); err != nil {
		debug.DropError("EXEC", err)
	}
	if err := h.SetMarkingThreshold(thresh); err != nil {
		debug.DropError("EXEC", err)
	}
}

func (e *Executor) logStatus(p *Params) {
	resizing := "no"
	if p.Resize {
		resizing = "yes"
	}
	extra := "no"
	if e.extraOn {
		extra = "yes"
	}
	debug.DropMessage("EXEC", "running schedule - "+p.Schedule.String())
	debug.DropMessage("EXEC", "VOQ capacities - small: "+utils.Itoa(p.SmallCapacity)+" -> big: "+utils.Itoa(p.BigCapacity)+" - resizing: "+resizing)
	debug.DropMessage("EXEC", "extra circuit delay ("+strconv.FormatFloat(p.ExtraDelaySec, 'g', -1, 64)+" s): "+extra)
}

// Passes returns the number of schedule passes started. Safe only after Run
// has returned, or from tests driving pass directly.
func (e *Executor) Passes() uint64 { return e.passes }
