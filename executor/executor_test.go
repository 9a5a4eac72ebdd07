package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"hybridsched/clock"
	"hybridsched/grid"
	"hybridsched/handler"
	"hybridsched/schedule"
)

// ============================================================================
// RECORDING COLLABORATORS
// ============================================================================

// trace is an ordered log shared by every fake collaborator.
type trace struct {
	mu  sync.Mutex
	log []string
}

func (tr *trace) add(format string, args ...any) {
	tr.mu.Lock()
	tr.log = append(tr.log, fmt.Sprintf(format, args...))
	tr.mu.Unlock()
}

func (tr *trace) entries() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return slices.Clone(tr.log)
}

func (tr *trace) index(entry string, from int) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i := from; i < len(tr.log); i++ {
		if tr.log[i] == entry {
			return i
		}
	}
	return -1
}

type fakeQueue struct {
	tr       *trace
	src, dst int
}

func (q *fakeQueue) Resize(n int) error {
	q.tr.add("cap %d%d %d", q.src, q.dst, n)
	return nil
}

func (q *fakeQueue) SetMarkingThreshold(n int) error {
	q.tr.add("thresh %d%d %d", q.src, q.dst, n)
	return nil
}

type fakeFabric struct{ tr *trace }

func (f fakeFabric) SelectSource(dst, src int)              { f.tr.add("select d%d s%d", dst, src) }
func (f fakeFabric) SetPacketEnabled(src, dst int, on bool) { f.tr.add("pkt %d%d %v", src, dst, on) }
func (f fakeFabric) CircuitEvent(label string)              { f.tr.add("event %s", label) }
func (f fakeFabric) SetExtraDelay(dst int, sec float64)     { f.tr.add("delay d%d %g", dst, sec) }
func (f fakeFabric) ScheduleInstalled(s *schedule.Schedule) { f.tr.add("installed %s", s) }
func (f fakeFabric) UpdateCongestionMap(pairs []schedule.Pair) {
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%d%d ", p.Src+1, p.Dst+1)
	}
	f.tr.add("map %s", b.String())
}

func newTestExecutor(t *testing.T, hosts int, p Params) (*Executor, *trace) {
	t.Helper()
	tr := &trace{}
	queues, err := grid.New(hosts, func(src, dst int) QueueHandle {
		return &fakeQueue{tr: tr, src: src, dst: dst}
	})
	if err != nil {
		t.Fatal(err)
	}
	f := fakeFabric{tr: tr}
	e, err := New(Config{
		Hosts:      hosts,
		Clock:      clock.NewFake(time.Microsecond),
		CPU:        -1,
		Circuit:    f,
		Packet:     f,
		Queues:     queues,
		Congestion: f,
		Events:     f,
		Schedules:  f,
		Delay:      f,
		Params:     p,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e, tr
}

func runPass(t *testing.T, e *Executor) {
	t.Helper()
	if !e.pass(context.Background(), e.params.load()) {
		t.Fatal("pass ended early")
	}
}

// ============================================================================
// CONSTRUCTION
// ============================================================================

func TestNewRejectsIncompleteWiring(t *testing.T) {
	f := fakeFabric{tr: &trace{}}
	empty, _ := grid.New[QueueHandle](2, nil)
	if _, err := New(Config{Hosts: 2, Circuit: f, Packet: f, Congestion: f, Queues: empty}); err == nil {
		t.Fatal("nil queue handles accepted")
	}

	small, _ := grid.New(1, func(int, int) QueueHandle { return &fakeQueue{} })
	if _, err := New(Config{Hosts: 2, Circuit: f, Packet: f, Congestion: f, Queues: small}); err == nil {
		t.Fatal("mismatched grid accepted")
	}
	if _, err := New(Config{Hosts: 0}); !errors.Is(err, grid.ErrOutOfRange) {
		t.Fatalf("zero hosts err = %v", err)
	}
	full, _ := grid.New(2, func(int, int) QueueHandle { return &fakeQueue{} })
	if _, err := New(Config{Hosts: 2, Packet: f, Congestion: f, Queues: full}); err == nil {
		t.Fatal("missing circuit switch accepted")
	}
}

// ============================================================================
// SWITCH STATE
// ============================================================================

func TestPassDrivesSwitches(t *testing.T) {
	e, tr := newTestExecutor(t, 2, DefaultParams())
	if err := e.SetSchedule("2 100 1/0 50 -1/-1"); err != nil {
		t.Fatal(err)
	}
	runPass(t, e)

	log := tr.entries()
	var events []string
	for _, l := range log {
		if strings.HasPrefix(l, "event ") {
			events = append(events, l)
		}
	}
	if !slices.Equal(events, []string{"event 1/0", "event -1/-1"}) {
		t.Fatalf("events = %v", events)
	}

	// first pass after install: packet path closed exactly where the
	// first configuration has a circuit
	for _, want := range []string{"pkt 10 false", "pkt 01 false", "pkt 00 true", "pkt 11 true"} {
		if tr.index(want, 0) < 0 {
			t.Fatalf("missing %q in %v", want, log)
		}
	}

	night := tr.index("event -1/-1", 0)
	reopen := tr.index("pkt 10 true", 0)
	if reopen < 0 || reopen > night {
		t.Fatal("packet path not reopened when the circuit ended")
	}
	// the night prepares configuration 0 again: its pairs are closed
	if tr.index("pkt 10 false", reopen) < 0 || tr.index("pkt 01 false", reopen) < 0 {
		t.Fatalf("night did not close the next circuit's packet path: %v", log)
	}
	if tr.index("installed 2 100 1/0 50 -1/-1", 0) != 0 {
		t.Fatal("schedule installation not recorded first")
	}
}

func TestSingleConfigurationResetsPacketSwitchEveryPass(t *testing.T) {
	e, tr := newTestExecutor(t, 2, DefaultParams())
	_ = e.SetSchedule("1 50 1/0")
	runPass(t, e)
	mark := len(tr.entries())
	runPass(t, e)
	if tr.index("pkt 10 false", mark) < 0 || tr.index("pkt 00 true", mark) < 0 {
		t.Fatal("second pass of a single-slot schedule skipped the packet switch reset")
	}
}

func TestMultiConfigurationSkipsResetAfterFirstPass(t *testing.T) {
	e, tr := newTestExecutor(t, 2, DefaultParams())
	_ = e.SetSchedule("2 50 1/0 50 -1/-1")
	runPass(t, e)
	mark := len(tr.entries())
	runPass(t, e)
	if tr.index("pkt 00 true", mark) >= 0 {
		t.Fatal("packet switch reset on a pass without a new schedule")
	}
}

func TestExtraDelayAlternates(t *testing.T) {
	p := DefaultParams()
	p.ExtraDelaySec = 0.5
	e, tr := newTestExecutor(t, 1, p)
	_ = e.SetSchedule("1 10 0")
	runPass(t, e)
	runPass(t, e)
	runPass(t, e)
	var delays []string
	for _, l := range tr.entries() {
		if strings.HasPrefix(l, "delay") {
			delays = append(delays, l)
		}
	}
	want := []string{"delay d0 0.5", "delay d0 0", "delay d0 0.5"}
	if !slices.Equal(delays, want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
}

// ============================================================================
// LOOKAHEAD
// ============================================================================

func resizeParams(inAdvance int64) Params {
	p := DefaultParams()
	p.Resize = true
	p.InAdvanceUs = inAdvance
	return p
}

func TestForcedSweepOnInstall(t *testing.T) {
	e, tr := newTestExecutor(t, 2, resizeParams(500))
	_ = e.SetSchedule("2 1000 1/0 1000 0/1")
	runPass(t, e)
	first := tr.index("event 1/0", 0)
	for _, want := range []string{"cap 10 128", "cap 01 128", "cap 00 16", "cap 11 16"} {
		if i := tr.index(want, 0); i < 0 || i > first {
			t.Fatalf("%q not applied before the first configuration", want)
		}
	}
}

func TestNoSweepResizeWhenDisabled(t *testing.T) {
	e, tr := newTestExecutor(t, 2, DefaultParams())
	_ = e.SetSchedule("2 100 1/0 100 0/1")
	runPass(t, e)
	for _, l := range tr.entries() {
		if strings.HasPrefix(l, "cap ") {
			t.Fatalf("resize issued with resizing disabled: %q", l)
		}
	}
	if tr.index("map 21 12 11 22 ", 0) < 0 {
		t.Fatal("congestion map not published with resizing disabled")
	}
}

// TestGrowAheadNoEarlyShrink checks the lookahead on a schedule where pair
// (1,0) holds the circuit in slots 0 and 2 with a short night between,
// while (0,1) and (1,1) each hold it in one slot.
func TestGrowAheadNoEarlyShrink(t *testing.T) {
	e, tr := newTestExecutor(t, 2, resizeParams(500))
	_ = e.SetSchedule("3 1000 1/0 200 -1/-1 1000 1/1")
	runPass(t, e)

	start := tr.index("event 1/0", 0)
	night := tr.index("event -1/-1", start)
	third := tr.index("event 1/1", night)
	if start < 0 || night < 0 || third < 0 {
		t.Fatalf("configuration events missing: %v", tr.entries())
	}

	// (1,1) is grown while slot 0 is still running, 500us ahead of slot 2
	if grow := tr.index("cap 11 128", start); grow < 0 || grow > night {
		t.Fatal("pair (1,1) not grown ahead of its circuit")
	}
	// (1,0) comes back within the horizon and is never shrunk
	if i := tr.index("cap 10 16", start); i >= 0 {
		t.Fatalf("pair (1,0) shrunk at entry %d despite reappearing", i)
	}
	// (0,1) is not in the next 500us after slot 0, so it shrinks at exit
	if i := tr.index("cap 01 16", start); i < 0 || i > night {
		t.Fatal("pair (0,1) not shrunk at the end of its circuit")
	}
	// and grows again ahead of the next pass's slot 0
	if tr.index("cap 01 128", third) < 0 {
		t.Fatal("pair (0,1) not regrown for the next pass")
	}
	// (1,1) shrinks after slot 2
	if tr.index("cap 11 16", third) < 0 {
		t.Fatal("pair (1,1) not shrunk after its circuit")
	}
}

func TestSweepPublishesHorizonPairs(t *testing.T) {
	e, tr := newTestExecutor(t, 2, resizeParams(500))
	_ = e.SetSchedule("2 1000 1/0 1000 0/1")
	runPass(t, e)
	if tr.index("map 21 12 ", 0) < 0 {
		t.Fatalf("initial map missing: %v", tr.entries())
	}
	// once slot 1 is within 500us, both slots' pairs are published
	if tr.index("map 21 12 11 22 ", 0) < 0 {
		t.Fatalf("extended map missing: %v", tr.entries())
	}
}

// ============================================================================
// RUN LOOP
// ============================================================================

func TestRunIdlesAndStops(t *testing.T) {
	e, tr := newTestExecutor(t, 2, DefaultParams())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if n := len(tr.entries()); n != 0 {
		t.Fatalf("idle executor issued %d calls", n)
	}

	if err := e.SetSchedule("2 100 1/0 100 0/1"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for tr.index("event 0/1", 0) < 0 {
		if time.Now().After(deadline) {
			t.Fatal("executor never ran the installed schedule")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestClearedScheduleIdles(t *testing.T) {
	e, _ := newTestExecutor(t, 2, DefaultParams())
	_ = e.SetSchedule("1 10 1/0")
	if err := e.SetSchedule("   "); err != nil {
		t.Fatal(err)
	}
	if e.Params().Schedule != nil {
		t.Fatal("blank schedule did not clear")
	}
}

// ============================================================================
// CONTROL ENDPOINTS
// ============================================================================

func TestSetScheduleRejectsMalformed(t *testing.T) {
	e, _ := newTestExecutor(t, 2, DefaultParams())
	_ = e.SetSchedule("1 10 1/0")
	before := e.Params()
	if err := e.SetSchedule("1 10 1/0/0"); !errors.Is(err, schedule.ErrMalformed) {
		t.Fatalf("err = %v", err)
	}
	if e.Params().schedVersion != before.schedVersion {
		t.Fatal("rejected schedule changed the cell")
	}
}

func TestResubmittingSameScheduleIsNotNew(t *testing.T) {
	e, _ := newTestExecutor(t, 2, DefaultParams())
	_ = e.SetSchedule("1 10 1/0")
	v := e.Params().schedVersion
	_ = e.SetSchedule(" 1  10 1/0 ")
	if e.Params().schedVersion != v {
		t.Fatal("identical schedule bumped the version")
	}
	_ = e.SetSchedule("1 11 1/0")
	if e.Params().schedVersion == v {
		t.Fatal("changed schedule did not bump the version")
	}
}

func TestLongestHorizonPassCompletes(t *testing.T) {
	p := DefaultParams()
	p.Resize = true
	p.InAdvanceUs = schedule.MaxDurationUs
	e, tr := newTestExecutor(t, 2, p)
	if err := e.SetSchedule("2 50 1/0 50 -1/-1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.pass(context.Background(), e.params.load())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not return with the longest accepted horizon")
	}
	if tr.index("map 21 12 ", 0) < 0 {
		t.Fatalf("sweep did not publish the horizon pairs: %v", tr.entries())
	}
}

func TestSetterValidation(t *testing.T) {
	e, _ := newTestExecutor(t, 2, DefaultParams())
	tests := []struct {
		name string
		call func() error
	}{
		{"zero capacity", func() error { return e.SetQueueCapacity(0, 10) }},
		{"small above big", func() error { return e.SetQueueCapacity(20, 10) }},
		{"huge capacity", func() error { return e.SetQueueCapacity(1, math.MaxInt32) }},
		{"zero threshold", func() error { return e.SetMarkingThreshold(0, 1) }},
		{"negative horizon", func() error { return e.SetInAdvance(-1) }},
		{"horizon past ns range", func() error { return e.SetInAdvance(math.MaxInt64 - 10) }},
		{"horizon just past limit", func() error { return e.SetInAdvance(schedule.MaxDurationUs + 1) }},
		{"negative delay", func() error { return e.SetExtraCircuitDelay(-0.1) }},
		{"nan delay", func() error { return e.SetExtraCircuitDelay(math.NaN()) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrInvalidParam) {
				t.Fatalf("err = %v, want ErrInvalidParam", err)
			}
		})
	}
	if small, big := e.QueueCapacity(); small != 16 || big != 128 {
		t.Fatalf("rejected setters changed capacity to %d,%d", small, big)
	}
	if err := e.SetMarkingThreshold(2000, 10); err != nil {
		t.Fatalf("unordered thresholds rejected: %v", err)
	}
}

func TestRegisterHandlers(t *testing.T) {
	e, _ := newTestExecutor(t, 2, DefaultParams())
	tab := handler.NewTable()
	if err := e.RegisterHandlers(tab); err != nil {
		t.Fatal(err)
	}

	writes := []struct{ name, value string }{
		{"setSchedule", "2 100 0/1 50 -1/-1"},
		{"setDoResize", "true"},
		{"setInAdvance", "8000"},
		{"queue_capacity", "8,64"},
		{"marking_threshold", "10,20"},
		{"extra_circuit_delay", "0.25"},
	}
	for _, w := range writes {
		if err := tab.Write(w.name, w.value); err != nil {
			t.Fatalf("write %s: %v", w.name, err)
		}
		got, err := tab.Read(w.name)
		if err != nil || got != w.value {
			t.Fatalf("read %s = %q, %v; want %q", w.name, got, err, w.value)
		}
	}

	bad := []struct{ name, value string }{
		{"queue_capacity", "8"},
		{"queue_capacity", "8,64,128"},
		{"queue_capacity", "a,b"},
		{"marking_threshold", "0,5"},
		{"setDoResize", "perhaps"},
		{"setInAdvance", "soon"},
		{"extra_circuit_delay", "-1"},
	}
	for _, b := range bad {
		if err := tab.Write(b.name, b.value); !errors.Is(err, ErrInvalidParam) {
			t.Errorf("write %s=%q err = %v", b.name, b.value, err)
		}
	}
	if err := tab.Write("setSchedule", "x"); !errors.Is(err, schedule.ErrMalformed) {
		t.Fatalf("bad schedule err = %v", err)
	}
}
