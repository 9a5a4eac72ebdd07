package fabric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"hybridsched/clock"
	"hybridsched/executor"
	"hybridsched/grid"
	"hybridsched/handler"
	"hybridsched/packet"
	"hybridsched/schedule"
)

func newFabric(t *testing.T, opts Options) *Fabric {
	t.Helper()
	if opts.Hosts == 0 {
		opts.Hosts = 2
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewFake(0)
	}
	f, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func tcp(tos, flags uint8) *packet.Packet {
	return packet.Build(packet.Template{
		Src: [4]byte{10, 0, 1, 1}, Dst: [4]byte{10, 0, 2, 1},
		Protocol: packet.ProtoTCP, SrcPort: 1000, DstPort: 2000,
		Flags: flags, TOS: tos, Payload: 20,
	})
}

// ============================================================================
// CONSTRUCTION
// ============================================================================

func TestNewInitialState(t *testing.T) {
	f := newFabric(t, Options{Hosts: 3, Capacity: 8})
	for dst := 0; dst < 3; dst++ {
		if f.CircuitSource(dst) != schedule.NoCircuit {
			t.Fatalf("dst %d starts with a circuit", dst)
		}
		for src := 0; src < 3; src++ {
			if !f.PacketEnabled(src, dst) {
				t.Fatalf("packet path %d->%d starts closed", src, dst)
			}
			q, err := f.Queue(src, dst)
			if err != nil || q.Capacity() != 8 {
				t.Fatalf("queue %d,%d: %v", src, dst, err)
			}
		}
	}
	if _, err := f.Queue(3, 0); !errors.Is(err, grid.ErrOutOfRange) {
		t.Fatalf("out-of-range queue err = %v", err)
	}
	if QueueName(0, 1) != "q12" {
		t.Fatalf("QueueName = %q", QueueName(0, 1))
	}
}

func TestNewRejectsBadHosts(t *testing.T) {
	if _, err := New(Options{Hosts: 10}); !errors.Is(err, grid.ErrOutOfRange) {
		t.Fatalf("err = %v", err)
	}
	if _, err := New(Options{Hosts: 2, Capacity: -4}); err == nil {
		t.Fatal("negative capacity accepted")
	}
}

// ============================================================================
// DATA PATH
// ============================================================================

func TestCircuitPull(t *testing.T) {
	f := newFabric(t, Options{Capacity: 8})
	p := tcp(0, packet.FlagACK)
	if !f.Push(0, 1, p) {
		t.Fatal("push rejected")
	}
	if f.PullCircuit(1) != nil {
		t.Fatal("circuit pull during a night returned a packet")
	}
	f.SelectSource(1, 0)
	got := f.PullCircuit(1)
	if got != p || !got.Circuit || got.SrcRack != 0 || got.DstRack != 1 {
		t.Fatalf("unexpected circuit pull %+v", got)
	}
	if f.PullCircuit(1) != nil {
		t.Fatal("empty VOQ returned a packet")
	}
	if f.Push(5, 0, p) {
		t.Fatal("out-of-range push accepted")
	}
}

func TestPacketPullGated(t *testing.T) {
	f := newFabric(t, Options{Capacity: 8})
	f.Push(1, 0, tcp(0, 0))
	f.SetPacketEnabled(1, 0, false)
	if f.PullPacket(1, 0) != nil {
		t.Fatal("closed packet path delivered")
	}
	f.SetPacketEnabled(1, 0, true)
	p := f.PullPacket(1, 0)
	if p == nil || p.Circuit {
		t.Fatalf("packet pull = %+v", p)
	}
}

func TestEgressMarksCE(t *testing.T) {
	f := newFabric(t, Options{Capacity: 8, MarkingThreshold: 1, MarkingEnabled: true})
	f.Push(0, 1, tcp(0x02, 0))
	f.Push(0, 1, tcp(0x02, 0))
	first, second := f.PullPacket(0, 1), f.PullPacket(0, 1)
	ip1, _ := first.IPv4()
	ip2, _ := second.IPv4()
	if ip1.TOS()&3 == 3 {
		t.Fatal("packet below threshold marked CE")
	}
	if ip2.TOS()&3 != 3 || !ip2.HeaderChecksumValid() {
		t.Fatalf("packet past threshold TOS=%#x", ip2.TOS())
	}
}

func TestEgressSetsECEOnReverseTraffic(t *testing.T) {
	f := newFabric(t, Options{Capacity: 8})
	f.UpdateCongestionMap([]schedule.Pair{{Src: 0, Dst: 1}})
	f.Push(1, 0, tcp(0, packet.FlagACK))
	p := f.PullPacket(1, 0)
	tp, _ := p.Transport()
	if tp.Flags&packet.FlagECE == 0 || !p.TransportChecksumValid() {
		t.Fatalf("reverse ACK flags = %#x", tp.Flags)
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

func TestRegisterHandlers(t *testing.T) {
	f := newFabric(t, Options{Capacity: 8})
	tab := handler.NewTable()
	if err := f.RegisterHandlers(tab); err != nil {
		t.Fatal(err)
	}

	if err := tab.Write("pps12.switch", "-1"); err != nil || f.PacketEnabled(0, 1) {
		t.Fatalf("pps12.switch: %v", err)
	}
	if got, _ := tab.Read("pps12.switch"); got != "-1" {
		t.Fatalf("pps12.switch read %q", got)
	}
	if err := tab.Write("pps12.switch", "1"); err == nil {
		t.Fatal("pps switch accepted 1")
	}
	if err := tab.Write("circuit2.source", "0"); err != nil || f.CircuitSource(1) != 0 {
		t.Fatalf("circuit2.source: %v", err)
	}
	if err := tab.Write("circuit2.source", "2"); err == nil {
		t.Fatal("out-of-range circuit source accepted")
	}
	if err := tab.Write("circuit1.delay", "0.5"); err != nil || f.ExtraDelay(0) != 0.5 {
		t.Fatalf("circuit1.delay: %v", err)
	}
	if err := tab.Write("q21.resize_capacity", "32"); err != nil {
		t.Fatal(err)
	}
	if err := tab.Write("ecem.setECE", "12 "); err != nil || !f.Congestion().Has(0, 1) {
		t.Fatalf("ecem.setECE: %v", err)
	}

	raw, err := tab.Read("fabric.snapshot")
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := sonnet.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Hosts != 2 || len(snap.Queues) != 4 || snap.Circuits[1] != 0 || snap.Congestion != "12 " {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Queues[2].Name != "q21" || snap.Queues[2].Capacity != 32 {
		t.Fatalf("q21 snapshot = %+v", snap.Queues[2])
	}
	if snap.Queues[1].PacketEnabled {
		t.Fatal("snapshot shows closed pps12 as open")
	}
}

// ============================================================================
// EXECUTOR INTEGRATION
// ============================================================================

func TestExecutorDrivesFabric(t *testing.T) {
	clk := clock.NewFake(time.Microsecond)
	f := newFabric(t, Options{Capacity: 50, Clock: clk})
	p := executor.DefaultParams()
	p.Resize = true
	p.InAdvanceUs = 100
	sched, err := schedule.Parse("2 1000 1/0 1000 0/1", 2)
	if err != nil {
		t.Fatal(err)
	}
	p.Schedule = sched

	events := &eventLog{}
	e, err := executor.New(executor.Config{
		Hosts:      2,
		Clock:      clk,
		CPU:        -1,
		Circuit:    f,
		Packet:     f,
		Queues:     f.QueueHandles(),
		Congestion: f,
		Events:     events,
		Delay:      f,
		Params:     p,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for events.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("executor made no progress")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	for src := 0; src < 2; src++ {
		for dst := 0; dst < 2; dst++ {
			q, _ := f.Queue(src, dst)
			if c := q.Capacity(); c != 16 && c != 128 {
				t.Fatalf("q%d%d capacity %d is neither small nor big", src+1, dst+1, c)
			}
		}
	}
}
