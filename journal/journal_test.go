package journal

import (
	"path/filepath"
	"testing"
	"time"

	"hybridsched/clock"
	"hybridsched/schedule"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, clock.NewFake(time.Microsecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

// ============================================================================
// WRITE PATH
// ============================================================================

func TestCircuitEventsPersistInOrder(t *testing.T) {
	j, _ := openTemp(t)
	labels := []string{"1/0", "-1/-1", "0/1"}
	for _, l := range labels {
		j.CircuitEvent(l)
	}
	if err := j.Flush(); err != nil {
		t.Fatal(err)
	}

	events, err := j.Events(j.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(labels) {
		t.Fatalf("got %d events, want %d", len(events), len(labels))
	}
	for i, e := range events {
		if e.Label != labels[i] || e.RunID != j.RunID() {
			t.Fatalf("event %d = %+v", i, e)
		}
		if i > 0 && e.ID <= events[i-1].ID {
			t.Fatalf("ids not increasing: %d after %d", e.ID, events[i-1].ID)
		}
	}
	if j.Written() != 3 || j.Dropped() != 0 {
		t.Fatalf("written=%d dropped=%d", j.Written(), j.Dropped())
	}
}

func TestScheduleInstalledStoresFingerprint(t *testing.T) {
	j, _ := openTemp(t)
	s, err := schedule.Parse("2 100 1/0 100 0/1", 2)
	if err != nil {
		t.Fatal(err)
	}
	j.ScheduleInstalled(s)
	j.ScheduleInstalled(nil)
	if err := j.Flush(); err != nil {
		t.Fatal(err)
	}

	recs, err := j.Schedules(j.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d schedule records", len(recs))
	}
	if recs[0].Fingerprint != s.FingerprintHex() || recs[0].Text != s.String() || recs[0].Hosts != 2 {
		t.Fatalf("first record = %+v", recs[0])
	}
	if recs[1].Fingerprint != "" || recs[1].Text != "" {
		t.Fatalf("cleared record = %+v", recs[1])
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestCloseDrainsAndReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	first := j.RunID()
	for i := 0; i < 100; i++ {
		j.CircuitEvent("1/0")
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := j.Flush(); err != ErrClosed {
		t.Fatalf("Flush after Close = %v", err)
	}
	j.CircuitEvent("late")
	if j.Dropped() != 1 {
		t.Fatalf("late event not counted as dropped: %d", j.Dropped())
	}

	j2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	if j2.RunID() == first {
		t.Fatal("run id reused")
	}
	runs, err := j2.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %v", runs)
	}
	events, err := j2.Events(first)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 100 {
		t.Fatalf("first run kept %d events, want 100", len(events))
	}
}

func TestOpenBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "journal.db")
	if _, err := Open(path, nil); err == nil {
		t.Fatal("opened a database in a missing directory")
	}
}
