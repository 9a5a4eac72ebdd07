// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: journal.go — SQLite journal of circuit events and schedules
//
// Purpose:
//   - Records every circuit configuration the executor enters and every
//     schedule it accepts, tagged with a per-process run id.
//
// Notes:
//   - Callers never touch SQLite. Records go through a bounded channel to a
//     single writer goroutine; a full channel drops the record and counts it.
//   - The writer batches whatever is pending into one transaction.
// ─────────────────────────────────────────────────────────────────────────────

package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"hybridsched/clock"
	"hybridsched/constants"
	"hybridsched/debug"
	"hybridsched/schedule"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("journal: closed")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_ns INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS circuit_events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id  TEXT NOT NULL,
	mono_ns INTEGER NOT NULL,
	wall_ns INTEGER NOT NULL,
	label   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_circuit_events_run ON circuit_events(run_id);
CREATE TABLE IF NOT EXISTS schedules (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	wall_ns     INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	hosts       INTEGER NOT NULL,
	text        TEXT NOT NULL
);`

type recordKind uint8

const (
	kindEvent recordKind = iota
	kindSchedule
	kindFlush
)

type record struct {
	kind        recordKind
	monoNs      int64
	wallNs      int64
	label       string // event label or canonical schedule text
	fingerprint string
	hosts       int
	ack         chan struct{}
}

// Event is one stored circuit configuration entry.
type Event struct {
	ID     int64
	RunID  string
	MonoNs int64
	WallNs int64
	Label  string
}

// ScheduleRecord is one stored schedule submission.
type ScheduleRecord struct {
	ID          int64
	RunID       string
	WallNs      int64
	Fingerprint string
	Hosts       int
	Text        string
}

// Journal is an asynchronous SQLite sink. It satisfies the executor's
// EventLog and ScheduleLog.
type Journal struct {
	db    *sql.DB
	runID string
	clk   clock.Clock

	mu      sync.RWMutex // guards closed against sends
	closed  bool
	records chan record
	done    chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

// Open creates or opens the database at path and starts the writer.
func Open(path string, clk clock.Clock) (*Journal, error) {
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// One connection keeps the writer and readers from contending on locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	j := &Journal{
		db:      db,
		runID:   uuid.NewString(),
		clk:     clk,
		records: make(chan record, constants.JournalBuffer),
		done:    make(chan struct{}),
	}
	if _, err := db.Exec("INSERT INTO runs (id, started_ns) VALUES (?, ?)", j.runID, time.Now().UnixNano()); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: register run: %w", err)
	}
	go j.writer()
	return j, nil
}

// RunID identifies this process's records.
func (j *Journal) RunID() string { return j.runID }

// Dropped returns how many records were discarded on a full buffer.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns how many records reached the database.
func (j *Journal) Written() uint64 { return j.written.Load() }

// CircuitEvent queues a configuration entry. Never blocks.
func (j *Journal) CircuitEvent(label string) {
	j.offer(record{
		kind:   kindEvent,
		monoNs: j.clk.Now(),
		wallNs: time.Now().UnixNano(),
		label:  label,
	})
}

// ScheduleInstalled queues a schedule submission. A nil schedule records
// the cleared state with an empty fingerprint.
func (j *Journal) ScheduleInstalled(s *schedule.Schedule) {
	r := record{kind: kindSchedule, wallNs: time.Now().UnixNano()}
	if s != nil {
		r.label = s.String()
		r.fingerprint = s.FingerprintHex()
		r.hosts = s.Hosts
	}
	j.offer(r)
}

func (j *Journal) offer(r record) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.records <- r:
	default:
		if j.dropped.Add(1) == 1 {
			debug.DropWarning("JOURNAL", "buffer full, dropping records")
		}
	}
}

// Flush blocks until every record queued before the call is written.
func (j *Journal) Flush() error {
	ack := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	j.records <- record{kind: kindFlush, ack: ack}
	j.mu.RUnlock()
	<-ack
	return nil
}

// Close drains pending records and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.records)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

// ============================================================================
// WRITER
// ============================================================================

func (j *Journal) writer() {
	defer close(j.done)
	batch := make([]record, 0, 256)
	for r := range j.records {
		batch = append(batch[:0], r)
	drain:
		for len(batch) < cap(batch) {
			select {
			case next, ok := <-j.records:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := j.commit(batch); err != nil {
			debug.DropError("JOURNAL", err)
		}
		for _, r := range batch {
			if r.ack != nil {
				close(r.ack)
			}
		}
	}
}

func (j *Journal) commit(batch []record) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	var n uint64
	for _, r := range batch {
		switch r.kind {
		case kindEvent:
			_, err = tx.Exec("INSERT INTO circuit_events (run_id, mono_ns, wall_ns, label) VALUES (?, ?, ?, ?)",
				j.runID, r.monoNs, r.wallNs, r.label)
		case kindSchedule:
			_, err = tx.Exec("INSERT INTO schedules (run_id, wall_ns, fingerprint, hosts, text) VALUES (?, ?, ?, ?, ?)",
				j.runID, r.wallNs, r.fingerprint, r.hosts, r.label)
		default:
			continue
		}
		if err != nil {
			tx.Rollback()
			return err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	j.written.Add(n)
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// Events returns the stored circuit events of runID in insertion order.
func (j *Journal) Events(runID string) ([]Event, error) {
	rows, err := j.db.Query(`
		SELECT id, run_id, mono_ns, wall_ns, label
		FROM circuit_events
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.MonoNs, &e.WallNs, &e.Label); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Schedules returns the stored schedule submissions of runID in order.
func (j *Journal) Schedules(runID string) ([]ScheduleRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, run_id, wall_ns, fingerprint, hosts, text
		FROM schedules
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleRecord
	for rows.Next() {
		var s ScheduleRecord
		if err := rows.Scan(&s.ID, &s.RunID, &s.WallNs, &s.Fingerprint, &s.Hosts, &s.Text); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Runs lists every run id in the database, oldest first.
func (j *Journal) Runs() ([]string, error) {
	rows, err := j.db.Query("SELECT id FROM runs ORDER BY started_ns, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
