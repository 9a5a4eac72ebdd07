// ============================================================================
// PARAMETER CELL
// ============================================================================
//
// Control goroutines publish executor parameters through one versioned
// cell. Writers are serialized by mu and install a fresh copy; the executor
// loads one snapshot per pass and never sees a half-applied update.
//
// schedVersion moves only when the installed schedule actually changes, so
// resubmitting the running schedule does not trigger a replacement sweep.

package executor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"hybridsched/constants"
	"hybridsched/debug"
	"hybridsched/handler"
	"hybridsched/schedule"
	"hybridsched/utils"
)

// ErrInvalidParam wraps every rejected control value.
var ErrInvalidParam = errors.New("executor: invalid parameter")

// Params is one immutable snapshot of executor configuration.
type Params struct {
	Schedule      *schedule.Schedule // nil keeps the executor idle
	Resize        bool
	InAdvanceUs   int64
	SmallCapacity int
	BigCapacity   int
	SmallThresh   int
	BigThresh     int
	ExtraDelaySec float64

	schedVersion uint64
}

// DefaultParams returns the built-in defaults with no schedule.
func DefaultParams() Params {
	return Params{
		InAdvanceUs:   constants.DefaultInAdvanceUs,
		SmallCapacity: constants.DefaultSmallCapacity,
		BigCapacity:   constants.DefaultBigCapacity,
		SmallThresh:   constants.DefaultSmallThreshold,
		BigThresh:     constants.DefaultBigThreshold,
	}
}

// Validate checks the numeric fields.
func (p Params) Validate() error {
	if p.InAdvanceUs < 0 || p.InAdvanceUs > schedule.MaxDurationUs {
		return fmt.Errorf("%w: in_advance %d outside 0..%d", ErrInvalidParam, p.InAdvanceUs, int64(schedule.MaxDurationUs))
	}
	if err := checkPair("queue capacity", p.SmallCapacity, p.BigCapacity, true); err != nil {
		return err
	}
	if err := checkPair("marking threshold", p.SmallThresh, p.BigThresh, false); err != nil {
		return err
	}
	if p.ExtraDelaySec < 0 || math.IsNaN(p.ExtraDelaySec) || math.IsInf(p.ExtraDelaySec, 0) {
		return fmt.Errorf("%w: extra circuit delay %v must be a non-negative number", ErrInvalidParam, p.ExtraDelaySec)
	}
	return nil
}

func checkPair(what string, small, big int, ordered bool) error {
	if small <= 0 || big <= 0 {
		return fmt.Errorf("%w: %s %d,%d must be positive", ErrInvalidParam, what, small, big)
	}
	if small > constants.MaxQueueCapacity || big > constants.MaxQueueCapacity {
		return fmt.Errorf("%w: %s %d,%d exceeds %d", ErrInvalidParam, what, small, big, constants.MaxQueueCapacity)
	}
	if ordered && small > big {
		return fmt.Errorf("%w: small %s %d exceeds big %d", ErrInvalidParam, what, small, big)
	}
	return nil
}

type cell struct {
	mu      sync.Mutex
	cur     atomic.Pointer[Params]
	changed chan struct{}
}

func (c *cell) init(p Params) {
	c.changed = make(chan struct{}, 1)
	c.cur.Store(&p)
}

func (c *cell) load() *Params {
	return c.cur.Load()
}

// update applies fn to a copy and publishes it if fn and Validate succeed.
func (c *cell) update(fn func(*Params) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.cur.Load()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.cur.Store(&next)
	select {
	case c.changed <- struct{}{}:
	default:
	}
	return nil
}

// ============================================================================
// CONTROL ENDPOINTS
// ============================================================================

// Params returns the current snapshot.
func (e *Executor) Params() Params {
	return *e.params.load()
}

// SetSchedule parses and installs a schedule. Blank input clears it and
// idles the executor.
func (e *Executor) SetSchedule(s string) error {
	var sched *schedule.Schedule
	if strings.TrimSpace(s) != "" {
		var err error
		if sched, err = schedule.Parse(s, e.hosts); err != nil {
			return err
		}
	}
	changed := false
	err := e.params.update(func(p *Params) error {
		if sameSchedule(p.Schedule, sched) {
			return nil
		}
		p.Schedule = sched
		p.schedVersion++
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}
	if sched == nil {
		debug.DropMessage("EXEC", "schedule cleared")
		return nil
	}
	debug.DropMessage("EXEC", "schedule accepted "+sched.FingerprintHex()[:16]+" - "+sched.String())
	if e.schedules != nil {
		e.schedules.ScheduleInstalled(sched)
	}
	return nil
}

func sameSchedule(a, b *schedule.Schedule) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Fingerprint() == b.Fingerprint()
}

// SetDoResize enables or disables proactive resizing.
func (e *Executor) SetDoResize(on bool) error {
	err := e.params.update(func(p *Params) error { p.Resize = on; return nil })
	if err == nil && on {
		p := e.params.load()
		debug.DropMessage("EXEC", "auto resizing VOQ capacity "+utils.Itoa(p.SmallCapacity)+" -> "+utils.Itoa(p.BigCapacity)+
			", marking threshold "+utils.Itoa(p.SmallThresh)+" -> "+utils.Itoa(p.BigThresh))
	}
	return err
}

// SetInAdvance sets the lookahead horizon in microseconds.
func (e *Executor) SetInAdvance(us int64) error {
	return e.params.update(func(p *Params) error { p.InAdvanceUs = us; return nil })
}

// SetQueueCapacity sets the small/big capacity pair.
func (e *Executor) SetQueueCapacity(small, big int) error {
	return e.params.update(func(p *Params) error {
		p.SmallCapacity, p.BigCapacity = small, big
		return nil
	})
}

// QueueCapacity returns the small/big capacity pair.
func (e *Executor) QueueCapacity() (small, big int) {
	p := e.params.load()
	return p.SmallCapacity, p.BigCapacity
}

// SetMarkingThreshold sets the small/big marking threshold pair.
func (e *Executor) SetMarkingThreshold(small, big int) error {
	return e.params.update(func(p *Params) error {
		p.SmallThresh, p.BigThresh = small, big
		return nil
	})
}

// MarkingThreshold returns the small/big marking threshold pair.
func (e *Executor) MarkingThreshold() (small, big int) {
	p := e.params.load()
	return p.SmallThresh, p.BigThresh
}

// SetExtraCircuitDelay sets the delay in seconds applied on alternate passes.
func (e *Executor) SetExtraCircuitDelay(sec float64) error {
	return e.params.update(func(p *Params) error { p.ExtraDelaySec = sec; return nil })
}

// ExtraCircuitDelay returns the configured extra delay in seconds.
func (e *Executor) ExtraCircuitDelay() float64 {
	return e.params.load().ExtraDelaySec
}

// ============================================================================
// HANDLER REGISTRATION
// ============================================================================

func parsePair(what, s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %s %q does not name exactly two values", ErrInvalidParam, what, s)
	}
	var v [2]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %s value %q is not an integer", ErrInvalidParam, what, part)
		}
		v[i] = n
	}
	return v[0], v[1], nil
}

func formatPair(a, b int) string {
	return utils.Itoa(a) + "," + utils.Itoa(b)
}

// RegisterHandlers exposes the control endpoints under their bare names.
func (e *Executor) RegisterHandlers(t *handler.Table) error {
	entries := []struct {
		name  string
		read  handler.ReadFunc
		write handler.WriteFunc
	}{
		{"setSchedule",
			func() (string, error) {
				if s := e.params.load().Schedule; s != nil {
					return s.String(), nil
				}
				return "", nil
			},
			e.SetSchedule},
		{"setDoResize",
			func() (string, error) { return strconv.FormatBool(e.params.load().Resize), nil },
			func(s string) error {
				on, err := strconv.ParseBool(strings.TrimSpace(s))
				if err != nil {
					return fmt.Errorf("%w: resize flag %q is not a boolean", ErrInvalidParam, s)
				}
				return e.SetDoResize(on)
			}},
		{"setInAdvance",
			func() (string, error) { return strconv.FormatInt(e.params.load().InAdvanceUs, 10), nil },
			func(s string) error {
				us, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
				if err != nil {
					return fmt.Errorf("%w: in_advance %q is not an integer", ErrInvalidParam, s)
				}
				return e.SetInAdvance(us)
			}},
		{"queue_capacity",
			func() (string, error) { return formatPair(e.QueueCapacity()), nil },
			func(s string) error {
				small, big, err := parsePair("queue capacity", s)
				if err != nil {
					return err
				}
				return e.SetQueueCapacity(small, big)
			}},
		{"marking_threshold",
			func() (string, error) { return formatPair(e.MarkingThreshold()), nil },
			func(s string) error {
				small, big, err := parsePair("marking threshold", s)
				if err != nil {
					return err
				}
				return e.SetMarkingThreshold(small, big)
			}},
		{"extra_circuit_delay",
			func() (string, error) { return strconv.FormatFloat(e.ExtraCircuitDelay(), 'g', -1, 64), nil },
			func(s string) error {
				sec, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return fmt.Errorf("%w: extra circuit delay %q is not a number", ErrInvalidParam, s)
				}
				return e.SetExtraCircuitDelay(sec)
			}},
	}
	for _, en := range entries {
		if err := t.Register(en.name, en.read, en.write); err != nil {
			return err
		}
	}
	return nil
}
