// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: schedule.go — Circuit schedule model and wire codec
//
// Purpose:
//   - Parses "<N> <dur_1> <cfg_1> ... <dur_N> <cfg_N>" into a validated
//     Schedule, and renders the canonical form back.
//   - Fingerprints schedules for change detection and journaling.
//
// Notes:
//   - cfg is slash-joined, one source index per destination; -1 is a night.
//   - Durations are positive microseconds; one cycle is at most
//     MaxDurationUs so nanosecond and horizon arithmetic cannot wrap.
//   - A parsed Schedule is immutable; the executor shares it by pointer.
// ─────────────────────────────────────────────────────────────────────────────

package schedule

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"hybridsched/utils"
)

// NoCircuit marks a destination without a circuit in a configuration.
const NoCircuit = -1

// MaxDurationUs bounds a whole cycle and any lookahead budget. Sums of a
// few of these still convert to nanoseconds within int64.
const MaxDurationUs = math.MaxInt64 / 1000 / 4

// ErrMalformed wraps every parse failure.
var ErrMalformed = errors.New("schedule: malformed")

// Pair is an ordered (source, destination) host pair.
type Pair struct {
	Src, Dst int
}

// Configuration is one time slot of the schedule.
type Configuration struct {
	DurationUs int64
	Sources    []int // Sources[dst] is the circuit source for dst, or NoCircuit
}

// Label renders the mapping slash-joined, e.g. "1/0" or "-1/-1".
func (c Configuration) Label() string {
	return utils.JoinInts(c.Sources, '/')
}

// Schedule is a cyclic, nonempty sequence of configurations over Hosts hosts.
type Schedule struct {
	Hosts   int
	Configs []Configuration
}

// ============================================================================
// PARSING
// ============================================================================

// Parse decodes the wire format for a fabric of hosts hosts.
func Parse(s string, hosts int) (*Schedule, error) {
	if hosts <= 0 {
		return nil, fmt.Errorf("%w: host count %d must be positive", ErrMalformed, hosts)
	}
	tok := strings.Fields(s)
	if len(tok) == 0 {
		return nil, fmt.Errorf("%w: empty schedule", ErrMalformed)
	}
	n, err := strconv.Atoi(tok[0])
	if err != nil {
		return nil, fmt.Errorf("%w: configuration count %q is not an integer", ErrMalformed, tok[0])
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: configuration count %d must be positive", ErrMalformed, n)
	}
	if len(tok) != 1+2*n {
		return nil, fmt.Errorf("%w: %d configurations need %d tokens, got %d", ErrMalformed, n, 1+2*n, len(tok))
	}

	sched := &Schedule{Hosts: hosts, Configs: make([]Configuration, n)}
	var cycle int64
	for i := 0; i < n; i++ {
		durTok, cfgTok := tok[1+2*i], tok[2+2*i]
		dur, err := strconv.ParseInt(durTok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: configuration %d duration %q is not an integer", ErrMalformed, i, durTok)
		}
		if dur <= 0 {
			return nil, fmt.Errorf("%w: configuration %d duration %d must be positive", ErrMalformed, i, dur)
		}
		if dur > MaxDurationUs-cycle {
			return nil, fmt.Errorf("%w: cycle exceeds %d us at configuration %d", ErrMalformed, int64(MaxDurationUs), i)
		}
		cycle += dur
		fields := strings.Split(cfgTok, "/")
		if len(fields) != hosts {
			return nil, fmt.Errorf("%w: configuration %d has %d destinations, want %d", ErrMalformed, i, len(fields), hosts)
		}
		srcs := make([]int, hosts)
		for dst, f := range fields {
			src, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("%w: configuration %d destination %d source %q is not an integer", ErrMalformed, i, dst, f)
			}
			if src < NoCircuit || src >= hosts {
				return nil, fmt.Errorf("%w: configuration %d destination %d source %d outside -1..%d", ErrMalformed, i, dst, src, hosts-1)
			}
			srcs[dst] = src
		}
		sched.Configs[i] = Configuration{DurationUs: dur, Sources: srcs}
	}
	return sched, nil
}

// ============================================================================
// ENCODING
// ============================================================================

// Len returns the number of configurations.
func (s *Schedule) Len() int {
	return len(s.Configs)
}

// CycleUs returns the length of one pass in microseconds.
func (s *Schedule) CycleUs() int64 {
	var total int64
	for _, c := range s.Configs {
		total += c.DurationUs
	}
	return total
}

// String returns the canonical wire encoding.
func (s *Schedule) String() string {
	b := make([]byte, 0, 16*len(s.Configs))
	b = utils.AppendInt(b, len(s.Configs))
	for _, c := range s.Configs {
		b = append(b, ' ')
		b = strconv.AppendInt(b, c.DurationUs, 10)
		b = append(b, ' ')
		for i, src := range c.Sources {
			if i > 0 {
				b = append(b, '/')
			}
			b = utils.AppendInt(b, src)
		}
	}
	return string(b)
}

// Fingerprint returns the SHA3-256 digest of the canonical encoding.
func (s *Schedule) Fingerprint() [32]byte {
	return sha3.Sum256([]byte(s.String()))
}

// FingerprintHex returns Fingerprint as lowercase hex.
func (s *Schedule) FingerprintHex() string {
	fp := s.Fingerprint()
	return hex.EncodeToString(fp[:])
}
