// ============================================================================
// ECE CIRCUIT MAP
// ============================================================================
//
// The map holds the (src, dst) pairs that hold a circuit now or inside the
// lookahead horizon. The executor replaces the whole set after every sweep.
// Return traffic for a listed pair (travelling dst -> src) gets the TCP ECE
// flag so the sender's congestion control can react to the coming circuit.
//
// Storage is one atomic word per destination row: bit s of row d is set
// when (s, d) is present. Readers on the data path never lock.

package congestion

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"hybridsched/constants"
	"hybridsched/handler"
	"hybridsched/packet"
	"hybridsched/schedule"
)

// ErrBadMap reports a malformed congestion map string or pair.
var ErrBadMap = errors.New("congestion: malformed map")

// Map is a concurrent set of (src, dst) circuit pairs.
type Map struct {
	hosts int
	rows  [constants.MaxHosts]atomic.Uint32
}

// NewMap returns an empty map for hosts hosts.
func NewMap(hosts int) (*Map, error) {
	if hosts <= 0 || hosts > constants.MaxHosts {
		return nil, fmt.Errorf("%w: host count %d outside 1..%d", ErrBadMap, hosts, constants.MaxHosts)
	}
	return &Map{hosts: hosts}, nil
}

// UpdateCongestionMap replaces the set with pairs. Pairs outside the host
// range are ignored.
func (m *Map) UpdateCongestionMap(pairs []schedule.Pair) {
	var next [constants.MaxHosts]uint32
	for _, pr := range pairs {
		if pr.Src < 0 || pr.Src >= m.hosts || pr.Dst < 0 || pr.Dst >= m.hosts {
			continue
		}
		next[pr.Dst] |= 1 << pr.Src
	}
	for d := 0; d < m.hosts; d++ {
		m.rows[d].Store(next[d])
	}
}

// Has reports whether (src, dst) is present.
func (m *Map) Has(src, dst int) bool {
	if src < 0 || src >= m.hosts || dst < 0 || dst >= m.hosts {
		return false
	}
	return m.rows[dst].Load()&(1<<src) != 0
}

// Pairs returns the current set ordered by destination then source.
func (m *Map) Pairs() []schedule.Pair {
	var out []schedule.Pair
	for d := 0; d < m.hosts; d++ {
		row := m.rows[d].Load()
		for s := 0; s < m.hosts; s++ {
			if row&(1<<s) != 0 {
				out = append(out, schedule.Pair{Src: s, Dst: d})
			}
		}
	}
	return out
}

// Apply sets ECE on p if it travels the reverse direction of a mapped pair.
func (m *Map) Apply(p *packet.Packet) bool {
	if !m.Has(p.DstRack, p.SrcRack) {
		return false
	}
	return SetECE(p)
}

// ============================================================================
// TEXT FORMAT
// ============================================================================

// Encode renders pairs as space-terminated two-digit 1-based tokens,
// e.g. "12 21 ".
func Encode(pairs []schedule.Pair) string {
	b := make([]byte, 0, 3*len(pairs))
	for _, pr := range pairs {
		b = append(b, byte('1'+pr.Src), byte('1'+pr.Dst), ' ')
	}
	return string(b)
}

// Decode parses the Encode format for a fabric of hosts hosts.
func Decode(s string, hosts int) ([]schedule.Pair, error) {
	fields := strings.Fields(s)
	out := make([]schedule.Pair, 0, len(fields))
	for _, f := range fields {
		if len(f) != 2 {
			return nil, fmt.Errorf("%w: token %q is not two digits", ErrBadMap, f)
		}
		src, dst := int(f[0])-'1', int(f[1])-'1'
		if src < 0 || src >= hosts || dst < 0 || dst >= hosts {
			return nil, fmt.Errorf("%w: token %q outside hosts 1..%d", ErrBadMap, f, hosts)
		}
		out = append(out, schedule.Pair{Src: src, Dst: dst})
	}
	return out, nil
}

// SetText replaces the set from the text format.
func (m *Map) SetText(s string) error {
	pairs, err := Decode(s, m.hosts)
	if err != nil {
		return err
	}
	m.UpdateCongestionMap(pairs)
	return nil
}

// Text returns the current set in the text format.
func (m *Map) Text() string {
	return Encode(m.Pairs())
}

// RegisterHandlers exposes the map as <prefix>.setECE (read/write).
func (m *Map) RegisterHandlers(t *handler.Table, prefix string) error {
	return t.Register(prefix+".setECE",
		func() (string, error) { return m.Text(), nil },
		m.SetText)
}
