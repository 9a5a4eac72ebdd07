// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: packet.go — Packet buffer, annotations and header views
//
// Purpose:
//   - Carries one IPv4 datagram through the VOQs plus the annotations the
//     fabric attaches on the way (threshold tag, circuit flag, rack ids).
//   - Offers fixed-offset IPv4/TCP/UDP accessors for accounting and marking.
//
// Notes:
//   - Data starts at the IPv4 header; link-layer framing is stripped upstream.
//   - Accessors validate lengths once and return ok=false on short buffers.
// ─────────────────────────────────────────────────────────────────────────────

package packet

import "encoding/binary"

// IP protocol numbers understood by the accounting path.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// TCP flag bits.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
	FlagECE = 0x40
	FlagCWR = 0x80
)

// Packet is a datagram plus fabric annotations.
type Packet struct {
	Data []byte

	// ThresholdExceeded is set by a PathQueue when post-enqueue occupancy
	// exceeded its marking threshold.
	ThresholdExceeded bool

	// Circuit is set when the packet left through a circuit pull.
	Circuit bool

	// SrcRack and DstRack are the 0-based host indices of the VOQ pair.
	SrcRack, DstRack int
}

// New wraps data without copying.
func New(data []byte) *Packet {
	return &Packet{Data: data}
}

// Len returns the datagram length in bytes.
func (p *Packet) Len() int {
	return len(p.Data)
}

// ============================================================================
// IPV4 HEADER VIEW
// ============================================================================

// IPv4 is a view over a validated IPv4 header.
type IPv4 []byte

// IPv4 returns the IPv4 header view, or false if Data is not IPv4.
func (p *Packet) IPv4() (IPv4, bool) {
	b := p.Data
	if len(b) < 20 || b[0]>>4 != 4 {
		return nil, false
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < 20 || len(b) < ihl {
		return nil, false
	}
	return IPv4(b[:ihl]), true
}

// HeaderLen returns the header length in bytes.
func (h IPv4) HeaderLen() int { return int(h[0]&0x0f) * 4 }

// TOS returns the type-of-service byte (DSCP | ECN).
func (h IPv4) TOS() uint8 { return h[1] }

// SetTOS overwrites the type-of-service byte without fixing the checksum.
func (h IPv4) SetTOS(v uint8) { h[1] = v }

// TotalLen returns the total datagram length field.
func (h IPv4) TotalLen() int { return int(binary.BigEndian.Uint16(h[2:4])) }

// Protocol returns the transport protocol number.
func (h IPv4) Protocol() uint8 { return h[9] }

// Checksum returns the header checksum field.
func (h IPv4) Checksum() uint16 { return binary.BigEndian.Uint16(h[10:12]) }

// SetChecksum overwrites the header checksum field.
func (h IPv4) SetChecksum(v uint16) { binary.BigEndian.PutUint16(h[10:12], v) }

// Src returns the source address.
func (h IPv4) Src() [4]byte { return [4]byte(h[12:16]) }

// Dst returns the destination address.
func (h IPv4) Dst() [4]byte { return [4]byte(h[16:20]) }

// ============================================================================
// TRANSPORT HEADER VIEW
// ============================================================================

// Transport summarizes the TCP or UDP header following the IPv4 header.
type Transport struct {
	Protocol  uint8
	SrcPort   uint16
	DstPort   uint16
	Seq       uint32 // TCP only
	Flags     uint8  // TCP only
	Offset    int    // byte offset of the transport header within Data
	HeaderLen int
}

// Transport parses the TCP or UDP header. ok is false for other protocols
// or truncated packets.
func (p *Packet) Transport() (Transport, bool) {
	ip, ok := p.IPv4()
	if !ok {
		return Transport{}, false
	}
	off := ip.HeaderLen()
	b := p.Data
	switch ip.Protocol() {
	case ProtoTCP:
		if len(b) < off+20 {
			return Transport{}, false
		}
		thl := int(b[off+12]>>4) * 4
		if thl < 20 {
			return Transport{}, false
		}
		return Transport{
			Protocol:  ProtoTCP,
			SrcPort:   binary.BigEndian.Uint16(b[off : off+2]),
			DstPort:   binary.BigEndian.Uint16(b[off+2 : off+4]),
			Seq:       binary.BigEndian.Uint32(b[off+4 : off+8]),
			Flags:     b[off+13],
			Offset:    off,
			HeaderLen: thl,
		}, true
	case ProtoUDP:
		if len(b) < off+8 {
			return Transport{}, false
		}
		return Transport{
			Protocol:  ProtoUDP,
			SrcPort:   binary.BigEndian.Uint16(b[off : off+2]),
			DstPort:   binary.BigEndian.Uint16(b[off+2 : off+4]),
			Offset:    off,
			HeaderLen: 8,
		}, true
	}
	return Transport{}, false
}

// PayloadLen returns total length minus IP and transport headers, or 0 when
// the headers claim more than the total length.
func (p *Packet) PayloadLen(ip IPv4, tp Transport) int {
	n := ip.TotalLen() - ip.HeaderLen() - tp.HeaderLen
	if n < 0 {
		return 0
	}
	return n
}

// ============================================================================
// CHECKSUM
// ============================================================================

// Checksum computes the Internet checksum of b folded onto initial.
func Checksum(b []byte, initial uint32) uint16 {
	sum := initial
	for len(b) >= 2 {
		sum += uint32(b[0])<<8 | uint32(b[1])
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// pseudoHeaderSum sums the IPv4 pseudo header for a transport checksum.
func pseudoHeaderSum(src, dst [4]byte, proto uint8, length int) uint32 {
	var sum uint32
	sum += uint32(src[0])<<8 | uint32(src[1])
	sum += uint32(src[2])<<8 | uint32(src[3])
	sum += uint32(dst[0])<<8 | uint32(dst[1])
	sum += uint32(dst[2])<<8 | uint32(dst[3])
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}

// TransportChecksumValid verifies the TCP/UDP checksum over the pseudo
// header. Used by tests of in-place header edits.
func (p *Packet) TransportChecksumValid() bool {
	ip, ok := p.IPv4()
	if !ok {
		return false
	}
	tp, ok := p.Transport()
	if !ok {
		return false
	}
	seg := p.Data[tp.Offset:ip.TotalLen()]
	return Checksum(seg, pseudoHeaderSum(ip.Src(), ip.Dst(), tp.Protocol, len(seg))) == 0
}

// HeaderChecksumValid verifies the IPv4 header checksum.
func (h IPv4) HeaderChecksumValid() bool {
	return Checksum(h, 0) == 0
}
