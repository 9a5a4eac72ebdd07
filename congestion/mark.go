package congestion

import "hybridsched/packet"

// ECN codepoints in the low two bits of the IPv4 TOS byte.
const (
	ecnNotECT = 0x0
	ecnCE     = 0x3
)

// MarkCE sets the ECN CE codepoint on p when the queue tagged it as having
// crossed the marking threshold and the sender declared ECN capability.
// Reports whether the packet was changed. Untagged, Not-ECT and already-CE
// packets are left alone.
func MarkCE(p *packet.Packet) bool {
	if !p.ThresholdExceeded {
		return false
	}
	ip, ok := p.IPv4()
	if !ok {
		return false
	}
	tos := ip.TOS()
	ecn := tos & 0x3
	if ecn == ecnNotECT || ecn == ecnCE {
		return false
	}
	// version/ihl and TOS share the first header word.
	word := uint16(ip[0])<<8 | uint16(tos|ecnCE)
	rewriteWord(p.Data, 0, 10, word)
	return true
}

// SetECE sets the TCP ECE flag on p with an incremental TCP checksum
// update. Non-TCP packets and packets already carrying ECE are not changed.
func SetECE(p *packet.Packet) bool {
	tp, ok := p.Transport()
	if !ok || tp.Protocol != packet.ProtoTCP || tp.Flags&packet.FlagECE != 0 {
		return false
	}
	o := tp.Offset
	// data offset and flags share the word at +12; checksum lives at +16.
	word := uint16(p.Data[o+12])<<8 | uint16(tp.Flags|packet.FlagECE)
	rewriteWord(p.Data, o+12, o+16, word)
	return true
}
