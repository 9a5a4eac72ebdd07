package packet

import "encoding/binary"

// Template describes a synthetic datagram for tests and traffic generators.
type Template struct {
	Src, Dst         [4]byte
	Protocol         uint8 // ProtoTCP or ProtoUDP
	SrcPort, DstPort uint16
	Seq              uint32
	Flags            uint8
	TOS              uint8
	Payload          int
}

// Build assembles an IPv4 datagram with valid header and transport
// checksums. TCP headers carry no options.
func Build(s Template) *Packet {
	thl := 8
	if s.Protocol == ProtoTCP {
		thl = 20
	}
	total := 20 + thl + s.Payload
	b := make([]byte, total)

	b[0] = 0x45
	b[1] = s.TOS
	binary.BigEndian.PutUint16(b[2:4], uint16(total))
	b[8] = 64
	b[9] = s.Protocol
	copy(b[12:16], s.Src[:])
	copy(b[16:20], s.Dst[:])
	binary.BigEndian.PutUint16(b[10:12], Checksum(b[:20], 0))

	t := b[20:]
	binary.BigEndian.PutUint16(t[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(t[2:4], s.DstPort)
	for i := 0; i < s.Payload; i++ {
		t[thl+i] = byte(i)
	}
	switch s.Protocol {
	case ProtoTCP:
		binary.BigEndian.PutUint32(t[4:8], s.Seq)
		t[12] = 5 << 4
		t[13] = s.Flags
		binary.BigEndian.PutUint16(t[14:16], 65535)
		binary.BigEndian.PutUint16(t[16:18], Checksum(t, pseudoHeaderSum(s.Src, s.Dst, ProtoTCP, len(t))))
	case ProtoUDP:
		binary.BigEndian.PutUint16(t[4:6], uint16(len(t)))
		binary.BigEndian.PutUint16(t[6:8], Checksum(t, pseudoHeaderSum(s.Src, s.Dst, ProtoUDP, len(t))))
	}
	return New(b)
}
