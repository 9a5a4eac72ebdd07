// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: checksum.go — RFC 1624 incremental checksum update
//
// Purpose:
//   - Rewrites one 16-bit header word and patches the covering checksum
//     without re-summing the header or segment.
//
// Notes:
//   - HC' = ~(~HC + ~m + m'), folded to 16 bits.
//   - Words are addressed by byte offset; offsets must be even relative to
//     the start of the checksummed region.
// ─────────────────────────────────────────────────────────────────────────────

package congestion

import "encoding/binary"

// UpdateChecksum returns the checksum after word old changed to new.
//
//go:nosplit
//go:inline
func UpdateChecksum(hc, old, new uint16) uint16 {
	sum := uint32(^hc) + uint32(^old) + uint32(new)
	sum = sum&0xffff + sum>>16
	sum = sum&0xffff + sum>>16
	return ^uint16(sum)
}

// rewriteWord stores new at b[word:word+2] and patches the checksum at
// b[csum:csum+2].
func rewriteWord(b []byte, word, csum int, new uint16) {
	old := binary.BigEndian.Uint16(b[word : word+2])
	if old == new {
		return
	}
	binary.BigEndian.PutUint16(b[word:word+2], new)
	hc := binary.BigEndian.Uint16(b[csum : csum+2])
	binary.BigEndian.PutUint16(b[csum:csum+2], UpdateChecksum(hc, old, new))
}
