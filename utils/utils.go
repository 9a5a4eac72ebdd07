package utils

///////////////////////////////////////////////////////////////////////////////
// Integer Formatting — Append-Style, No fmt
///////////////////////////////////////////////////////////////////////////////

// AppendInt appends the decimal form of v to dst.
//
//go:nosplit
//go:inline
func AppendInt(dst []byte, v int) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return append(dst, tmp[i:]...)
}

// Itoa formats v in base 10. Cold-path helper for log messages.
func Itoa(v int) string {
	var buf [21]byte
	return string(AppendInt(buf[:0], v))
}

///////////////////////////////////////////////////////////////////////////////
// Label Builders — Circuit Mappings
///////////////////////////////////////////////////////////////////////////////

// JoinInts renders vs joined by sep, e.g. JoinInts([]int{1,-1,0}, '/') is
// "1/-1/0".
func JoinInts(vs []int, sep byte) string {
	buf := make([]byte, 0, len(vs)*3)
	for i, v := range vs {
		if i > 0 {
			buf = append(buf, sep)
		}
		buf = AppendInt(buf, v)
	}
	return string(buf)
}
