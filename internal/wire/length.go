package wire

import "fmt"

// encodeLength writes n's LENGTH encoding: short-form for n <= 127, long-form
// (0x80|k followed by k big-endian bytes) otherwise.
func encodeLength(n int) []byte {
	if n <= 127 {
		return []byte{byte(n)}
	}
	var be []byte
	for v := n; v > 0; v >>= 8 {
		be = append([]byte{byte(v)}, be...)
	}
	return append([]byte{0x80 | byte(len(be))}, be...)
}

// decodeLengthHeader reads b[0] and reports how many following bytes make up
// the rest of the length field (0 for short-form, whose value is already
// final) plus whether this is long-form.
func decodeLengthHeader(first byte) (longForm bool, followingBytes int) {
	if first&0x80 == 0 {
		return false, 0
	}
	return true, int(first & 0x7F)
}

// decodeLongLength decodes the big-endian length value from the bytes that
// follow a long-form length header byte.
func decodeLongLength(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty long-form length")
	}
	if len(b) > 8 {
		return 0, fmt.Errorf("long-form length field too wide (%d bytes)", len(b))
	}
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	if n > (1<<63 - 1) {
		return 0, fmt.Errorf("length value overflows int")
	}
	return int(n), nil
}
