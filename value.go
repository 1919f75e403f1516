package bfrt

import (
	"bytes"
	"encoding/binary"
)

// byteWidth returns the number of bytes holding a field of width bits.
func byteWidth(width uint16) int {
	return (int(width) + 7) / 8
}

// fitValue normalises v to exactly byteWidth(width) big-endian bytes.
// Leading zero bytes are dropped and short values are zero-extended;
// any bit above width is an error.
func fitValue(v []byte, width uint16) ([]byte, error) {
	n := byteWidth(width)
	trimmed := bytes.TrimLeft(v, "\x00")
	if len(trimmed) > n {
		return nil, invalidf("value 0x%x exceeds %d bits", v, width)
	}
	out := make([]byte, n)
	copy(out[n-len(trimmed):], trimmed)
	if spare := n*8 - int(width); spare > 0 && out[0]>>(8-spare) != 0 {
		return nil, invalidf("value 0x%x exceeds %d bits", v, width)
	}
	return out, nil
}

// uintBytes encodes v as a width-bit big-endian value.
func uintBytes(v uint64, width uint16) ([]byte, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return fitValue(buf[:], width)
}

// bytesUint decodes a big-endian value of at most 8 significant bytes.
func bytesUint(b []byte) (uint64, error) {
	trimmed := bytes.TrimLeft(b, "\x00")
	if len(trimmed) > 8 {
		return 0, invalidf("value 0x%x does not fit in 64 bits", b)
	}
	var buf [8]byte
	copy(buf[8-len(trimmed):], trimmed)
	return binary.BigEndian.Uint64(buf[:]), nil
}

// allOnes returns a width-bit value with every bit set.
func allOnes(width uint16) []byte {
	n := byteWidth(width)
	out := bytes.Repeat([]byte{0xff}, n)
	if spare := n*8 - int(width); spare > 0 {
		out[0] >>= spare
	}
	return out
}

// prefixMask returns a width-bit mask with the top prefixLen bits set.
func prefixMask(width, prefixLen uint16) []byte {
	n := byteWidth(width)
	out := make([]byte, n)
	spare := n*8 - int(width)
	for i := 0; i < int(prefixLen); i++ {
		bit := spare + i
		out[bit/8] |= 0x80 >> (bit % 8)
	}
	return out
}

// and returns a&b for equal-length slices.
func and(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] & b[i]
	}
	return out
}
