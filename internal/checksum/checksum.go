// Package checksum implements the RFC 1071 Internet checksum.
//
// Words are read in network byte order. An odd trailing byte is the high-order
// byte of a final word whose low-order byte is zero. Because the one's-complement
// sum is byte-order independent, storing the result big-endian yields the same
// octets a native-order implementation would produce on any host.
package checksum

// Sum adds b to the running 32-bit accumulator initial without folding.
// It lets a caller chain a pseudo-header and a segment into one checksum.
func Sum(initial uint32, b []byte) uint32 {
	sum := initial
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

// Fold adds the upper 16 bits of sum into the lower 16 bits twice, the
// second pass absorbing the carry produced by the first.
func Fold(sum uint32) uint16 {
	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16
	return uint16(sum)
}

// Checksum returns the one's complement of the folded sum of b.
// The checksum field inside b must be zero when called; Checksum does not check it.
func Checksum(b []byte) uint16 {
	return ^Fold(Sum(0, b))
}

// Valid reports whether b, including its stored checksum, sums to 0xffff.
func Valid(b []byte) bool {
	return Fold(Sum(0, b)) == 0xffff
}
