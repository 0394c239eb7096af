package eigrp

import (
	"net/netip"

	"golang.org/x/exp/constraints"
)

func satAdd[T constraints.Unsigned](a, b T) T {
	if c := a + b; c >= a {
		return c
	}

	return ^T(0)
}

func to4(addr netip.Addr) []byte {
	b := addr.As4()
	return b[:]
}

// seqLess compares 32 bit sequence numbers using serial number arithmetic.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
