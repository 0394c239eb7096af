package common

import (
	"encoding/binary"
	"net/netip"
)

type RouterID uint32

func RouterIDFromAddr(addr netip.Addr) RouterID {
	if !addr.Is4() {
		return 0
	}
	b := addr.As4()
	return RouterID(binary.BigEndian.Uint32(b[:]))
}

func (r RouterID) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(r))
	return netip.AddrFrom4(b)
}

func (r RouterID) String() string {
	return r.Addr().String()
}
