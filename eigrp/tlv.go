package eigrp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/netip"
)

var (
	ErrTruncatedTLV = errors.New("truncated TLV")
	ErrMalformedTLV = errors.New("malformed TLV")
)

type TLVType uint16

const (
	TypeParameter             TLVType = 0x0001
	TypeAuthentication        TLVType = 0x0002
	TypeSequence              TLVType = 0x0003
	TypeSoftwareVersion       TLVType = 0x0004
	TypeNextMulticastSequence TLVType = 0x0005
	TypePeerTermination       TLVType = 0x0007
	TypeIPv4Internal          TLVType = 0x0102
	TypeIPv4External          TLVType = 0x0103
)

func (t TLVType) String() string {
	switch t {
	case TypeParameter:
		return "Parameter"
	case TypeAuthentication:
		return "Authentication"
	case TypeSequence:
		return "Sequence"
	case TypeSoftwareVersion:
		return "Software Version"
	case TypeNextMulticastSequence:
		return "Next Multicast Sequence"
	case TypePeerTermination:
		return "Peer Termination"
	case TypeIPv4Internal:
		return "IPv4 Internal Route"
	case TypeIPv4External:
		return "IPv4 External Route"
	default:
		return fmt.Sprintf("Unknown(0x%04x)", uint16(t))
	}
}

const (
	tlvHeaderLen   = 4
	metricsLen     = 16
	parameterLen   = tlvHeaderLen + 8
	softwareLen    = tlvHeaderLen + 4
	nmsLen         = tlvHeaderLen + 4
	AuthDigestLen  = 16
	authLen        = tlvHeaderLen + 2 + 2 + 4 + 4 + 8 + AuthDigestLen
	internalFixed  = tlvHeaderLen + 4 + metricsLen + 1
	externalFixed  = tlvHeaderLen + 4 + 4 + 4 + 4 + 4 + 2 + 1 + 1 + metricsLen + 1
	AuthTypeNone   = 0
	AuthTypeMD5    = 2
	maxIPv4PrefLen = 32
)

type TLV interface {
	Type() TLVType

	// Len is the encoded length, including the 4 byte type and length header.
	Len() int
	encodeTo(b []byte)
}

func putTLVHeader(b []byte, t TLV) {
	binary.BigEndian.PutUint16(b[0:2], uint16(t.Type()))
	binary.BigEndian.PutUint16(b[2:4], uint16(t.Len()))
}

func EncodeTLV(t TLV) []byte {
	b := make([]byte, t.Len())
	t.encodeTo(b)
	return b
}

func appendTLV(dst []byte, t TLV) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, t.Len())...)
	t.encodeTo(dst[off:])
	return dst
}

// Parameter

type ParameterTLV struct {
	KValues  KValues
	HoldTime uint16
}

func (p *ParameterTLV) Type() TLVType { return TypeParameter }
func (p *ParameterTLV) Len() int      { return parameterLen }

func (p *ParameterTLV) encodeTo(b []byte) {
	putTLVHeader(b, p)
	copy(b[4:10], p.KValues[:])
	binary.BigEndian.PutUint16(b[10:12], p.HoldTime)
}

// Authentication. The digest is only carried here; computing and checking it
// is the Authenticator's job.

type AuthTLV struct {
	AuthType    uint16
	KeyID       uint32
	KeySequence uint32
	Digest      [AuthDigestLen]byte
}

func (a *AuthTLV) Type() TLVType { return TypeAuthentication }
func (a *AuthTLV) Len() int      { return authLen }

func (a *AuthTLV) encodeTo(b []byte) {
	putTLVHeader(b, a)
	binary.BigEndian.PutUint16(b[4:6], a.AuthType)
	binary.BigEndian.PutUint16(b[6:8], AuthDigestLen)
	binary.BigEndian.PutUint32(b[8:12], a.KeyID)
	binary.BigEndian.PutUint32(b[12:16], a.KeySequence)
	clear(b[16:24])
	copy(b[24:40], a.Digest[:])
}

// digestOffset is the offset of the digest within an encoded AuthTLV.
const digestOffset = 24

// Sequence

type SequenceTLV struct {
	Addresses []netip.Addr
}

func (s *SequenceTLV) Type() TLVType { return TypeSequence }

// Invalid addresses in Addresses are not encoded.
func (s *SequenceTLV) Len() int {
	l := tlvHeaderLen
	for _, addr := range s.Addresses {
		if addr.IsValid() {
			l += 1 + addr.BitLen()/8
		}
	}
	return l
}

func (s *SequenceTLV) encodeTo(b []byte) {
	putTLVHeader(b, s)
	off := tlvHeaderLen
	for _, addr := range s.Addresses {
		if !addr.IsValid() {
			continue
		}
		a := addr.AsSlice()
		b[off] = uint8(len(a))
		copy(b[off+1:], a)
		off += 1 + len(a)
	}
}

func (s *SequenceTLV) contains(addr netip.Addr) bool {
	for _, a := range s.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Software version

type SoftwareTLV struct {
	VendorMajor uint8
	VendorMinor uint8
	TLVMajor    uint8
	TLVMinor    uint8
}

func (s *SoftwareTLV) Type() TLVType { return TypeSoftwareVersion }
func (s *SoftwareTLV) Len() int      { return softwareLen }

func (s *SoftwareTLV) encodeTo(b []byte) {
	putTLVHeader(b, s)
	b[4] = s.VendorMajor
	b[5] = s.VendorMinor
	b[6] = s.TLVMajor
	b[7] = s.TLVMinor
}

// Next multicast sequence

type NextMulticastSequenceTLV struct {
	Sequence uint32
}

func (n *NextMulticastSequenceTLV) Type() TLVType { return TypeNextMulticastSequence }
func (n *NextMulticastSequenceTLV) Len() int      { return nmsLen }

func (n *NextMulticastSequenceTLV) encodeTo(b []byte) {
	putTLVHeader(b, n)
	binary.BigEndian.PutUint32(b[4:8], n.Sequence)
}

// Peer termination lists neighbors that the sender is dropping while it keeps
// running, so each listed neighbor treats the Hello as a goodbye.

type PeerTerminationTLV struct {
	Addresses []netip.Addr
}

const peerTerminationFixed = tlvHeaderLen + 1

func (p *PeerTerminationTLV) Type() TLVType { return TypePeerTermination }
func (p *PeerTerminationTLV) Len() int      { return peerTerminationFixed + 4*len(p.Addresses) }

func (p *PeerTerminationTLV) encodeTo(b []byte) {
	putTLVHeader(b, p)
	b[4] = 0
	for i, addr := range p.Addresses {
		copy(b[peerTerminationFixed+4*i:], to4(addr))
	}
}

func (p *PeerTerminationTLV) contains(addr netip.Addr) bool {
	for _, a := range p.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Routes

// RouteData is the route payload of an FSM message. It is either an
// *InternalRoute or an *ExternalRoute.
type RouteData interface {
	TLV
	prefix() netip.Prefix
	metrics() Metrics
	withMetrics(m Metrics) RouteData
}

type InternalRoute struct {
	NextHop     netip.Addr
	Metrics     Metrics
	Destination netip.Prefix
}

func (r *InternalRoute) Type() TLVType { return TypeIPv4Internal }
func (r *InternalRoute) Len() int      { return internalFixed + destinationLen(r.Destination.Bits()) }

func (r *InternalRoute) encodeTo(b []byte) {
	putTLVHeader(b, r)
	copy(b[4:8], to4(nextHopOrZero(r.NextHop)))
	encodeMetrics(b[8:24], r.Metrics)
	encodeDestination(b[24:], r.Destination)
}

func (r *InternalRoute) prefix() netip.Prefix { return r.Destination }
func (r *InternalRoute) metrics() Metrics     { return r.Metrics }

func (r *InternalRoute) withMetrics(m Metrics) RouteData {
	c := *r
	c.Metrics = m
	return &c
}

type ExternalRoute struct {
	NextHop           netip.Addr
	OriginatingRouter netip.Addr
	OriginatingAS     uint32
	AdminTag          uint32
	ExternalMetric    uint32
	ExternalProtocol  uint8
	ExternalFlags     uint8
	Metrics           Metrics
	Destination       netip.Prefix
}

func (r *ExternalRoute) Type() TLVType { return TypeIPv4External }
func (r *ExternalRoute) Len() int      { return externalFixed + destinationLen(r.Destination.Bits()) }

func (r *ExternalRoute) encodeTo(b []byte) {
	putTLVHeader(b, r)
	copy(b[4:8], to4(nextHopOrZero(r.NextHop)))
	copy(b[8:12], to4(nextHopOrZero(r.OriginatingRouter)))
	binary.BigEndian.PutUint32(b[12:16], r.OriginatingAS)
	binary.BigEndian.PutUint32(b[16:20], r.AdminTag)
	binary.BigEndian.PutUint32(b[20:24], r.ExternalMetric)
	clear(b[24:26])
	b[26] = r.ExternalProtocol
	b[27] = r.ExternalFlags
	encodeMetrics(b[28:44], r.Metrics)
	encodeDestination(b[44:], r.Destination)
}

func (r *ExternalRoute) prefix() netip.Prefix { return r.Destination }
func (r *ExternalRoute) metrics() Metrics     { return r.Metrics }

func (r *ExternalRoute) withMetrics(m Metrics) RouteData {
	c := *r
	c.Metrics = m
	return &c
}

// Unknown TLVs are kept as is so they can be inspected or forwarded.

type UnknownTLV struct {
	Code  TLVType
	Value []byte
}

// maxUnknownValue is the longest Value that fits the 16 bit TLV length.
const maxUnknownValue = math.MaxUint16 - tlvHeaderLen

func (u *UnknownTLV) Type() TLVType { return u.Code }

// Len truncates Value to maxUnknownValue bytes, as does encodeTo.
func (u *UnknownTLV) Len() int { return tlvHeaderLen + min(len(u.Value), maxUnknownValue) }

func (u *UnknownTLV) encodeTo(b []byte) {
	putTLVHeader(b, u)
	copy(b[4:u.Len()], u.Value)
}

func nextHopOrZero(addr netip.Addr) netip.Addr {
	if !addr.IsValid() {
		return netip.IPv4Unspecified()
	}
	return addr
}

func destinationLen(bits int) int {
	return max(1, (bits+7)/8)
}

func encodeMetrics(b []byte, m Metrics) {
	binary.BigEndian.PutUint32(b[0:4], m.Delay)
	binary.BigEndian.PutUint32(b[4:8], m.Bandwidth)
	b[8] = uint8(m.MTU >> 16)
	b[9] = uint8(m.MTU >> 8)
	b[10] = uint8(m.MTU)
	b[11] = m.HopCount
	b[12] = m.Reliability
	b[13] = m.Load
	b[14] = m.Tag
	b[15] = m.Flags
}

func decodeMetrics(b []byte) Metrics {
	return Metrics{
		Delay:       binary.BigEndian.Uint32(b[0:4]),
		Bandwidth:   binary.BigEndian.Uint32(b[4:8]),
		MTU:         uint32(b[8])<<16 | uint32(b[9])<<8 | uint32(b[10]),
		HopCount:    b[11],
		Reliability: b[12],
		Load:        b[13],
		Tag:         b[14],
		Flags:       b[15],
	}
}

func encodeDestination(b []byte, p netip.Prefix) {
	bits := p.Bits()
	b[0] = uint8(bits)
	addr := p.Masked().Addr().As4()
	n := destinationLen(bits)
	copy(b[1:1+n], addr[:n])
}

// decodeDestination decodes a prefix length and destination that must fill
// b exactly.
func decodeDestination(b []byte) (netip.Prefix, error) {
	bits := int(b[0])
	if bits > maxIPv4PrefLen {
		return netip.Prefix{}, fmt.Errorf("%w: prefix length %d", ErrMalformedTLV, bits)
	}

	n := destinationLen(bits)
	if len(b)-1 != n {
		return netip.Prefix{}, fmt.Errorf("%w: /%d destination needs %d bytes, got %d", ErrMalformedTLV, bits, n, len(b)-1)
	}

	var a [4]byte
	copy(a[:], b[1:1+n])

	return netip.PrefixFrom(netip.AddrFrom4(a), bits).Masked(), nil
}

func addrFrom4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte(b[:4]))
}

// optionalAddr4 decodes an address field where 0.0.0.0 means unset, the
// inverse of nextHopOrZero.
func optionalAddr4(b []byte) netip.Addr {
	addr := addrFrom4(b)
	if addr.IsUnspecified() {
		return netip.Addr{}
	}
	return addr
}

// DecodeTLV decodes the TLV at the start of b and returns it along with the
// number of bytes consumed.
func DecodeTLV(b []byte) (TLV, int, error) {
	if len(b) < tlvHeaderLen {
		return nil, 0, fmt.Errorf("%w: %d bytes left, need a %d byte header", ErrTruncatedTLV, len(b), tlvHeaderLen)
	}

	t := TLVType(binary.BigEndian.Uint16(b[0:2]))
	l := int(binary.BigEndian.Uint16(b[2:4]))

	if l < tlvHeaderLen {
		return nil, 0, fmt.Errorf("%w: %s length %d", ErrMalformedTLV, t, l)
	}

	if l > len(b) {
		return nil, 0, fmt.Errorf("%w: %s declares %d bytes, %d left", ErrTruncatedTLV, t, l, len(b))
	}

	v := b[:l]

	fixed := func(want int) error {
		if l != want {
			return fmt.Errorf("%w: %s length %d, want %d", ErrMalformedTLV, t, l, want)
		}
		return nil
	}

	atLeast := func(want int) error {
		if l < want {
			return fmt.Errorf("%w: %s length %d, want at least %d", ErrMalformedTLV, t, l, want)
		}
		return nil
	}

	switch t {
	case TypeParameter:
		if err := fixed(parameterLen); err != nil {
			return nil, 0, err
		}

		var p ParameterTLV
		copy(p.KValues[:], v[4:10])
		p.HoldTime = binary.BigEndian.Uint16(v[10:12])

		return &p, l, nil
	case TypeAuthentication:
		if err := fixed(authLen); err != nil {
			return nil, 0, err
		}

		if dl := binary.BigEndian.Uint16(v[6:8]); dl != AuthDigestLen {
			return nil, 0, fmt.Errorf("%w: digest length %d, want %d", ErrMalformedTLV, dl, AuthDigestLen)
		}

		var a AuthTLV
		a.AuthType = binary.BigEndian.Uint16(v[4:6])
		a.KeyID = binary.BigEndian.Uint32(v[8:12])
		a.KeySequence = binary.BigEndian.Uint32(v[12:16])
		copy(a.Digest[:], v[24:40])

		return &a, l, nil
	case TypeSequence:
		var s SequenceTLV

		for off := tlvHeaderLen; off < l; {
			n := int(v[off])
			if n != 4 && n != 16 {
				return nil, 0, fmt.Errorf("%w: sequence address length %d", ErrMalformedTLV, n)
			}

			if off+1+n > l {
				return nil, 0, fmt.Errorf("%w: sequence address overruns TLV", ErrMalformedTLV)
			}

			addr, _ := netip.AddrFromSlice(v[off+1 : off+1+n])
			s.Addresses = append(s.Addresses, addr)
			off += 1 + n
		}

		return &s, l, nil
	case TypeSoftwareVersion:
		if err := fixed(softwareLen); err != nil {
			return nil, 0, err
		}

		return &SoftwareTLV{
			VendorMajor: v[4],
			VendorMinor: v[5],
			TLVMajor:    v[6],
			TLVMinor:    v[7],
		}, l, nil
	case TypeNextMulticastSequence:
		if err := fixed(nmsLen); err != nil {
			return nil, 0, err
		}

		return &NextMulticastSequenceTLV{Sequence: binary.BigEndian.Uint32(v[4:8])}, l, nil
	case TypePeerTermination:
		if err := atLeast(peerTerminationFixed); err != nil {
			return nil, 0, err
		}

		if (l-peerTerminationFixed)%4 != 0 {
			return nil, 0, fmt.Errorf("%w: peer termination length %d", ErrMalformedTLV, l)
		}

		var p PeerTerminationTLV
		for off := peerTerminationFixed; off < l; off += 4 {
			p.Addresses = append(p.Addresses, addrFrom4(v[off:off+4]))
		}

		return &p, l, nil
	case TypeIPv4Internal:
		if err := atLeast(internalFixed + 1); err != nil {
			return nil, 0, err
		}

		dst, err := decodeDestination(v[internalFixed-1:])
		if err != nil {
			return nil, 0, err
		}

		return &InternalRoute{
			NextHop:     optionalAddr4(v[4:8]),
			Metrics:     decodeMetrics(v[8:24]),
			Destination: dst,
		}, l, nil
	case TypeIPv4External:
		if err := atLeast(externalFixed + 1); err != nil {
			return nil, 0, err
		}

		dst, err := decodeDestination(v[externalFixed-1:])
		if err != nil {
			return nil, 0, err
		}

		return &ExternalRoute{
			NextHop:           optionalAddr4(v[4:8]),
			OriginatingRouter: optionalAddr4(v[8:12]),
			OriginatingAS:     binary.BigEndian.Uint32(v[12:16]),
			AdminTag:          binary.BigEndian.Uint32(v[16:20]),
			ExternalMetric:    binary.BigEndian.Uint32(v[20:24]),
			ExternalProtocol:  v[26],
			ExternalFlags:     v[27],
			Metrics:           decodeMetrics(v[28:44]),
			Destination:       dst,
		}, l, nil
	default:
		value := make([]byte, l-tlvHeaderLen)
		copy(value, v[tlvHeaderLen:])

		return &UnknownTLV{Code: t, Value: value}, l, nil
	}
}

// DecodeTLVs decodes TLVs until b is exhausted.
func DecodeTLVs(b []byte) ([]TLV, error) {
	var tlvs []TLV

	for len(b) > 0 {
		t, n, err := DecodeTLV(b)
		if err != nil {
			return nil, err
		}

		tlvs = append(tlvs, t)
		b = b[n:]
	}

	return tlvs, nil
}
