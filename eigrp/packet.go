package eigrp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Version   = 2
	HeaderLen = 20

	// IPProtocol is the IP protocol number EIGRP runs over.
	IPProtocol = 88
)

var (
	ErrShortPacket = errors.New("short packet")
	ErrChecksum    = errors.New("checksum mismatch")
	ErrVersion     = errors.New("unsupported version")
)

func checksum(data ...[]byte) uint16 {
	var sum uint32
	for _, d := range data {
		l := len(d)
		for i := 0; i < l; i += 2 {
			if i+1 < l {
				sum += uint32(d[i])<<8 | uint32(d[i+1])
			} else {
				sum += uint32(d[i]) << 8
			}
		}
	}

	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16

	return ^uint16(sum)
}

type Opcode uint8

const (
	OpUpdate   Opcode = 1
	OpRequest  Opcode = 2
	OpQuery    Opcode = 3
	OpReply    Opcode = 4
	OpHello    Opcode = 5
	OpSIAQuery Opcode = 10
	OpSIAReply Opcode = 11
)

func (op Opcode) String() string {
	switch op {
	case OpUpdate:
		return "Update"
	case OpRequest:
		return "Request"
	case OpQuery:
		return "Query"
	case OpReply:
		return "Reply"
	case OpHello:
		return "Hello"
	case OpSIAQuery:
		return "SIA-Query"
	case OpSIAReply:
		return "SIA-Reply"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

type Flags uint32

const (
	FlagInit               Flags = 0x1
	FlagConditionalReceive Flags = 0x2
	FlagRestart            Flags = 0x4
	FlagEndOfTable         Flags = 0x8
)

func (f Flags) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}

	if f&FlagInit != 0 {
		add("INIT")
	}
	if f&FlagConditionalReceive != 0 {
		add("CR")
	}
	if f&FlagRestart != 0 {
		add("RS")
	}
	if f&FlagEndOfTable != 0 {
		add("EOT")
	}
	if s == "" {
		return "0"
	}
	return s
}

type Header struct {
	Version  uint8
	Opcode   Opcode
	Checksum uint16
	Flags    Flags
	Sequence uint32
	Ack      uint32
	VRID     uint16
	AS       uint16
}

func (h *Header) encodeTo(b []byte) {
	b[0] = h.Version
	b[1] = uint8(h.Opcode)
	binary.BigEndian.PutUint16(b[2:4], h.Checksum)
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Flags))
	binary.BigEndian.PutUint32(b[8:12], h.Sequence)
	binary.BigEndian.PutUint32(b[12:16], h.Ack)
	binary.BigEndian.PutUint16(b[16:18], h.VRID)
	binary.BigEndian.PutUint16(b[18:20], h.AS)
}

func (h *Header) String() string {
	return fmt.Sprintf("%s flags=%s seq=%d ack=%d as=%d", h.Opcode, h.Flags, h.Sequence, h.Ack, h.AS)
}

type Packet struct {
	Header
	TLVs []TLV
}

func (p *Packet) Len() int {
	l := HeaderLen
	for _, t := range p.TLVs {
		l += t.Len()
	}
	return l
}

// Encode serializes p and fills in the checksum. The Version field is always
// written as Version.
func (p *Packet) Encode() []byte {
	b := make([]byte, HeaderLen, p.Len())

	h := p.Header
	h.Version = Version
	h.Checksum = 0
	h.encodeTo(b)

	for _, t := range p.TLVs {
		b = appendTLV(b, t)
	}

	setChecksum(b)

	return b
}

func setChecksum(b []byte) {
	binary.BigEndian.PutUint16(b[2:4], 0)
	binary.BigEndian.PutUint16(b[2:4], checksum(b))
}

// IsAck reports whether p is a bare acknowledgment: a Hello with a non-zero
// ack and no TLVs.
func (p *Packet) IsAck() bool {
	return p.Opcode == OpHello && p.Ack != 0 && len(p.TLVs) == 0
}

// DecodePacket verifies the checksum of b before decoding any TLVs.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}

	if checksum(b) != 0 {
		return nil, ErrChecksum
	}

	if b[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, b[0])
	}

	p := &Packet{
		Header: Header{
			Version:  b[0],
			Opcode:   Opcode(b[1]),
			Checksum: binary.BigEndian.Uint16(b[2:4]),
			Flags:    Flags(binary.BigEndian.Uint32(b[4:8])),
			Sequence: binary.BigEndian.Uint32(b[8:12]),
			Ack:      binary.BigEndian.Uint32(b[12:16]),
			VRID:     binary.BigEndian.Uint16(b[16:18]),
			AS:       binary.BigEndian.Uint16(b[18:20]),
		},
	}

	tlvs, err := DecodeTLVs(b[HeaderLen:])
	if err != nil {
		return nil, err
	}
	p.TLVs = tlvs

	return p, nil
}

func findTLV[T TLV](tlvs []TLV) (T, bool) {
	for _, t := range tlvs {
		if v, ok := t.(T); ok {
			return v, true
		}
	}

	var zero T
	return zero, false
}

func (p *Packet) routes() []RouteData {
	var routes []RouteData
	for _, t := range p.TLVs {
		if r, ok := t.(RouteData); ok {
			routes = append(routes, r)
		}
	}
	return routes
}

// authOffset returns the offset of the first Authentication TLV in an encoded
// packet, or -1.
func authOffset(b []byte) int {
	off := HeaderLen
	for off+tlvHeaderLen <= len(b) {
		t := TLVType(binary.BigEndian.Uint16(b[off : off+2]))
		l := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		if l < tlvHeaderLen || off+l > len(b) {
			return -1
		}
		if t == TypeAuthentication {
			return off
		}
		off += l
	}
	return -1
}

// signingBytes returns a copy of b with the checksum and the digest of the
// Authentication TLV at off zeroed. This is what the digest covers.
func signingBytes(b []byte, off int) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	clear(c[2:4])
	clear(c[off+digestOffset : off+digestOffset+AuthDigestLen])
	return c
}
