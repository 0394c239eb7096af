package eigrp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		Header: Header{
			Opcode:   OpUpdate,
			Flags:    FlagInit | FlagConditionalReceive,
			Sequence: 12,
			Ack:      9,
			VRID:     0,
			AS:       testAS,
		},
		TLVs: []TLV{
			internal("192.168.0.0/24", 100),
			unreachable("192.168.1.0/24"),
		},
	}

	b := p.Encode()
	require.Len(t, b, p.Len())
	assert.Zero(t, checksum(b), "checksum of a valid packet folds to zero")

	got, err := DecodePacket(b)
	require.NoError(t, err)

	p.Version = Version
	p.Checksum = got.Checksum

	if diff := cmp.Diff(p, got, equateNetip); diff != "" {
		t.Errorf("DecodePacket mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	good := (&Packet{Header: Header{Opcode: OpHello, AS: testAS}}).Encode()

	_, err := DecodePacket(good[:HeaderLen-1])
	assert.ErrorIs(t, err, ErrShortPacket)

	b := append([]byte(nil), good...)
	b[19] ^= 1
	_, err = DecodePacket(b)
	assert.ErrorIs(t, err, ErrChecksum)

	b = append([]byte(nil), good...)
	b[0] = 3
	setChecksum(b)
	_, err = DecodePacket(b)
	assert.ErrorIs(t, err, ErrVersion)

	// Odd lengths checksum as if padded with a zero byte.
	b = append(append([]byte(nil), good...), 0, 0, 0)
	setChecksum(b)
	_, err = DecodePacket(b)
	assert.ErrorIs(t, err, ErrTruncatedTLV)
}

func TestIsAck(t *testing.T) {
	assert.True(t, (&Packet{Header: Header{Opcode: OpHello, Ack: 3}}).IsAck())
	assert.False(t, (&Packet{Header: Header{Opcode: OpHello}}).IsAck())
	assert.False(t, (&Packet{Header: Header{Opcode: OpUpdate, Ack: 3}}).IsAck())
	assert.False(t, (&Packet{
		Header: Header{Opcode: OpHello, Ack: 3},
		TLVs:   []TLV{&ParameterTLV{KValues: DefaultKValues, HoldTime: 15}},
	}).IsAck())
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "0", Flags(0).String())
	assert.Equal(t, "INIT|EOT", (FlagInit | FlagEndOfTable).String())
	assert.Equal(t, "Opcode(42)", Opcode(42).String())
}

func TestAuthOffset(t *testing.T) {
	p := &Packet{
		Header: Header{Opcode: OpHello, AS: testAS},
		TLVs: []TLV{
			&ParameterTLV{KValues: DefaultKValues, HoldTime: 15},
			&AuthTLV{AuthType: AuthTypeMD5, KeyID: 1, KeySequence: 1},
		},
	}

	b := p.Encode()
	assert.Equal(t, HeaderLen+parameterLen, authOffset(b))

	signing := signingBytes(b, authOffset(b))
	assert.Equal(t, make([]byte, 2), signing[2:4])
	assert.Equal(t, b[:2], signing[:2], "signingBytes copies")

	assert.Equal(t, -1, authOffset((&Packet{Header: Header{Opcode: OpHello}}).Encode()))
}

func TestSeqLess(t *testing.T) {
	assert.True(t, seqLess(1, 2))
	assert.False(t, seqLess(2, 2))
	assert.False(t, seqLess(3, 2))
	assert.True(t, seqLess(0xffffffff, 1), "wraps")
}
