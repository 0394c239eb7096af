package eigrp

import (
	"errors"
	"net/netip"

	"github.com/davidbalbert/eigrpd/config"
)

// receive is the entry point for every packet read off the network.
func (i *Instance) receive(ifname string, src netip.Addr, b []byte) {
	iface, ok := i.interfaces[ifname]
	if !ok {
		return
	}

	// Our own multicasts looped back.
	if src == iface.Addr() {
		return
	}

	p, err := DecodePacket(b)
	if err != nil {
		iface.drop(decodeDropReason(err), src, "error", err)
		if !errors.Is(err, ErrChecksum) {
			iface.log.Warn("malformed packet", "src", src, "error", err)
		}
		return
	}

	if iface.passive {
		iface.drop(dropPassive, src)
		return
	}

	if iface.networkType != config.NetworkPointToPoint && !iface.Prefix.Contains(src) {
		iface.drop(dropOffSubnet, src)
		return
	}

	if p.AS != i.AS || p.VRID != i.VRID {
		iface.drop(dropASMismatch, src, "as", p.AS, "vrid", p.VRID)
		return
	}

	if !i.authenticate(iface, src, b, p) {
		return
	}

	iface.countIn(p)
	iface.log.Debug("received packet", "src", src, "header", &p.Header, "tlvs", len(p.TLVs))

	i.handlePacket(iface, src, p)
}

func decodeDropReason(err error) dropReason {
	switch {
	case errors.Is(err, ErrShortPacket):
		return dropShort
	case errors.Is(err, ErrChecksum):
		return dropChecksum
	case errors.Is(err, ErrVersion):
		return dropVersion
	default:
		return dropMalformed
	}
}

// handlePacket routes a valid packet to the neighbor manager, the transport,
// or DUAL.
func (i *Instance) handlePacket(iface *Interface, src netip.Addr, p *Packet) {
	switch p.Opcode {
	case OpHello, OpUpdate, OpQuery, OpReply, OpSIAQuery, OpSIAReply:
	case OpRequest:
		iface.drop(dropUnsupported, src, "opcode", p.Opcode)
		return
	default:
		iface.drop(dropUnknownOpcode, src, "opcode", p.Opcode)
		iface.log.Warn("unknown opcode", "src", src, "opcode", uint8(p.Opcode))
		return
	}

	if p.Opcode == OpHello && !p.IsAck() {
		i.receiveHello(iface, src, p)
		return
	}

	n := iface.neighbors[src]
	if n == nil {
		iface.drop(dropNoNeighbor, src, "opcode", p.Opcode)
		return
	}

	n.resetHold()

	if p.Ack != 0 {
		n.onAck(p.Ack)
	}

	if p.Opcode == OpHello {
		return
	}

	if !n.acceptSequenced(p) {
		return
	}

	for _, m := range i.messages(n, p) {
		i.runFSM(m)

		// A message can tear the neighbor down, e.g. by resetting it.
		if n.State == NeighborDown {
			return
		}
	}
}

// messages builds one FSM message per route in p.
func (i *Instance) messages(n *Neighbor, p *Packet) []*FSMMessage {
	routes := p.routes()

	msgs := make([]*FSMMessage, 0, len(routes))
	for _, r := range routes {
		msgs = append(msgs, &FSMMessage{
			Opcode:   p.Opcode,
			Instance: i,
			Neighbor: n,
			Route:    r,
		})
	}

	return msgs
}
