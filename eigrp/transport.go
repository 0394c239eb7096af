package eigrp

import (
	"net/netip"
	"time"

	"github.com/davidbalbert/eigrpd/config"
)

// Reliable delivery. Every neighbor has at most one reliable packet in
// flight: either the multicast it hasn't acked yet, or the head of its
// unicast retransmission queue. Packets behind it wait their turn.

// sendUnicast queues a reliable packet for n and returns its sequence number.
func (i *Instance) sendUnicast(n *Neighbor, p *Packet) uint32 {
	p.Sequence = i.nextSeq()
	n.retrans.push(&queuedPacket{pkt: p, dst: n.Addr})
	n.kick()
	return p.Sequence
}

// sendMulticast delivers a reliable packet to every Up neighbor on iface.
// Neighbors that are still waiting on an earlier packet get it unicast, and
// are told to ignore the multicast copy through conditional receive.
func (i *Instance) sendMulticast(iface *Interface, p *Packet) {
	if iface.multicastRefs == 0 {
		return
	}

	var ready, lagging []*Neighbor
	for _, n := range iface.upNeighbors() {
		if n.busy() {
			lagging = append(lagging, n)
		} else {
			ready = append(ready, n)
		}
	}

	p.Sequence = i.nextSeq()

	for _, n := range lagging {
		c := *p
		n.retrans.push(&queuedPacket{pkt: &c, dst: n.Addr})
		n.kick()
	}

	if len(ready) == 0 {
		return
	}

	if len(lagging) > 0 {
		addrs := make([]netip.Addr, len(lagging))
		for j, n := range lagging {
			addrs[j] = n.Addr
		}

		iface.sendHello(&SequenceTLV{Addresses: addrs}, &NextMulticastSequenceTLV{Sequence: p.Sequence})
		p.Flags |= FlagConditionalReceive
	}

	i.transmit(iface, AllEIGRPRouters, p)

	for _, n := range ready {
		n.multicast.push(&queuedPacket{pkt: p, dst: AllEIGRPRouters, sent: true})

		seq := p.Sequence
		i.sched.schedule(timerKey{owner: n, purpose: timerMulticastFlow, seq: seq}, i.multicastFlowInterval(), func() {
			n.multicastFlowTimerFired(seq)
		})
	}
}

func (i *Instance) multicastFlowInterval() time.Duration {
	return i.retransmitInterval
}

// kick transmits the head of the retransmission queue if nothing else is in
// flight.
func (n *Neighbor) kick() {
	if n.multicast.Len() > 0 {
		return
	}

	qp := n.retrans.front()
	if qp == nil || qp.sent {
		return
	}

	qp.sent = true
	n.inst.transmit(n.iface, qp.dst, qp.pkt)
	n.armRetransmit(qp.seq())
}

func (n *Neighbor) armRetransmit(seq uint32) {
	n.inst.sched.schedule(timerKey{owner: n, purpose: timerRetransmit, seq: seq}, n.inst.retransmitInterval, func() {
		n.retransmitTimerFired(seq)
	})
}

// onAck retires the packet with sequence number seq, wherever it is queued.
// Acks for unknown sequence numbers are ignored.
func (n *Neighbor) onAck(seq uint32) {
	if qp := n.multicast.remove(seq); qp != nil {
		n.inst.sched.cancel(timerKey{owner: n, purpose: timerMulticastFlow, seq: seq})
	} else if qp := n.retrans.remove(seq); qp != nil {
		n.inst.sched.cancel(timerKey{owner: n, purpose: timerRetransmit, seq: seq})
	} else {
		return
	}

	n.Retransmits = 0

	if n.State == NeighborPending && seq == n.initSeq {
		n.becomeUp()
	}

	n.kick()
}

// retransmitTimerFired resends an unacknowledged packet, or gives up on the
// neighbor once the packet has been retransmitted maxRetransmits times.
func (n *Neighbor) retransmitTimerFired(seq uint32) {
	qp := n.retrans.get(seq)
	if qp == nil {
		return
	}

	if qp.retransmits >= maxRetransmits {
		n.log.Warn("retransmission limit exceeded", "seq", seq, "retransmits", qp.retransmits)
		n.teardown("retry limit exceeded")
		return
	}

	qp.retransmits++
	n.Retransmits = qp.retransmits
	n.iface.Counters.Retransmits++
	n.inst.stats.retransmits.WithLabelValues(n.iface.Name).Inc()

	n.log.Debug("retransmitting", "seq", seq, "retransmits", qp.retransmits)

	n.inst.transmit(n.iface, qp.dst, qp.pkt)
	n.armRetransmit(seq)
}

// multicastFlowTimerFired moves a multicast packet the neighbor hasn't acked
// onto its unicast retransmission queue. The resend counts as the first
// retransmission.
func (n *Neighbor) multicastFlowTimerFired(seq uint32) {
	qp := n.multicast.remove(seq)
	if qp == nil {
		return
	}

	c := *qp.pkt
	c.Flags &^= FlagConditionalReceive

	uq := &queuedPacket{pkt: &c, dst: n.Addr, sent: true}
	n.retrans.pushFront(uq)

	uq.retransmits = 1
	n.Retransmits = 1
	n.iface.Counters.Retransmits++
	n.inst.stats.retransmits.WithLabelValues(n.iface.Name).Inc()

	n.inst.transmit(n.iface, n.Addr, uq.pkt)
	n.armRetransmit(seq)
}

// transmit encodes p for iface, signs it if the interface is authenticated,
// and hands it to the network.
func (i *Instance) transmit(iface *Interface, dst netip.Addr, p *Packet) {
	if i.shutdown {
		return
	}

	out := *p
	out.AS = i.AS
	out.VRID = i.VRID

	var keyID uint32
	signed := iface.authType == config.AuthMD5 && i.auth != nil
	if signed {
		var err error
		keyID, err = i.auth.SigningKey(iface.keychain)
		if err != nil {
			iface.log.Error("no signing key", "keychain", iface.keychain, "error", err)
			return
		}

		iface.cryptoSeq++
		out.TLVs = append([]TLV{&AuthTLV{
			AuthType:    AuthTypeMD5,
			KeyID:       keyID,
			KeySequence: iface.cryptoSeq,
		}}, p.TLVs...)
	}

	b := out.Encode()

	if signed {
		off := HeaderLen
		digest, err := i.auth.Sign(iface.keychain, keyID, signingBytes(b, off))
		if err != nil {
			iface.log.Error("failed to sign packet", "keychain", iface.keychain, "error", err)
			return
		}
		copy(b[off+digestOffset:], digest[:])
		setChecksum(b)
	}

	if err := i.net.Send(iface.Name, dst, b); err != nil {
		iface.log.Warn("send failed", "dst", dst, "op", p.Opcode, "error", err)
		return
	}

	iface.countOut(&out)
	iface.log.Debug("sent packet", "dst", dst, "header", &out.Header, "tlvs", len(p.TLVs))
}

// authenticate checks the digest of a received packet. Unauthenticated
// interfaces accept everything.
func (i *Instance) authenticate(iface *Interface, src netip.Addr, b []byte, p *Packet) bool {
	if iface.authType == config.AuthNone {
		return true
	}

	a, ok := findTLV[*AuthTLV](p.TLVs)
	if !ok || a.AuthType != AuthTypeMD5 {
		iface.drop(dropAuth, src, "detail", "missing authentication")
		return false
	}

	if i.auth == nil {
		iface.drop(dropAuth, src, "detail", "no authenticator")
		return false
	}

	off := authOffset(b)
	if off < 0 || !i.auth.Verify(iface.keychain, a.KeyID, signingBytes(b, off), a.Digest) {
		iface.drop(dropAuth, src, "detail", "bad digest")
		return false
	}

	if n := iface.neighbors[src]; n != nil {
		if a.KeySequence < n.cryptoSeq {
			iface.drop(dropAuth, src, "detail", "replayed key sequence", "seq", a.KeySequence)
			return false
		}
		n.cryptoSeq = a.KeySequence
	}

	return true
}
