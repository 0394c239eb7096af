package eigrp

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type NeighborState int

const (
	NeighborDown NeighborState = iota
	NeighborPending
	NeighborUp
)

func (s NeighborState) String() string {
	switch s {
	case NeighborDown:
		return "Down"
	case NeighborPending:
		return "Pending"
	case NeighborUp:
		return "Up"
	default:
		return "Unknown"
	}
}

type Neighbor struct {
	Addr     netip.Addr
	State    NeighborState
	HoldTime time.Duration
	K        KValues
	Software SoftwareTLV

	// Sequence number of the last reliable packet accepted from the neighbor,
	// and of the INIT Update we sent it.
	lastSeq uint32
	initSeq uint32

	// Retransmissions of the packet currently in flight.
	Retransmits int

	cryptoSeq uint32

	retrans   *packetQueue
	multicast *packetQueue

	// Conditional receive window. Maps a multicast sequence number announced
	// in a Hello to whether we should accept the CR packet carrying it.
	crWindow *ttlcache.Cache[uint32, bool]

	created time.Time
	upSince time.Time

	iface *Interface
	inst  *Instance
	log   *slog.Logger
}

func newNeighbor(iface *Interface, addr netip.Addr, params *ParameterTLV) *Neighbor {
	holdTime := time.Duration(params.HoldTime) * time.Second

	return &Neighbor{
		Addr:     addr,
		State:    NeighborPending,
		HoldTime: holdTime,
		K:        params.KValues,

		retrans:   newPacketQueue(),
		multicast: newPacketQueue(),
		crWindow: ttlcache.New[uint32, bool](
			ttlcache.WithTTL[uint32, bool](holdTime),
			ttlcache.WithDisableTouchOnHit[uint32, bool](),
		),

		created: time.Now(),

		iface: iface,
		inst:  iface.inst,
		log:   iface.log.With("neighbor", addr),
	}
}

func (n *Neighbor) String() string {
	if n.isSelf() {
		return "self"
	}
	return n.Addr.String() + "%" + n.iface.Name
}

// isSelf reports whether n is the instance's own neighbor, which owns
// connected routes.
func (n *Neighbor) isSelf() bool {
	return n.iface == nil
}

// busy reports whether n has reliable packets that are not yet acknowledged.
func (n *Neighbor) busy() bool {
	return n.retrans.Len() > 0 || n.multicast.Len() > 0
}

func (n *Neighbor) setState(s NeighborState) {
	if n.State == s {
		return
	}

	old := n.State
	n.State = s

	if old == NeighborUp {
		n.iface.multicastRefs--
	}
	if s == NeighborUp {
		n.iface.multicastRefs++
		n.upSince = time.Now()
	}

	n.inst.stats.neighborChanges.WithLabelValues(n.iface.Name, s.String()).Inc()
	n.log.Info("neighbor state change", "from", old, "to", s)
}

func (n *Neighbor) resetHold() {
	n.inst.sched.schedule(timerKey{owner: n, purpose: timerHold}, n.HoldTime, func() {
		n.teardown("hold time expired")
	})
}

// sendInit starts the initial update exchange.
func (n *Neighbor) sendInit() {
	n.initSeq = n.inst.sendUnicast(n, &Packet{
		Header: Header{Opcode: OpUpdate, Flags: FlagInit},
	})
}

func (n *Neighbor) becomeUp() {
	n.setState(NeighborUp)
	n.inst.sendFullTable(n)
}

// restart handles an INIT from a neighbor we considered Up. The neighbor has
// lost its state, so everything we learned from it is gone.
func (n *Neighbor) restart() {
	n.log.Info("neighbor restarted")

	n.inst.sched.cancelOwner(n)
	n.retrans.clear()
	n.multicast.clear()
	n.Retransmits = 0
	n.inst.out.dropNeighbor(n)

	n.setState(NeighborPending)
	n.inst.neighborDown(n)

	n.resetHold()
	n.sendInit()
}

// teardown moves n to Down and forgets it. Every timer owned by n is
// cancelled and its queues are dropped.
func (n *Neighbor) teardown(reason string) {
	if n.State == NeighborDown {
		return
	}

	n.log.Info("neighbor down", "reason", reason, "state", n.State)

	n.inst.sched.cancelOwner(n)
	n.retrans.clear()
	n.multicast.clear()
	n.crWindow.DeleteAll()
	n.inst.out.dropNeighbor(n)

	n.setState(NeighborDown)
	delete(n.iface.neighbors, n.Addr)

	n.inst.neighborDown(n)
}

// acceptSequenced runs the receive side of reliable transport for p. It
// returns false if p must not be processed further.
func (n *Neighbor) acceptSequenced(p *Packet) bool {
	if p.Sequence == 0 {
		return true
	}

	if p.Flags&FlagConditionalReceive != 0 {
		item := n.crWindow.Get(p.Sequence)
		if item == nil || !item.Value() {
			n.iface.drop(dropCR, n.Addr, "seq", p.Sequence)
			return false
		}
		n.crWindow.Delete(p.Sequence)
	}

	if p.Opcode == OpUpdate && p.Flags&FlagInit != 0 {
		if n.State == NeighborUp {
			n.restart()
		}
		n.lastSeq = 0
	}

	if n.lastSeq != 0 && !seqLess(n.lastSeq, p.Sequence) {
		n.log.Debug("duplicate packet", "seq", p.Sequence, "last", n.lastSeq)
		n.sendAck(p.Sequence)
		return false
	}

	n.lastSeq = p.Sequence
	n.sendAck(p.Sequence)

	return true
}

func (n *Neighbor) sendAck(seq uint32) {
	n.inst.transmit(n.iface, n.Addr, &Packet{
		Header: Header{Opcode: OpHello, Ack: seq},
	})
}

// receiveHello handles a Hello that isn't a bare ack.
func (i *Instance) receiveHello(iface *Interface, src netip.Addr, p *Packet) {
	n := iface.neighbors[src]

	params, ok := findTLV[*ParameterTLV](p.TLVs)
	if !ok {
		iface.drop(dropNoParameters, src)
		return
	}

	if params.KValues.isGoodbye() {
		if n != nil {
			n.teardown("goodbye received")
		}
		return
	}

	if pt, ok := findTLV[*PeerTerminationTLV](p.TLVs); ok && pt.contains(iface.Addr()) {
		if n != nil {
			n.teardown("peer termination received")
		}
		return
	}

	if !params.KValues.Equal(i.K) {
		iface.drop(dropKMismatch, src, "theirs", params.KValues, "ours", i.K)
		iface.log.Warn("K-value mismatch", "neighbor", src, "theirs", params.KValues, "ours", i.K)
		if n != nil {
			n.teardown("K-value mismatch")
		}
		return
	}

	if n == nil {
		if params.HoldTime == 0 {
			iface.drop(dropNoParameters, src, "hold-time", 0)
			return
		}

		n = newNeighbor(iface, src, params)
		iface.neighbors[src] = n
		n.log.Info("new neighbor", "hold-time", n.HoldTime)
		n.inst.stats.neighborChanges.WithLabelValues(iface.Name, NeighborPending.String()).Inc()

		n.resetHold()
		n.sendInit()
	} else if params.HoldTime != 0 {
		n.HoldTime = time.Duration(params.HoldTime) * time.Second
	}

	if sw, ok := findTLV[*SoftwareTLV](p.TLVs); ok {
		n.Software = *sw
	}

	if nms, ok := findTLV[*NextMulticastSequenceTLV](p.TLVs); ok {
		excluded := false
		if seq, ok := findTLV[*SequenceTLV](p.TLVs); ok {
			excluded = seq.contains(iface.Addr())
		}
		n.crWindow.DeleteExpired()
		n.crWindow.Set(nms.Sequence, !excluded, ttlcache.DefaultTTL)
	}

	n.resetHold()
}
