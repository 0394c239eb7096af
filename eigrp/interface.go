package eigrp

import (
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/davidbalbert/eigrpd/config"
)

const ipv4HeaderLen = 20

var softwareVersion = SoftwareTLV{VendorMajor: 1, VendorMinor: 0, TLVMajor: 2, TLVMinor: 0}

type dropReason string

const (
	dropShort         dropReason = "short"
	dropChecksum      dropReason = "checksum"
	dropVersion       dropReason = "version"
	dropMalformed     dropReason = "malformed-tlv"
	dropASMismatch    dropReason = "as-mismatch"
	dropOffSubnet     dropReason = "off-subnet"
	dropPassive       dropReason = "passive"
	dropAuth          dropReason = "auth"
	dropNoNeighbor    dropReason = "no-neighbor"
	dropKMismatch     dropReason = "k-mismatch"
	dropNoParameters  dropReason = "no-parameters"
	dropCR            dropReason = "conditional-receive"
	dropUnsupported   dropReason = "unsupported-opcode"
	dropUnknownOpcode dropReason = "unknown-opcode"
)

// InterfaceCounters are the per-interface traffic counters.
type InterfaceCounters struct {
	HelloIn    uint64
	UpdateIn   uint64
	QueryIn    uint64
	ReplyIn    uint64
	SIAQueryIn uint64
	SIAReplyIn uint64
	AckIn      uint64

	HelloOut    uint64
	UpdateOut   uint64
	QueryOut    uint64
	ReplyOut    uint64
	SIAQueryOut uint64
	SIAReplyOut uint64
	AckOut      uint64

	Retransmits uint64
	Drops       map[string]uint64
}

func (c *InterfaceCounters) clone() InterfaceCounters {
	cc := *c
	cc.Drops = make(map[string]uint64, len(c.Drops))
	for k, v := range c.Drops {
		cc.Drops[k] = v
	}
	return cc
}

type Interface struct {
	Name   string
	Prefix netip.Prefix // interface address and mask
	MTU    int

	helloInterval time.Duration
	holdTime      time.Duration
	passive       bool
	splitHorizon  bool
	networkType   config.NetworkType
	authType      config.AuthType
	keychain      string
	metrics       Metrics

	neighbors map[netip.Addr]*Neighbor

	// multicastRefs counts the Up neighbors that multicast packets reach.
	multicastRefs int
	cryptoSeq     uint32

	Counters InterfaceCounters

	inst *Instance
	log  *slog.Logger
}

func newInterface(inst *Instance, name string, prefix netip.Prefix, mtu int, ic config.EIGRPInterfaceConfig) *Interface {
	if ic.MTU != 0 && (mtu == 0 || int(ic.MTU) < mtu) {
		mtu = int(ic.MTU)
	}
	if mtu == 0 {
		mtu = config.DefaultMTU
	}

	helloInterval := ic.HelloInterval
	if helloInterval == 0 {
		helloInterval = config.DefaultHelloInterval
	}

	holdTime := ic.HoldTime
	if holdTime == 0 {
		holdTime = config.DefaultHoldTime
	}

	return &Interface{
		Name:   name,
		Prefix: prefix,
		MTU:    mtu,

		helloInterval: helloInterval,
		holdTime:      holdTime,
		passive:       ic.Passive,
		splitHorizon:  ic.SplitHorizon,
		networkType:   ic.NetworkType,
		authType:      ic.AuthType,
		keychain:      ic.Keychain,
		metrics:       LinkMetrics(ic.Bandwidth, ic.Delay, ic.Reliability, ic.Load, uint32(mtu)),

		neighbors: make(map[netip.Addr]*Neighbor),
		Counters:  InterfaceCounters{Drops: make(map[string]uint64)},

		inst: inst,
		log:  inst.log.With("iface", name),
	}
}

func (iface *Interface) Addr() netip.Addr {
	return iface.Prefix.Addr()
}

func (iface *Interface) String() string {
	return iface.Name
}

func (iface *Interface) start() {
	if iface.passive {
		return
	}

	iface.helloTimerFired()
}

func (iface *Interface) helloTimerFired() {
	iface.sendHello()
	iface.inst.sched.schedule(timerKey{owner: iface, purpose: timerHello}, iface.helloInterval, iface.helloTimerFired)
}

func (iface *Interface) parameters(k KValues) *ParameterTLV {
	return &ParameterTLV{KValues: k, HoldTime: uint16(iface.holdTime / time.Second)}
}

func (iface *Interface) sendHello(extra ...TLV) {
	tlvs := []TLV{iface.parameters(iface.inst.K), &softwareVersion}
	tlvs = append(tlvs, extra...)

	iface.inst.transmit(iface, AllEIGRPRouters, &Packet{
		Header: Header{Opcode: OpHello},
		TLVs:   tlvs,
	})
}

// sendGoodbye tells every neighbor on iface that we're going away.
func (iface *Interface) sendGoodbye() {
	iface.inst.transmit(iface, AllEIGRPRouters, &Packet{
		Header: Header{Opcode: OpHello},
		TLVs:   []TLV{iface.parameters(goodbyeKValues), &softwareVersion},
	})
}

// sendPeerTermination tells the listed neighbors to drop their adjacency
// with us while everyone else keeps theirs.
func (iface *Interface) sendPeerTermination(addrs ...netip.Addr) {
	iface.sendHello(&PeerTerminationTLV{Addresses: addrs})
}

// neighborList returns the neighbors on iface ordered by address.
func (iface *Interface) neighborList() []*Neighbor {
	ns := make([]*Neighbor, 0, len(iface.neighbors))
	for _, n := range iface.neighbors {
		ns = append(ns, n)
	}
	slices.SortFunc(ns, func(a, b *Neighbor) int {
		return a.Addr.Compare(b.Addr)
	})
	return ns
}

func (iface *Interface) upNeighbors() []*Neighbor {
	var ns []*Neighbor
	for _, n := range iface.neighborList() {
		if n.State == NeighborUp {
			ns = append(ns, n)
		}
	}
	return ns
}

// maxRouteBytes is how many bytes of TLVs fit in one packet on iface.
func (iface *Interface) maxRouteBytes() int {
	n := iface.MTU - ipv4HeaderLen - HeaderLen
	if iface.authType != config.AuthNone {
		n -= authLen
	}
	return n
}

func (iface *Interface) countIn(p *Packet) {
	c := &iface.Counters
	switch p.Opcode {
	case OpHello:
		if p.IsAck() {
			c.AckIn++
		} else {
			c.HelloIn++
		}
	case OpUpdate:
		c.UpdateIn++
	case OpQuery:
		c.QueryIn++
	case OpReply:
		c.ReplyIn++
	case OpSIAQuery:
		c.SIAQueryIn++
	case OpSIAReply:
		c.SIAReplyIn++
	}

	iface.inst.stats.packetsIn.WithLabelValues(iface.Name, opcodeLabel(p)).Inc()
}

func (iface *Interface) countOut(p *Packet) {
	c := &iface.Counters
	switch p.Opcode {
	case OpHello:
		if p.IsAck() {
			c.AckOut++
		} else {
			c.HelloOut++
		}
	case OpUpdate:
		c.UpdateOut++
	case OpQuery:
		c.QueryOut++
	case OpReply:
		c.ReplyOut++
	case OpSIAQuery:
		c.SIAQueryOut++
	case OpSIAReply:
		c.SIAReplyOut++
	}

	iface.inst.stats.packetsOut.WithLabelValues(iface.Name, opcodeLabel(p)).Inc()
}

func opcodeLabel(p *Packet) string {
	if p.IsAck() {
		return "Ack"
	}
	return p.Opcode.String()
}

func (iface *Interface) drop(reason dropReason, src netip.Addr, args ...any) {
	iface.Counters.Drops[string(reason)]++
	iface.inst.stats.drops.WithLabelValues(iface.Name, string(reason)).Inc()

	args = append([]any{"src", src, "reason", reason}, args...)
	iface.log.Debug("dropped packet", args...)
}
