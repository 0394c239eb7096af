package eigrp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighborBringUp(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	src := addr("10.0.1.2")

	h.net.reset()
	h.hello("eth0", src)

	n := h.iface("eth0").neighbors[src]
	require.NotNil(t, n)
	assert.Equal(t, NeighborPending, n.State)
	assert.Equal(t, 15*time.Second, n.HoldTime)
	assert.Equal(t, softwareVersion, n.Software)
	assert.Equal(t, time.Duration(15*time.Second), h.sched.timers[timerKey{owner: n, purpose: timerHold}].d)

	inits := h.net.find(OpUpdate)
	require.Len(t, inits, 1)
	assert.Equal(t, src, inits[0].dst)
	assert.Equal(t, FlagInit, inits[0].pkt.Flags)
	assert.Equal(t, n.initSeq, inits[0].pkt.Sequence)

	// Their INIT, then their ack of ours.
	h.deliver("eth0", src, &Packet{Header: Header{Opcode: OpUpdate, Flags: FlagInit, Sequence: 1}})
	assert.Equal(t, NeighborPending, n.State)
	assert.Equal(t, []uint32{1}, h.net.acks(src))

	h.net.reset()
	h.ack("eth0", src, n.initSeq)
	assert.Equal(t, NeighborUp, n.State)
	assert.Equal(t, 1, h.iface("eth0").multicastRefs)

	// The full table: just the connected network, with End-of-Table.
	table := h.net.find(OpUpdate)
	require.Len(t, table, 1)
	assert.Equal(t, src, table[0].dst)
	assert.Equal(t, FlagEndOfTable, table[0].pkt.Flags)
	assert.Equal(t, []netip.Prefix{prefix("10.0.1.0/24")}, routesIn(table[0].pkt))
}

func TestKValueMismatch(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	src := addr("10.0.1.2")

	bad := KValues{1, 1, 1, 0, 0, 0}
	h.deliver("eth0", src, &Packet{
		Header: Header{Opcode: OpHello},
		TLVs:   []TLV{&ParameterTLV{KValues: bad, HoldTime: 15}},
	})

	assert.Empty(t, h.iface("eth0").neighbors)
	assert.Equal(t, uint64(1), h.iface("eth0").Counters.Drops[string(dropKMismatch)])

	// An existing adjacency is reset.
	n := h.up("eth0", src)
	h.deliver("eth0", src, &Packet{
		Header: Header{Opcode: OpHello},
		TLVs:   []TLV{&ParameterTLV{KValues: bad, HoldTime: 15}},
	})

	assert.Equal(t, NeighborDown, n.State)
	assert.Empty(t, h.iface("eth0").neighbors)
	assert.Zero(t, h.iface("eth0").multicastRefs)
}

func TestHelloWithoutParameters(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")

	h.deliver("eth0", addr("10.0.1.2"), &Packet{
		Header: Header{Opcode: OpHello},
		TLVs:   []TLV{&softwareVersion},
	})

	assert.Empty(t, h.iface("eth0").neighbors)
	assert.Equal(t, uint64(1), h.iface("eth0").Counters.Drops[string(dropNoParameters)])
}

func TestGoodbye(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	n := h.up("eth0", addr("10.0.1.2"))

	h.send("eth0", n.Addr, OpUpdate, internal("192.168.0.0/24", 100))
	require.Contains(t, h.rib.routes, prefix("192.168.0.0/24"))

	h.deliver("eth0", n.Addr, &Packet{
		Header: Header{Opcode: OpHello},
		TLVs:   []TLV{&ParameterTLV{KValues: goodbyeKValues, HoldTime: 15}},
	})

	assert.Equal(t, NeighborDown, n.State)
	assert.NotContains(t, h.rib.routes, prefix("192.168.0.0/24"))
	assert.Nil(t, h.inst.topology.Get(prefix("192.168.0.0/24")))
}

func TestPeerTermination(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	n := h.up("eth0", addr("10.0.1.2"))

	// Addressed to someone else.
	h.hello("eth0", n.Addr, &PeerTerminationTLV{Addresses: []netip.Addr{addr("10.0.1.3")}})
	assert.Equal(t, NeighborUp, n.State)

	h.hello("eth0", n.Addr, &PeerTerminationTLV{Addresses: []netip.Addr{addr("10.0.1.3"), addr("10.0.1.1")}})
	assert.Equal(t, NeighborDown, n.State)
}

func TestHoldTimerReset(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	n := h.up("eth0", addr("10.0.1.2"))

	hold := timerKey{owner: n, purpose: timerHold}
	delete(h.sched.timers, hold)

	h.send("eth0", n.Addr, OpUpdate, internal("192.168.0.0/24", 100))
	assert.True(t, h.sched.pending(hold), "any valid packet restarts the hold timer")

	require.True(t, h.fire(hold))
	assert.Equal(t, NeighborDown, n.State)
	assert.Nil(t, h.inst.topology.Get(prefix("192.168.0.0/24")))
}

func TestInitFromUpNeighborRestartsIt(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	n := h.up("eth0", addr("10.0.1.2"))

	h.send("eth0", n.Addr, OpUpdate, internal("192.168.0.0/24", 100))
	h.settle()
	oldInit := n.initSeq

	h.net.reset()
	h.deliver("eth0", n.Addr, &Packet{Header: Header{Opcode: OpUpdate, Flags: FlagInit, Sequence: 1}})

	assert.Same(t, n, h.iface("eth0").neighbors[n.Addr])
	assert.Equal(t, NeighborPending, n.State)
	assert.Nil(t, h.inst.topology.Get(prefix("192.168.0.0/24")))
	assert.NotEqual(t, oldInit, n.initSeq)

	var inits int
	for _, u := range h.net.find(OpUpdate) {
		if u.pkt.Flags&FlagInit != 0 && u.dst == n.Addr {
			inits++
		}
	}
	assert.Equal(t, 1, inits)
	assert.Contains(t, h.net.acks(n.Addr), uint32(1))

	h.ack("eth0", n.Addr, n.initSeq)
	assert.Equal(t, NeighborUp, n.State)
}

func TestResetNeighbor(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	n := h.up("eth0", addr("10.0.1.2"))

	h.do(func() { n.teardown("manual reset") })

	assert.Equal(t, NeighborDown, n.State)
	assert.Empty(t, h.sched.ownedBy(n))
	assert.Zero(t, h.iface("eth0").multicastRefs)

	// Teardown is idempotent.
	h.do(func() { n.teardown("again") })
	assert.Zero(t, h.iface("eth0").multicastRefs)
}

func TestPassiveInterfaceIgnoresHellos(t *testing.T) {
	h := newHarness(t)

	ic := testInterfaceConfig()
	ic.Passive = true
	h.conf.Interfaces["eth2"] = ic

	h.net.reset()
	h.addInterface("eth2", "10.0.3.1/24")
	assert.Empty(t, h.net.find(OpHello), "passive interfaces don't send hellos")

	h.hello("eth2", addr("10.0.3.2"))
	assert.Empty(t, h.iface("eth2").neighbors)
	assert.Equal(t, uint64(1), h.iface("eth2").Counters.Drops[string(dropPassive)])

	// The connected network is still part of the table.
	assert.NotNil(t, h.inst.topology.Get(prefix("10.0.3.0/24")))
}

func TestHelloTimer(t *testing.T) {
	h := newHarness(t)
	h.net.reset()
	iface := h.addInterface("eth0", "10.0.1.1/24")

	require.Len(t, h.net.find(OpHello), 1)

	key := timerKey{owner: iface, purpose: timerHello}
	assert.Equal(t, iface.helloInterval, h.sched.timers[key].d)

	require.True(t, h.fire(key))
	hellos := h.net.find(OpHello)
	require.Len(t, hellos, 2)

	params, ok := findTLV[*ParameterTLV](hellos[1].pkt.TLVs)
	require.True(t, ok)
	assert.Equal(t, DefaultKValues, params.KValues)
	assert.Equal(t, uint16(15), params.HoldTime)
	assert.True(t, h.sched.pending(key))
}
