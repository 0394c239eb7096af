package eigrp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AllEIGRPRouters = netip.MustParseAddr("224.0.0.10")

	ErrShutdown = errors.New("instance is shut down")
)

const maxRetransmits = 16

// Network sends raw EIGRP packets. Received packets are pushed into the
// instance with Instance.Receive.
type Network interface {
	Send(ifname string, dst netip.Addr, b []byte) error
}

type NextHop struct {
	Addr      netip.Addr // invalid for connected routes
	Interface string
	Distance  Distance
}

type Route struct {
	Prefix   netip.Prefix
	Distance Distance
	External bool
	NextHops []NextHop
}

func (r Route) equal(o Route) bool {
	if r.Prefix != o.Prefix || r.Distance != o.Distance || r.External != o.External || len(r.NextHops) != len(o.NextHops) {
		return false
	}
	for i := range r.NextHops {
		if r.NextHops[i] != o.NextHops[i] {
			return false
		}
	}
	return true
}

// RouteInstaller installs the routes DUAL selects.
type RouteInstaller interface {
	Install(r Route) error
	Withdraw(prefix netip.Prefix) error
}

// Authenticator computes and checks packet digests. keychain is the
// interface's keychain name.
type Authenticator interface {
	// SigningKey returns the ID of the key outbound packets are signed with.
	SigningKey(keychain string) (uint32, error)
	Sign(keychain string, keyID uint32, pkt []byte) ([AuthDigestLen]byte, error)
	Verify(keychain string, keyID uint32, pkt []byte, digest [AuthDigestLen]byte) bool
}

type Options struct {
	Network       Network
	Installer     RouteInstaller
	Authenticator Authenticator
	Logger        *slog.Logger

	// Counters are registered here if it's non-nil.
	Registerer prometheus.Registerer
}

type Instance struct {
	RouterID netip.Addr
	AS       uint16
	VRID     uint16
	K        KValues
	Variance uint8

	activeTime         time.Duration
	retransmitInterval time.Duration

	conf *config.EIGRPConfig

	seq        uint32
	interfaces map[string]*Interface
	topology   *Topology

	// self is the neighbor connected routes are learned from.
	self *Neighbor

	shutdown bool

	net    Network
	rib    RouteInstaller
	auth   Authenticator
	log    *slog.Logger
	stats  *instanceMetrics
	sched  scheduler
	out    *output
	events chan func()
	done   chan struct{}
}

func NewInstance(conf *config.EIGRPConfig, opts Options) (*Instance, error) {
	if conf == nil {
		return nil, fmt.Errorf("no eigrp config provided")
	}

	if opts.Network == nil {
		return nil, fmt.Errorf("eigrp: no network provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	variance := conf.Variance
	if variance == 0 {
		variance = 1
	}

	auth := opts.Authenticator
	if auth == nil && len(conf.Keychains) > 0 {
		auth = NewKeychainAuthenticator(conf.Keychains)
	}

	i := &Instance{
		RouterID: conf.RouterID.Addr(),
		AS:       conf.AS,
		VRID:     conf.VRID,
		K:        KValues(conf.KValues),
		Variance: variance,

		activeTime:         conf.ActiveTime,
		retransmitInterval: conf.RetransmitInterval,

		conf: conf,

		interfaces: make(map[string]*Interface),
		topology:   newTopology(),

		net:    opts.Network,
		rib:    opts.Installer,
		auth:   auth,
		log:    logger.With("as", conf.AS),
		stats:  newInstanceMetrics(opts.Registerer),
		out:    newOutput(),
		events: make(chan func(), 256),
		done:   make(chan struct{}),
	}

	if i.activeTime <= 0 {
		i.activeTime = config.DefaultActiveTime
	}

	if i.retransmitInterval <= 0 {
		i.retransmitInterval = config.DefaultRetransmitInterval
	}

	if i.rib == nil {
		i.rib = discardInstaller{}
	}

	i.self = &Neighbor{
		inst:  i,
		Addr:  i.RouterID,
		State: NeighborUp,
	}

	i.sched = newLoopScheduler(i.post)

	return i, nil
}

type discardInstaller struct{}

func (discardInstaller) Install(Route) error         { return nil }
func (discardInstaller) Withdraw(netip.Prefix) error { return nil }

// Run processes events until ctx is done. On return every timer is cancelled
// and all queues are dropped without sending. Neighbors get a goodbye.
func (i *Instance) Run(ctx context.Context) error {
	defer close(i.done)

	i.log.Info("starting eigrp", "router-id", i.RouterID, "k", i.K)

	for {
		select {
		case <-ctx.Done():
			i.stop()
			i.log.Info("stopped eigrp")
			return nil
		case fn := <-i.events:
			i.do(fn)
		}
	}
}

// do runs fn on the event loop and sends whatever it produced.
func (i *Instance) do(fn func()) {
	if i.shutdown {
		return
	}

	start := time.Now()
	fn()
	i.flush()

	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		i.log.Warn("event took a long time", "elapsed", elapsed, "pending", len(i.events))
	}
}

// post schedules fn to run on the event loop. It never blocks after Run has
// returned.
func (i *Instance) post(fn func()) {
	select {
	case i.events <- fn:
	case <-i.done:
	}
}

// wait runs fn on the event loop and waits for it to complete.
func (i *Instance) wait(ctx context.Context, fn func() error) error {
	ret := make(chan error, 1)

	select {
	case i.events <- func() { ret <- fn() }:
	case <-i.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ret:
		return err
	case <-i.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop tells our neighbors we're leaving and withdraws our routes. Nothing
// queued is sent.
func (i *Instance) stop() {
	for _, iface := range i.sortedInterfaces() {
		if !iface.passive {
			iface.sendGoodbye()
		}
	}

	for _, pe := range i.topology.Entries() {
		if pe.installed == nil {
			continue
		}
		pe.installed = nil
		if err := i.rib.Withdraw(pe.Destination); err != nil {
			i.log.Warn("failed to withdraw route", "prefix", pe.Destination, "error", err)
		}
	}

	i.shutdown = true
	i.sched.stop()

	for _, iface := range i.interfaces {
		for _, n := range iface.neighbors {
			n.retrans.clear()
			n.multicast.clear()
		}
	}

	i.out.reset()
}

func (i *Instance) nextSeq() uint32 {
	i.seq++
	if i.seq == 0 {
		i.seq = 1
	}
	return i.seq
}

// Receive hands a packet read from ifname to the instance. b must not be
// modified afterwards.
func (i *Instance) Receive(ifname string, src netip.Addr, b []byte) {
	i.post(func() {
		i.receive(ifname, src, b)
	})
}

// AddInterface enables EIGRP on ifname if it's configured. prefix is the
// interface's address and mask.
func (i *Instance) AddInterface(ifname string, prefix netip.Prefix, mtu int) {
	i.post(func() {
		i.addInterface(ifname, prefix, mtu)
	})
}

func (i *Instance) RemoveInterface(ifname string) {
	i.post(func() {
		i.removeInterface(ifname)
	})
}

func (i *Instance) ResetNeighbor(ctx context.Context, ifname string, addr netip.Addr) error {
	return i.wait(ctx, func() error {
		iface, ok := i.interfaces[ifname]
		if !ok {
			return fmt.Errorf("eigrp not running on %s", ifname)
		}

		n, ok := iface.neighbors[addr]
		if !ok {
			return fmt.Errorf("no neighbor %s on %s", addr, ifname)
		}

		n.teardown("manual reset")
		return nil
	})
}

func (i *Instance) addInterface(ifname string, prefix netip.Prefix, mtu int) {
	if _, ok := i.interfaces[ifname]; ok {
		return
	}

	ic, ok := i.conf.InterfaceConfig(ifname)
	if !ok {
		return
	}

	if !prefix.Addr().Is4() {
		i.log.Debug("ignoring non-IPv4 interface address", "iface", ifname, "prefix", prefix)
		return
	}

	iface := newInterface(i, ifname, prefix, mtu, ic)
	i.interfaces[ifname] = iface

	iface.log.Info("interface up", "prefix", prefix, "passive", iface.passive)

	iface.start()
	i.connectedUp(iface)
}

func (i *Instance) removeInterface(ifname string) {
	iface, ok := i.interfaces[ifname]
	if !ok {
		return
	}

	iface.log.Info("interface down")

	for _, n := range iface.neighborList() {
		n.teardown("interface down")
	}

	i.sched.cancelOwner(iface)
	delete(i.interfaces, ifname)
	i.out.dropInterface(iface)

	i.connectedDown(iface)
}

// upNeighbors returns every Up neighbor on every interface.
func (i *Instance) upNeighbors() []*Neighbor {
	var ns []*Neighbor
	for _, iface := range i.sortedInterfaces() {
		for _, n := range iface.neighborList() {
			if n.State == NeighborUp {
				ns = append(ns, n)
			}
		}
	}
	return ns
}
