package eigrp

import (
	"crypto/md5"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/eigrpd/common"
	"github.com/stretchr/testify/require"
)

const testAS = 100

type sentPacket struct {
	ifname string
	dst    netip.Addr
	pkt    *Packet
	raw    []byte
}

type fakeNetwork struct {
	sent []sentPacket
	err  error
}

func (f *fakeNetwork) Send(ifname string, dst netip.Addr, b []byte) error {
	if f.err != nil {
		return f.err
	}

	p, err := DecodePacket(b)
	if err != nil {
		return err
	}

	f.sent = append(f.sent, sentPacket{ifname: ifname, dst: dst, pkt: p, raw: b})
	return nil
}

func (f *fakeNetwork) reset() {
	f.sent = nil
}

// find returns every non-ack packet with opcode op.
func (f *fakeNetwork) find(op Opcode) []sentPacket {
	var ps []sentPacket
	for _, s := range f.sent {
		if s.pkt.Opcode == op && !s.pkt.IsAck() {
			ps = append(ps, s)
		}
	}
	return ps
}

func (f *fakeNetwork) acks(dst netip.Addr) []uint32 {
	var seqs []uint32
	for _, s := range f.sent {
		if s.pkt.IsAck() && s.dst == dst {
			seqs = append(seqs, s.pkt.Ack)
		}
	}
	return seqs
}

type manualTimer struct {
	d  time.Duration
	fn func()
}

// manualScheduler only fires timers when a test asks it to.
type manualScheduler struct {
	timers map[timerKey]manualTimer
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{timers: make(map[timerKey]manualTimer)}
}

func (s *manualScheduler) schedule(key timerKey, d time.Duration, fn func()) {
	s.timers[key] = manualTimer{d: d, fn: fn}
}

func (s *manualScheduler) cancel(key timerKey) {
	delete(s.timers, key)
}

func (s *manualScheduler) cancelOwner(owner any) {
	for key := range s.timers {
		if key.owner == owner {
			delete(s.timers, key)
		}
	}
}

func (s *manualScheduler) pending(key timerKey) bool {
	_, ok := s.timers[key]
	return ok
}

func (s *manualScheduler) stop() {
	clear(s.timers)
}

func (s *manualScheduler) ownedBy(owner any) []timerKey {
	var keys []timerKey
	for key := range s.timers {
		if key.owner == owner {
			keys = append(keys, key)
		}
	}
	return keys
}

type fakeRIB struct {
	routes    map[netip.Prefix]Route
	withdrawn []netip.Prefix
}

func newFakeRIB() *fakeRIB {
	return &fakeRIB{routes: make(map[netip.Prefix]Route)}
}

func (r *fakeRIB) Install(route Route) error {
	r.routes[route.Prefix] = route
	return nil
}

func (r *fakeRIB) Withdraw(p netip.Prefix) error {
	delete(r.routes, p)
	r.withdrawn = append(r.withdrawn, p)
	return nil
}

// md5Auth is a keyed MD5 authenticator with a fixed secret per key name.
type md5Auth map[string]string

func (a md5Auth) digest(key string, pkt []byte) [AuthDigestLen]byte {
	h := md5.New()
	io.WriteString(h, a[key])
	h.Write(pkt)

	var d [AuthDigestLen]byte
	copy(d[:], h.Sum(nil))
	return d
}

func (a md5Auth) SigningKey(string) (uint32, error) {
	return 1, nil
}

func (a md5Auth) Sign(key string, _ uint32, pkt []byte) ([AuthDigestLen]byte, error) {
	return a.digest(key, pkt), nil
}

func (a md5Auth) Verify(key string, _ uint32, pkt []byte, digest [AuthDigestLen]byte) bool {
	return a.digest(key, pkt) == digest
}

type harness struct {
	t     *testing.T
	inst  *Instance
	net   *fakeNetwork
	sched *manualScheduler
	rib   *fakeRIB

	conf    *config.EIGRPConfig
	peerSeq map[netip.Addr]uint32
}

func testConfig() *config.EIGRPConfig {
	conf := config.NewEIGRPConfig()
	conf.RouterID = common.RouterIDFromAddr(netip.MustParseAddr("10.255.0.1"))
	conf.AS = testAS
	return conf
}

func testInterfaceConfig() config.EIGRPInterfaceConfig {
	ic := config.NewEIGRPInterfaceConfig()
	ic.HelloInterval = config.DefaultHelloInterval
	ic.HoldTime = config.DefaultHoldTime
	ic.SplitHorizon = true
	return ic
}

func newHarness(t *testing.T, opts ...func(*config.EIGRPConfig, *Options)) *harness {
	t.Helper()

	conf := testConfig()
	for _, name := range []string{"eth0", "eth1"} {
		conf.Interfaces[name] = testInterfaceConfig()
	}

	h := &harness{
		t:       t,
		net:     &fakeNetwork{},
		sched:   newManualScheduler(),
		rib:     newFakeRIB(),
		conf:    conf,
		peerSeq: make(map[netip.Addr]uint32),
	}

	o := Options{
		Network:   h.net,
		Installer: h.rib,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(conf, &o)
	}

	inst, err := NewInstance(conf, o)
	require.NoError(t, err)

	inst.sched = h.sched
	h.inst = inst

	return h
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func prefix(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

func (h *harness) do(fn func()) {
	h.inst.do(fn)
}

func (h *harness) iface(name string) *Interface {
	iface := h.inst.interfaces[name]
	require.NotNil(h.t, iface, "no interface %s", name)
	return iface
}

// addInterface brings up name and gives it a link cost of 10 (delay only), so
// that a route reported with delay d has distance d+10.
func (h *harness) addInterface(name, p string) *Interface {
	h.t.Helper()

	h.do(func() {
		h.inst.addInterface(name, prefix(p), 1500)
	})

	iface := h.iface(name)
	iface.metrics = Metrics{Delay: 10, MTU: 1500, Reliability: 255, Load: 1}
	return iface
}

func (h *harness) deliver(ifname string, src netip.Addr, p *Packet) {
	h.t.Helper()

	if p.AS == 0 {
		p.AS = testAS
	}

	b := p.Encode()
	h.do(func() {
		h.inst.receive(ifname, src, b)
	})
}

func (h *harness) hello(ifname string, src netip.Addr, extra ...TLV) {
	tlvs := []TLV{&ParameterTLV{KValues: DefaultKValues, HoldTime: 15}, &softwareVersion}
	tlvs = append(tlvs, extra...)
	h.deliver(ifname, src, &Packet{Header: Header{Opcode: OpHello}, TLVs: tlvs})
}

func (h *harness) ack(ifname string, src netip.Addr, seq uint32) {
	h.deliver(ifname, src, &Packet{Header: Header{Opcode: OpHello, Ack: seq}})
}

func (h *harness) nextPeerSeq(src netip.Addr) uint32 {
	h.peerSeq[src]++
	return h.peerSeq[src]
}

// send delivers a reliable packet from src carrying routes.
func (h *harness) send(ifname string, src netip.Addr, op Opcode, routes ...RouteData) uint32 {
	h.t.Helper()

	tlvs := make([]TLV, len(routes))
	for j, r := range routes {
		tlvs[j] = r
	}

	seq := h.nextPeerSeq(src)
	h.deliver(ifname, src, &Packet{
		Header: Header{Opcode: op, Sequence: seq},
		TLVs:   tlvs,
	})
	return seq
}

// up runs the whole adjacency bring up with a neighbor at src and acks
// everything we sent it.
func (h *harness) up(ifname string, src netip.Addr) *Neighbor {
	h.t.Helper()

	h.hello(ifname, src)

	n := h.iface(ifname).neighbors[src]
	require.NotNil(h.t, n)
	require.Equal(h.t, NeighborPending, n.State)

	h.ack(ifname, src, n.initSeq)
	require.Equal(h.t, NeighborUp, n.State)

	h.settle()
	h.net.reset()

	return n
}

// settle acks every reliable packet in flight until all neighbors are idle.
func (h *harness) settle() {
	h.t.Helper()

	for range 1000 {
		idle := true
		for _, iface := range h.inst.sortedInterfaces() {
			for _, n := range iface.neighborList() {
				var seq uint32
				if qp := n.multicast.front(); qp != nil {
					seq = qp.seq()
				} else if qp := n.retrans.front(); qp != nil {
					seq = qp.seq()
				} else {
					continue
				}

				idle = false
				h.ack(iface.Name, n.Addr, seq)
			}
		}

		if idle {
			return
		}
	}

	h.t.Fatal("neighbors never settled")
}

// fire runs the timer for key on the event loop. It reports whether the timer
// was pending.
func (h *harness) fire(key timerKey) bool {
	t, ok := h.sched.timers[key]
	if !ok {
		return false
	}

	delete(h.sched.timers, key)
	h.do(t.fn)
	return true
}

func internal(p string, delay uint32) *InternalRoute {
	return &InternalRoute{
		Destination: prefix(p),
		Metrics:     Metrics{Delay: delay, MTU: 1500, Reliability: 255, Load: 1, HopCount: 1},
	}
}

func unreachable(p string) *InternalRoute {
	return &InternalRoute{Destination: prefix(p), Metrics: unreachableMetrics}
}

// routesIn returns the prefixes of the route TLVs in p.
func routesIn(p *Packet) []netip.Prefix {
	var ps []netip.Prefix
	for _, r := range p.routes() {
		ps = append(ps, r.prefix())
	}
	return ps
}
