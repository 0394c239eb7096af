package eigrp

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/eigrpd/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

type frame struct {
	src netip.Addr
	b   []byte
}

// wire is one direction of a point to point link. Like a real network it
// drops packets when it's congested.
type wire struct {
	src netip.Addr
	ch  chan frame
}

func newWire(src string) *wire {
	return &wire{src: addr(src), ch: make(chan frame, 1024)}
}

func (w *wire) Send(ifname string, dst netip.Addr, b []byte) error {
	select {
	case w.ch <- frame{src: w.src, b: append([]byte(nil), b...)}:
	default:
	}
	return nil
}

// pump delivers everything sent on w to ifname on inst.
func (w *wire) pump(ctx context.Context, inst *Instance, ifname string) error {
	for {
		select {
		case f := <-w.ch:
			inst.Receive(ifname, f.src, f.b)
		case <-ctx.Done():
			return nil
		}
	}
}

func liveInstance(t *testing.T, routerID string, net Network, reg prometheus.Registerer) *Instance {
	t.Helper()

	conf := config.NewEIGRPConfig()
	conf.RouterID = common.RouterIDFromAddr(addr(routerID))
	conf.AS = testAS
	conf.RetransmitInterval = 50 * time.Millisecond

	for _, name := range []string{"eth0", "eth1"} {
		ic := config.NewEIGRPInterfaceConfig()
		ic.HelloInterval = 100 * time.Millisecond
		ic.HoldTime = 3 * time.Second
		ic.SplitHorizon = true
		conf.Interfaces[name] = ic
	}

	inst, err := NewInstance(conf, Options{
		Network:    net,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: reg,
	})
	require.NoError(t, err)

	return inst
}

func findPrefix(infos []PrefixInfo, p netip.Prefix) *PrefixInfo {
	for i := range infos {
		if infos[i].Prefix == p {
			return &infos[i]
		}
	}
	return nil
}

func TestTwoRouters(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ab := newWire("10.0.1.1")
	ba := newWire("10.0.1.2")

	reg := prometheus.NewRegistry()
	a := liveInstance(t, "10.255.0.1", ab, reg)
	b := liveInstance(t, "10.255.0.2", ba, nil)

	actx, stopA := context.WithCancel(ctx)
	defer stopA()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(actx) })
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return ab.pump(gctx, b, "eth0") })
	g.Go(func() error { return ba.pump(gctx, a, "eth0") })

	a.AddInterface("eth0", prefix("10.0.1.1/24"), 1500)
	a.AddInterface("eth1", prefix("192.168.10.1/24"), 1500)
	b.AddInterface("eth0", prefix("10.0.1.2/24"), 1500)

	stub := prefix("192.168.10.0/24")

	require.Eventually(t, func() bool {
		top, err := b.Topology(ctx)
		if err != nil {
			return false
		}
		pi := findPrefix(top, stub)
		return pi != nil && pi.State == Passive && len(pi.Entries) == 1 && pi.Entries[0].Successor
	}, 5*time.Second, 10*time.Millisecond)

	top, err := b.Topology(ctx)
	require.NoError(t, err)
	pi := findPrefix(top, stub)
	assert.Equal(t, RouteInternal, pi.Type)
	assert.Equal(t, addr("10.0.1.1"), pi.Entries[0].Neighbor)
	assert.Equal(t, "eth0", pi.Entries[0].Interface)
	assert.Equal(t, uint8(1), pi.Entries[0].Metrics.HopCount)

	// B's connected network beats the copy A reports.
	link := findPrefix(top, prefix("10.0.1.0/24"))
	require.NotNil(t, link)
	assert.Equal(t, RouteConnected, link.Type)

	ns, err := a.Neighbors(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, addr("10.0.1.2"), ns[0].Addr)
	assert.Equal(t, NeighborUp, ns[0].State)
	assert.Equal(t, 3*time.Second, ns[0].HoldTime)

	ifaces, err := a.Interfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.Equal(t, 1, ifaces[0].Neighbors)
	assert.NotZero(t, ifaces[0].Counters.HelloOut)

	// The stub network goes away.
	a.RemoveInterface("eth1")

	require.Eventually(t, func() bool {
		top, err := b.Topology(ctx)
		return err == nil && findPrefix(top, stub) == nil
	}, 5*time.Second, 10*time.Millisecond)

	// A shuts down and says goodbye.
	stopA()

	require.Eventually(t, func() bool {
		ns, err := b.Neighbors(ctx)
		return err == nil && len(ns) == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = a.Topology(ctx)
	assert.ErrorIs(t, err, ErrShutdown)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "eigrp_packets_sent_total")
	assert.Contains(t, names, "eigrp_neighbor_state_changes_total")

	cancel()
	require.NoError(t, g.Wait())
}

func TestResetNeighborRPC(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ab := newWire("10.0.1.1")
	ba := newWire("10.0.1.2")
	a := liveInstance(t, "10.255.0.1", ab, nil)
	b := liveInstance(t, "10.255.0.2", ba, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return ab.pump(gctx, b, "eth0") })
	g.Go(func() error { return ba.pump(gctx, a, "eth0") })

	a.AddInterface("eth0", prefix("10.0.1.1/24"), 1500)
	b.AddInterface("eth0", prefix("10.0.1.2/24"), 1500)

	up := func() bool {
		ns, err := a.Neighbors(ctx)
		return err == nil && len(ns) == 1 && ns[0].State == NeighborUp
	}
	require.Eventually(t, up, 5*time.Second, 10*time.Millisecond)

	assert.Error(t, a.ResetNeighbor(ctx, "eth9", addr("10.0.1.2")))
	assert.Error(t, a.ResetNeighbor(ctx, "eth0", addr("10.0.1.3")))
	require.NoError(t, a.ResetNeighbor(ctx, "eth0", addr("10.0.1.2")))

	// The next hello brings it back.
	require.Eventually(t, up, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
}

func TestNewInstanceErrors(t *testing.T) {
	_, err := NewInstance(nil, Options{Network: &fakeNetwork{}})
	assert.Error(t, err)

	_, err = NewInstance(testConfig(), Options{})
	assert.Error(t, err)
}

func TestDoAfterShutdown(t *testing.T) {
	h := newHarness(t)
	h.addInterface("eth0", "10.0.1.1/24")
	h.up("eth0", addr("10.0.1.2"))

	h.do(h.inst.stop)

	ran := false
	h.do(func() { ran = true })
	assert.False(t, ran)
}
