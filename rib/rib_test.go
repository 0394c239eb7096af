package rib

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func route(p string, d eigrp.Distance) eigrp.Route {
	return eigrp.Route{
		Prefix:   netip.MustParsePrefix(p),
		Distance: d,
		NextHops: []eigrp.NextHop{{Addr: netip.MustParseAddr("10.0.1.2"), Interface: "eth0", Distance: d}},
	}
}

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}

	t.Fatalf("no metric %s", name)
	return 0
}

func newTestRIB(reg prometheus.Registerer) *RIB {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), reg)
}

func TestInstallAndLookup(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newTestRIB(reg)

	require.NoError(t, r.Install(route("10.0.0.0/8", 300)))
	require.NoError(t, r.Install(route("10.1.0.0/16", 200)))
	require.NoError(t, r.Install(route("192.168.0.0/24", 100)))

	got, ok := r.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), got.Prefix)

	got, ok = r.Lookup(netip.MustParseAddr("10.2.0.1"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), got.Prefix)

	_, ok = r.Lookup(netip.MustParseAddr("172.16.0.1"))
	assert.False(t, ok)

	assert.Equal(t, 3.0, gauge(t, reg, "eigrp_rib_routes"))

	require.NoError(t, r.Withdraw(netip.MustParsePrefix("10.1.0.0/16")))
	require.NoError(t, r.Withdraw(netip.MustParsePrefix("10.1.0.0/16")))

	var prefixes []string
	for _, rt := range r.Routes() {
		prefixes = append(prefixes, rt.Prefix.String())
	}
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/24"}, prefixes)
	assert.Equal(t, 2.0, gauge(t, reg, "eigrp_rib_routes"))
}

func TestInstallCopiesNextHops(t *testing.T) {
	r := newTestRIB(nil)

	rt := route("10.0.0.0/8", 300)
	require.NoError(t, r.Install(rt))
	rt.NextHops[0].Interface = "eth9"

	got, ok := r.Lookup(netip.MustParseAddr("10.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, "eth0", got.NextHops[0].Interface)
}

func TestWatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newTestRIB(nil)
	require.NoError(t, r.Install(route("10.0.0.0/8", 300)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evs := make(chan events.RouteEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, func(ev events.RouteEvent) error {
			evs <- ev
			return nil
		})
	}()

	next := func() events.RouteEvent {
		select {
		case ev := <-evs:
			return ev
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return events.RouteEvent{}
		}
	}

	// The current table comes first.
	ev := next()
	assert.Equal(t, events.RouteAdded, ev.Type)
	assert.Equal(t, "10.0.0.0/8", ev.Route.Prefix.String())

	require.Eventually(t, func() bool { return r.notifier.Listeners() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, r.Install(route("10.0.0.0/8", 100)))
	ev = next()
	assert.Equal(t, events.RouteChanged, ev.Type)
	assert.Equal(t, eigrp.Distance(100), ev.Route.Distance)

	require.NoError(t, r.Install(route("192.168.0.0/24", 100)))
	assert.Equal(t, events.RouteAdded, next().Type)

	require.NoError(t, r.Withdraw(netip.MustParsePrefix("10.0.0.0/8")))
	ev = next()
	assert.Equal(t, events.RouteWithdrawn, ev.Type)
	assert.Empty(t, ev.Route.NextHops)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, r.notifier.Listeners())
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()

	r1 := newTestRIB(reg)
	r2 := newTestRIB(reg)
	assert.Same(t, r1.routes, r2.routes)

	require.NoError(t, r2.Install(route("10.0.0.0/8", 1)))
	assert.Equal(t, 1.0, gauge(t, reg, "eigrp_rib_routes"))
}
