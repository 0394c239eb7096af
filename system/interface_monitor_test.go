package system

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeLister struct {
	mu     sync.Mutex
	ifaces []Interface
	err    error
}

func (f *fakeLister) list() ([]Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ifaces, f.err
}

func (f *fakeLister) set(ifaces []Interface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ifaces = ifaces
}

func eth0(prefixes ...string) Interface {
	iface := Interface{Name: "eth0", Index: 2, MTU: 1500, Flags: net.FlagUp | net.FlagMulticast}
	for _, p := range prefixes {
		iface.Prefixes = append(iface.Prefixes, netip.MustParsePrefix(p))
	}
	return iface
}

func TestBaseInterfaceMonitor(t *testing.T) {
	l := &fakeLister{ifaces: []Interface{eth0("10.0.1.1/24")}}
	m, err := newBaseInterfaceMonitor(l.list, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Equal(t, []Interface{eth0("10.0.1.1/24")}, m.Interfaces())

	// Unchanged lists don't notify.
	l.ifaces = []Interface{eth0("10.0.1.1/24")}
	require.NoError(t, m.refresh())
	_, seq := m.LastChange()
	assert.Equal(t, int64(0), seq)

	l.ifaces = []Interface{eth0("10.0.1.1/24", "2001:db8::1/64")}
	require.NoError(t, m.refresh())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ifaces, seq := m.AwaitChange(ctx, 0)
	assert.Equal(t, int64(1), seq)
	require.Len(t, ifaces, 1)
	assert.Len(t, ifaces[0].Prefixes, 2)

	l.err = errors.New("boom")
	assert.Error(t, m.refresh())
	_, seq = m.LastChange()
	assert.Equal(t, int64(1), seq)
}

func TestBaseInterfaceMonitorInitialError(t *testing.T) {
	l := &fakeLister{err: errors.New("boom")}
	_, err := newBaseInterfaceMonitor(l.list, slog.Default())
	assert.Error(t, err)
}

func TestInterfaceAccessors(t *testing.T) {
	iface := eth0("2001:db8::1/64", "10.0.1.1/24", "10.0.2.1/24")

	assert.True(t, iface.Up())
	assert.True(t, iface.Multicast())
	assert.False(t, iface.Loopback())

	p, ok := iface.PrefixV4()
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.1/24"), p)

	_, ok = eth0("2001:db8::1/64").PrefixV4()
	assert.False(t, ok)
}

func TestPrefixFromSTDNetAddr(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("10.0.1.0/24")
	require.NoError(t, err)
	ipnet.IP = net.ParseIP("10.0.1.7").To4()

	p, ok := prefixFromSTDNetAddr(ipnet)
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.7/24"), p)

	_, ok = prefixFromSTDNetAddr(&net.IPAddr{IP: net.ParseIP("10.0.1.7")})
	assert.False(t, ok)
}

func TestWatchDebounces(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &fakeLister{ifaces: []Interface{eth0("10.0.1.1/24")}}
	m, err := newBaseInterfaceMonitor(l.list, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	kicks := make(chan struct{})
	done := make(chan error)
	go func() { done <- m.watch(ctx, kicks, 20*time.Millisecond) }()

	l.set([]Interface{eth0("10.0.1.1/24", "10.0.2.1/24")})
	for range 3 {
		kicks <- struct{}{}
	}

	actx, acancel := context.WithTimeout(ctx, time.Second)
	defer acancel()
	ifaces, seq := m.AwaitChange(actx, 0)
	assert.Equal(t, int64(1), seq)
	assert.Len(t, ifaces[0].Prefixes, 2)

	// A closed kick channel leaves the loop waiting on ctx.
	close(kicks)

	cancel()
	require.NoError(t, <-done)

	_, seq = m.LastChange()
	assert.Equal(t, int64(1), seq)
}
