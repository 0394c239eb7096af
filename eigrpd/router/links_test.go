package router

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	fail  map[string]bool
}

func (r *recorder) Join(ifname string) error {
	if r.fail[ifname] {
		return errors.New("no such device")
	}
	r.calls = append(r.calls, "join "+ifname)
	return nil
}

func (r *recorder) Leave(ifname string) error {
	r.calls = append(r.calls, "leave "+ifname)
	return nil
}

func (r *recorder) AddInterface(ifname string, prefix netip.Prefix, mtu int) {
	r.calls = append(r.calls, fmt.Sprintf("add %s %s %d", ifname, prefix, mtu))
}

func (r *recorder) RemoveInterface(ifname string) {
	r.calls = append(r.calls, "remove "+ifname)
}

func (r *recorder) take() []string {
	c := r.calls
	r.calls = nil
	return c
}

func sysIface(name string, up bool, prefixes ...string) system.Interface {
	iface := system.Interface{Name: name, MTU: 1500, Flags: net.FlagMulticast}
	if up {
		iface.Flags |= net.FlagUp
	}
	for _, p := range prefixes {
		iface.Prefixes = append(iface.Prefixes, netip.MustParsePrefix(p))
	}
	return iface
}

func TestLinksSync(t *testing.T) {
	conf := config.NewEIGRPConfig()
	conf.AS = 1
	conf.Interfaces["eth0"] = config.NewEIGRPInterfaceConfig()
	conf.Interfaces["eth1"] = config.NewEIGRPInterfaceConfig()

	r := &recorder{}
	l := newLinks(conf, r, r, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.sync([]system.Interface{
		sysIface("eth0", true, "10.0.1.1/24"),
		sysIface("eth1", false, "10.0.2.1/24"),
		sysIface("eth2", true, "10.0.3.1/24"),
	})
	assert.Equal(t, []string{"join eth0", "add eth0 10.0.1.1/24 1500"}, r.take())

	// Nothing changed.
	l.sync([]system.Interface{
		sysIface("eth0", true, "10.0.1.1/24"),
		sysIface("eth1", false, "10.0.2.1/24"),
	})
	assert.Empty(t, r.take())

	// eth1 comes up, eth0 is renumbered.
	l.sync([]system.Interface{
		sysIface("eth0", true, "10.0.9.1/24"),
		sysIface("eth1", true, "10.0.2.1/24"),
	})
	assert.Equal(t, []string{
		"remove eth0",
		"leave eth0",
		"join eth0",
		"add eth0 10.0.9.1/24 1500",
		"join eth1",
		"add eth1 10.0.2.1/24 1500",
	}, r.take())

	// eth1 loses its IPv4 address, eth0 goes away.
	l.sync([]system.Interface{
		sysIface("eth1", true, "2001:db8::1/64"),
	})
	assert.Equal(t, []string{"remove eth0", "leave eth0", "remove eth1", "leave eth1"}, r.take())
	assert.Empty(t, l.enabled)
}

func TestLinksJoinFailure(t *testing.T) {
	conf := config.NewEIGRPConfig()
	conf.Interfaces["eth0"] = config.NewEIGRPInterfaceConfig()

	r := &recorder{fail: map[string]bool{"eth0": true}}
	l := newLinks(conf, r, r, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.sync([]system.Interface{sysIface("eth0", true, "10.0.1.1/24")})
	assert.Empty(t, r.take())

	// Retried on the next change.
	r.fail = nil
	l.sync([]system.Interface{sysIface("eth0", true, "10.0.1.1/24")})
	assert.Equal(t, []string{"join eth0", "add eth0 10.0.1.1/24 1500"}, r.take())
}

func TestChooseRouterID(t *testing.T) {
	lo := sysIface("lo", true, "127.0.0.1/8")
	lo.Flags |= net.FlagLoopback

	id, ok := chooseRouterID([]system.Interface{
		lo,
		sysIface("eth0", true, "10.0.1.1/24", "fe80::1/64"),
		sysIface("eth1", true, "10.0.2.1/24"),
		sysIface("eth2", false, "192.168.0.1/24"),
	})
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.2.1"), id)

	lo1 := sysIface("lo1", true, "10.255.0.1/32")
	lo1.Flags |= net.FlagLoopback

	id, ok = chooseRouterID([]system.Interface{sysIface("eth1", true, "10.0.2.1/24"), lo1})
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.255.0.1"), id)

	_, ok = chooseRouterID([]system.Interface{lo})
	assert.False(t, ok)
}
