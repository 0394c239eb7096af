package router

import (
	"log/slog"
	"net/netip"
	"slices"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/system"
)

type joiner interface {
	Join(ifname string) error
	Leave(ifname string) error
}

type enabler interface {
	AddInterface(ifname string, prefix netip.Prefix, mtu int)
	RemoveInterface(ifname string)
}

type link struct {
	prefix netip.Prefix
	mtu    int
}

// links keeps EIGRP running on exactly the configured interfaces that are up
// and have an IPv4 address.
type links struct {
	conf    *config.EIGRPConfig
	conn    joiner
	inst    enabler
	log     *slog.Logger
	enabled map[string]link
}

func newLinks(conf *config.EIGRPConfig, conn joiner, inst enabler, logger *slog.Logger) *links {
	return &links{
		conf:    conf,
		conn:    conn,
		inst:    inst,
		log:     logger,
		enabled: make(map[string]link),
	}
}

func (l *links) wanted(ifaces []system.Interface) map[string]link {
	want := make(map[string]link)

	for _, iface := range ifaces {
		if _, ok := l.conf.InterfaceConfig(iface.Name); !ok || !iface.Up() {
			continue
		}

		p, ok := iface.PrefixV4()
		if !ok {
			continue
		}

		want[iface.Name] = link{prefix: p, mtu: iface.MTU}
	}

	return want
}

func (l *links) sync(ifaces []system.Interface) {
	want := l.wanted(ifaces)

	var names []string
	for name := range l.enabled {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if w, ok := want[name]; ok && w == l.enabled[name] {
			continue
		}

		l.log.Info("disabling interface", "iface", name)
		l.inst.RemoveInterface(name)
		if err := l.conn.Leave(name); err != nil {
			l.log.Warn("failed to leave group", "iface", name, "error", err)
		}
		delete(l.enabled, name)
	}

	names = names[:0]
	for name := range want {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if _, ok := l.enabled[name]; ok {
			continue
		}

		if err := l.conn.Join(name); err != nil {
			l.log.Warn("failed to join group", "iface", name, "error", err)
			continue
		}

		w := want[name]
		l.log.Info("enabling interface", "iface", name, "prefix", w.prefix, "mtu", w.mtu)
		l.inst.AddInterface(name, w.prefix, w.mtu)
		l.enabled[name] = w
	}
}
