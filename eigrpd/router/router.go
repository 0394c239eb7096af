// Package router runs an EIGRP instance against the host's interfaces, a raw
// socket and the RIB.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/eigrpd/common"
	"github.com/davidbalbert/eigrpd/eigrpd/services"
	"github.com/davidbalbert/eigrpd/rib"
	"github.com/davidbalbert/eigrpd/system"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

var ErrNotRunning = errors.New("eigrp is not running")

type Router struct {
	conf *config.EIGRPConfig
	m    *services.ServiceManager
	log  *slog.Logger

	inst atomic.Pointer[eigrp.Instance]
}

func New(m *services.ServiceManager, conf any) (services.Runner, error) {
	c, ok := conf.(*config.EIGRPConfig)
	if !ok {
		return nil, fmt.Errorf("eigrp: expected *config.EIGRPConfig, got %T", conf)
	}

	return &Router{
		conf: c,
		m:    m,
		log:  m.Logger().With("service", "eigrp"),
	}, nil
}

// Instance returns the running instance.
func (r *Router) Instance() (*eigrp.Instance, error) {
	inst := r.inst.Load()
	if inst == nil {
		return nil, ErrNotRunning
	}
	return inst, nil
}

func (r *Router) Run(ctx context.Context) error {
	table, err := services.Get[*rib.RIB](ctx, r.m, config.ServiceRIB)
	if err != nil {
		return err
	}

	monitor, err := services.Get[system.InterfaceMonitor](ctx, r.m, config.ServiceInterfaceMonitor)
	if err != nil {
		return err
	}

	conf := r.conf
	if conf.RouterID == 0 {
		id, ok := chooseRouterID(monitor.Interfaces())
		if !ok {
			return fmt.Errorf("eigrp: no router-id configured and no IPv4 address to take one from")
		}

		c := *conf
		c.RouterID = common.RouterIDFromAddr(id)
		conf = &c

		r.log.Info("chose router-id", "router-id", id)
	}

	conn, err := system.ListenIPv4(eigrp.IPProtocol, eigrp.AllEIGRPRouters, r.log)
	if err != nil {
		return err
	}
	defer conn.Close()

	inst, err := eigrp.NewInstance(conf, eigrp.Options{
		Network:    conn,
		Installer:  table,
		Logger:     r.log,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	r.inst.Store(inst)
	defer r.inst.Store(nil)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return inst.Run(ctx)
	})

	g.Go(func() error {
		return conn.Run(ctx, inst.Receive)
	})

	g.Go(func() error {
		l := newLinks(conf, conn, inst, r.log)

		ifaces, seq := monitor.AwaitChange(ctx, -1)
		for ctx.Err() == nil {
			l.sync(ifaces)
			ifaces, seq = monitor.AwaitChange(ctx, seq)
		}

		return nil
	})

	return g.Wait()
}

// chooseRouterID picks the highest IPv4 address, preferring loopbacks.
func chooseRouterID(ifaces []system.Interface) (netip.Addr, bool) {
	var best, bestLoopback netip.Addr

	for _, iface := range ifaces {
		if !iface.Up() {
			continue
		}

		for _, p := range iface.Prefixes {
			a := p.Addr()
			if !a.Is4() || a.IsLoopback() || a.IsLinkLocalUnicast() {
				continue
			}

			if iface.Loopback() {
				if !bestLoopback.IsValid() || bestLoopback.Less(a) {
					bestLoopback = a
				}
			} else if !best.IsValid() || best.Less(a) {
				best = a
			}
		}
	}

	if bestLoopback.IsValid() {
		return bestLoopback, true
	}

	return best, best.IsValid()
}
