package rib

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"slices"

	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/eigrpd/services"
	"github.com/davidbalbert/eigrpd/events"
	"github.com/davidbalbert/eigrpd/sync"
	"github.com/gaissmai/bart"
	"github.com/prometheus/client_golang/prometheus"
	"go4.org/netipx"
)

// RIB holds the routes EIGRP has selected and tells watchers about changes.
// It doesn't program the kernel.
type RIB struct {
	st       chan *bart.Table[eigrp.Route]
	notifier *sync.QueuedNotifier[events.RouteEvent]
	log      *slog.Logger
	routes   prometheus.Gauge
}

func New(logger *slog.Logger, reg prometheus.Registerer) *RIB {
	if logger == nil {
		logger = slog.Default()
	}

	st := make(chan *bart.Table[eigrp.Route], 1)
	st <- new(bart.Table[eigrp.Route])

	r := &RIB{
		st:       st,
		notifier: sync.NewQueuedNotifier[events.RouteEvent](),
		log:      logger.With("service", "rib"),
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eigrp",
			Name:      "rib_routes",
			Help:      "Number of installed routes.",
		}),
	}

	if reg != nil {
		if err := reg.Register(r.routes); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				r.log.Warn("failed to register metrics", "error", err)
			} else if g, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				r.routes = g
			}
		}
	}

	return r
}

// NewService builds the RIB service.
func NewService(m *services.ServiceManager, conf any) (services.Runner, error) {
	return New(m.Logger(), prometheus.DefaultRegisterer), nil
}

func (r *RIB) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *RIB) Install(route eigrp.Route) error {
	route.NextHops = slices.Clone(route.NextHops)

	r.notifier.NotifyChangeFunc(func() []events.RouteEvent {
		t := <-r.st
		defer func() { r.st <- t }()

		typ := events.RouteAdded
		if _, ok := t.Get(route.Prefix); ok {
			typ = events.RouteChanged
		}

		t.Insert(route.Prefix, route)
		r.routes.Set(float64(t.Size()))
		r.log.Info("installed route", "prefix", route.Prefix, "distance", route.Distance, "next-hops", len(route.NextHops))

		return []events.RouteEvent{{Type: typ, Route: route}}
	})

	return nil
}

func (r *RIB) Withdraw(prefix netip.Prefix) error {
	r.notifier.NotifyChangeFunc(func() []events.RouteEvent {
		t := <-r.st
		defer func() { r.st <- t }()

		if _, ok := t.Get(prefix); !ok {
			return nil
		}

		t.Delete(prefix)
		r.routes.Set(float64(t.Size()))
		r.log.Info("withdrew route", "prefix", prefix)

		return []events.RouteEvent{{Type: events.RouteWithdrawn, Route: eigrp.Route{Prefix: prefix}}}
	})

	return nil
}

// Lookup returns the longest matching route for addr.
func (r *RIB) Lookup(addr netip.Addr) (eigrp.Route, bool) {
	t := <-r.st
	defer func() { r.st <- t }()

	return t.Lookup(addr)
}

// Routes returns every route in prefix order.
func (r *RIB) Routes() []eigrp.Route {
	t := <-r.st
	defer func() { r.st <- t }()

	return sortedRoutes(t)
}

func sortedRoutes(t *bart.Table[eigrp.Route]) []eigrp.Route {
	var routes []eigrp.Route
	for _, route := range t.All() {
		routes = append(routes, route)
	}

	slices.SortFunc(routes, func(a, b eigrp.Route) int {
		return netipx.ComparePrefix(a.Prefix, b.Prefix)
	})

	return routes
}

// Watch calls fn with every current route as RouteAdded and then with each
// change, until ctx is done or fn returns an error.
func (r *RIB) Watch(ctx context.Context, fn func(events.RouteEvent) error) error {
	token := r.notifier.Register(func() []events.RouteEvent {
		t := <-r.st
		defer func() { r.st <- t }()

		var evs []events.RouteEvent
		for _, route := range sortedRoutes(t) {
			evs = append(evs, events.RouteEvent{Type: events.RouteAdded, Route: route})
		}
		return evs
	})
	defer r.notifier.Unregister(token)

	for {
		ev, ok := r.notifier.AwaitChange(ctx, token)
		if !ok {
			return ctx.Err()
		}

		if err := fn(ev); err != nil {
			return err
		}
	}
}
