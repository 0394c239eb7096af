package eigrp

import (
	"fmt"
	"net/netip"
	"slices"
	"time"
)

const siaQueryLimit = 3

// FSMMessage is one route from a received Update, Query, Reply or SIA packet
// on its way into DUAL.
type FSMMessage struct {
	Opcode   Opcode
	Instance *Instance
	Neighbor *Neighbor
	Prefix   *PrefixEntry   // nil if the destination isn't known yet
	Entry    *NeighborEntry // nil if Neighbor hasn't reported the destination
	Route    RouteData
}

func (m *FSMMessage) String() string {
	return fmt.Sprintf("%s %s from %s", m.Opcode, m.Route.prefix(), m.Neighbor)
}

// runFSM hands m to DUAL. A failure while handling m isolates the affected
// destination and leaves the rest of the table alone.
func (i *Instance) runFSM(m *FSMMessage) {
	p := m.Route.prefix()

	defer func() {
		if r := recover(); r != nil {
			i.isolate(i.topology.Get(p), fmt.Errorf("panic handling %s: %v", m, r))
		}
	}()

	m.Prefix = i.topology.Get(p)
	if m.Prefix != nil {
		m.Entry = m.Prefix.entry(m.Neighbor, nil)
	}

	i.handleMessage(m)

	if pe := i.topology.Get(p); pe != nil {
		if err := pe.check(); err != nil {
			i.isolate(pe, err)
		}
	}
}

func (i *Instance) handleMessage(m *FSMMessage) {
	switch m.Opcode {
	case OpUpdate:
		i.dualUpdate(m)
	case OpQuery:
		i.dualQuery(m)
	case OpReply:
		i.dualReply(m)
	case OpSIAQuery:
		i.dualSIAQuery(m)
	case OpSIAReply:
		i.dualSIAReply(m)
	default:
		i.log.Warn("unexpected fsm message", "msg", m)
	}
}

// learn records the route in m as reported by m.Neighbor and updates the
// destination's distance. It returns false if there's nothing to record.
func (i *Instance) learn(m *FSMMessage) bool {
	reported := m.Route.metrics()

	if m.Prefix == nil {
		if reported.Unreachable() {
			return false
		}
		m.Prefix = i.topology.getOrCreate(m.Route.prefix())
	}

	pe := m.Prefix
	n := m.Neighbor

	if m.Entry == nil {
		m.Entry = &NeighborEntry{
			Prefix:    pe,
			Neighbor:  n,
			Interface: n.iface,
		}
		pe.Entries = append(pe.Entries, m.Entry)
	}

	e := m.Entry
	e.ReportedMetric = reported
	e.RD = i.K.Distance(reported)
	e.TotalMetric = Combine(reported, n.iface.metrics)
	e.Distance = i.K.Distance(e.TotalMetric)

	if ext, ok := m.Route.(*ExternalRoute); ok {
		c := *ext
		e.External = &c
	} else {
		e.External = nil
	}

	pe.Distance = pe.minDistance()

	return true
}

func (i *Instance) dualUpdate(m *FSMMessage) {
	if !i.learn(m) {
		return
	}

	if m.Prefix.State == Passive {
		i.recompute(m.Prefix, m.Neighbor)
	}
}

func (i *Instance) dualQuery(m *FSMMessage) {
	n := m.Neighbor

	if !i.learn(m) {
		// We've never heard of it, and neither has the sender.
		i.out.reply(n, m.Route.withMetrics(unreachableMetrics))
		return
	}

	pe := m.Prefix

	// A Query from a neighbor we're waiting on counts as its Reply. We answer
	// it when the computation is over.
	if pe.State == Active {
		pe.replyTo[n] = struct{}{}
		i.retire(pe, n)
		return
	}

	pe.replyTo[n] = struct{}{}
	i.recompute(pe, n)

	if pe.State == Passive {
		i.sendReplies(pe)
	}
}

func (i *Instance) dualReply(m *FSMMessage) {
	pe := m.Prefix
	if pe == nil && m.Route.metrics().Unreachable() {
		return
	}

	i.learn(m)
	pe = m.Prefix

	if pe.State == Passive {
		i.recompute(pe, m.Neighbor)
		return
	}

	i.retire(pe, m.Neighbor)
}

// dualSIAQuery answers a neighbor asking whether we're still working on its
// query. If we still owe it a Reply the answer carries the Active flag.
func (i *Instance) dualSIAQuery(m *FSMMessage) {
	n := m.Neighbor
	pe := m.Prefix

	if pe == nil {
		i.out.siaReply(n, m.Route.withMetrics(unreachableMetrics))
		return
	}

	rd := pe.routeData(pe.metricsFor(n))
	if _, owed := pe.replyTo[n]; owed && pe.State == Active {
		rd = withFlags(rd, RouteFlagActive)
	}

	i.out.siaReply(n, rd)
}

// dualSIAReply handles the answer to one of our SIA Queries. Without the
// Active flag it's a Reply.
func (i *Instance) dualSIAReply(m *FSMMessage) {
	pe := m.Prefix
	if pe == nil || pe.State != Active {
		return
	}

	if _, ok := pe.rij[m.Neighbor]; !ok {
		return
	}

	if m.Route.metrics().Flags&RouteFlagActive != 0 {
		pe.siaReplied[m.Neighbor] = true
		return
	}

	m.Opcode = OpReply
	i.dualReply(m)
}

// retire removes n from the reply status of an Active destination.
func (i *Instance) retire(pe *PrefixEntry, n *Neighbor) {
	if _, ok := pe.rij[n]; !ok {
		return
	}

	delete(pe.rij, n)
	delete(pe.siaQueries, n)
	delete(pe.siaReplied, n)

	if len(pe.rij) == 0 {
		i.finishActive(pe)
	}
}

// recompute runs the local computation for a Passive destination after one
// of its entries changed. cause is the neighbor whose report triggered it.
func (i *Instance) recompute(pe *PrefixEntry, cause *Neighbor) {
	pe.Distance = pe.minDistance()
	best := pe.best()

	if best == nil || best.Distance == Infinite {
		if !pe.hasRoute {
			i.cleanup(pe)
			return
		}

		i.goActive(pe, cause)
		return
	}

	if best.connected() || best.RD < pe.FD {
		pe.FD = min(pe.FD, pe.Distance)
		i.setSuccessor(pe, best)
		return
	}

	i.goActive(pe, cause)
}

// setSuccessor makes s the successor of pe, marks feasible successors, and
// installs and advertises the result.
func (i *Instance) setSuccessor(pe *PrefixEntry, s *NeighborEntry) {
	for _, e := range pe.Entries {
		e.Successor = e == s
		e.FeasibleSuccessor = e != s && e.Distance != Infinite && e.RD < pe.FD
	}

	pe.hasRoute = true
	pe.RD = s.RD
	pe.ReportedMetric = s.ReportedMetric
	pe.External = s.External

	switch {
	case s.connected():
		pe.Type = RouteConnected
	case s.External != nil:
		pe.Type = RouteExternal
	default:
		pe.Type = RouteInternal
	}

	i.install(pe)
	i.advertise(pe)
}

// clearSuccessor forgets the route to pe.
func (i *Instance) clearSuccessor(pe *PrefixEntry) {
	for _, e := range pe.Entries {
		e.Successor = false
		e.FeasibleSuccessor = false
	}

	pe.hasRoute = false
	pe.FD = Infinite
	pe.RD = Infinite
	pe.ReportedMetric = unreachableMetrics

	i.install(pe)
	i.advertise(pe)
}

// goActive starts a diffusing computation for pe. Every Up neighbor except
// cause is queried. With nobody to ask the computation finishes right away.
func (i *Instance) goActive(pe *PrefixEntry, cause *Neighbor) {
	var targets []*Neighbor
	for _, n := range i.upNeighbors() {
		if n != cause {
			targets = append(targets, n)
		}
	}

	if len(targets) == 0 {
		i.log.Debug("no neighbors to query", "prefix", pe.Destination)
		i.finishActive(pe)
		return
	}

	pe.State = Active
	pe.activeSince = time.Now()
	pe.rij = make(map[*Neighbor]struct{}, len(targets))
	pe.siaQueries = make(map[*Neighbor]int, len(targets))
	pe.siaReplied = make(map[*Neighbor]bool, len(targets))

	// While Active we keep using the old successor if it's still reachable.
	i.install(pe)

	rd := pe.routeData(pe.queryMetrics())
	for _, n := range targets {
		pe.rij[n] = struct{}{}
		i.out.query(n, rd)
	}

	i.stats.activeTransitions.Inc()
	i.log.Info("prefix active", "prefix", pe.Destination, "distance", pe.Distance, "fd", pe.FD, "queried", len(targets))

	i.armSIA(pe)
}

// finishActive ends a diffusing computation, or a local one that needed
// nobody's help. The best remaining entry becomes the successor and FD is
// reset to its distance.
func (i *Instance) finishActive(pe *PrefixEntry) {
	wasActive := pe.State == Active

	pe.State = Passive
	pe.rij = nil
	pe.siaQueries = nil
	pe.siaReplied = nil
	i.sched.cancel(timerKey{owner: pe, purpose: timerSIA})

	pe.prune()
	pe.Distance = pe.minDistance()
	best := pe.best()

	if best == nil {
		i.clearSuccessor(pe)
	} else {
		pe.FD = best.Distance
		i.setSuccessor(pe, best)
	}

	if wasActive {
		i.log.Info("prefix passive", "prefix", pe.Destination, "distance", pe.Distance, "active-for", time.Since(pe.activeSince).Round(time.Millisecond))
	}

	i.sendReplies(pe)
	i.cleanup(pe)
}

// sendReplies answers every neighbor whose Query we were holding on to.
func (i *Instance) sendReplies(pe *PrefixEntry) {
	for _, n := range sortedNeighbors(pe.replyTo) {
		i.out.reply(n, pe.routeData(pe.metricsFor(n)))
	}
	clear(pe.replyTo)
}

// cleanup deletes pe once nothing refers to it.
func (i *Instance) cleanup(pe *PrefixEntry) {
	pe.prune()
	pe.Distance = pe.minDistance()

	if pe.State == Passive && len(pe.Entries) == 0 && len(pe.replyTo) == 0 && pe.installed == nil {
		i.topology.remove(pe.Destination)
	}
}

// entryChanged reevaluates pe after one of its entries was added or removed
// outside of a received message.
func (i *Instance) entryChanged(pe *PrefixEntry, cause *Neighbor) {
	pe.Distance = pe.minDistance()

	if pe.State == Passive {
		i.recompute(pe, cause)
	}

	if err := pe.check(); err != nil {
		i.isolate(pe, err)
	}
}

// neighborDown removes everything n told us.
func (i *Instance) neighborDown(n *Neighbor) {
	for _, pe := range i.topology.Entries() {
		delete(pe.replyTo, n)

		e := pe.entry(n, nil)
		if e != nil {
			pe.removeEntry(e)
		}

		if pe.State == Active {
			pe.Distance = pe.minDistance()
			i.retire(pe, n)
			continue
		}

		if e != nil {
			i.entryChanged(pe, n)
		}
	}
}

// connectedUp adds the network attached to iface.
func (i *Instance) connectedUp(iface *Interface) {
	pe := i.topology.getOrCreate(iface.Prefix.Masked())

	e := pe.entry(i.self, iface)
	if e == nil {
		e = &NeighborEntry{
			Prefix:    pe,
			Neighbor:  i.self,
			Interface: iface,
		}
		pe.Entries = append(pe.Entries, e)
	}

	e.RD = 0
	e.ReportedMetric = Metrics{}
	e.TotalMetric = iface.metrics
	e.Distance = i.K.Distance(iface.metrics)

	i.entryChanged(pe, i.self)
}

func (i *Instance) connectedDown(iface *Interface) {
	pe := i.topology.Get(iface.Prefix.Masked())
	if pe == nil {
		return
	}

	if e := pe.entry(i.self, iface); e != nil {
		pe.removeEntry(e)
	}

	i.entryChanged(pe, i.self)
}

func (i *Instance) armSIA(pe *PrefixEntry) {
	i.sched.schedule(timerKey{owner: pe, purpose: timerSIA}, i.activeTime/2, func() {
		i.siaTimerFired(pe)
	})
}

// siaTimerFired checks on the neighbors pe is still waiting for. Each gets an
// SIA Query. A neighbor that ignored the previous one, or that has already
// been asked siaQueryLimit times, is reset.
func (i *Instance) siaTimerFired(pe *PrefixEntry) {
	if pe.State != Active {
		return
	}

	for _, n := range pe.Outstanding() {
		if pe.State != Active {
			return
		}

		if _, ok := pe.rij[n]; !ok {
			continue
		}

		q := pe.siaQueries[n]
		if q >= siaQueryLimit || (q > 0 && !pe.siaReplied[n]) {
			i.stats.stuckInActive.Inc()
			i.log.Warn("stuck in active", "prefix", pe.Destination, "neighbor", n, "sia-queries", q, "active-for", time.Since(pe.activeSince).Round(time.Second))
			n.teardown("stuck in active")
			continue
		}

		pe.siaQueries[n] = q + 1
		pe.siaReplied[n] = false
		i.out.siaQuery(n, pe.routeData(pe.queryMetrics()))
	}

	if pe.State == Active {
		i.armSIA(pe)
	}
}

// isolate gives up on pe after an internal error. The route is withdrawn and
// the entry forgotten. It will be relearned from later updates.
func (i *Instance) isolate(pe *PrefixEntry, err error) {
	if pe == nil {
		i.log.Error("dual failure", "error", err)
		return
	}

	i.log.Error("isolating prefix", "prefix", pe.Destination, "error", err)

	i.sched.cancel(timerKey{owner: pe, purpose: timerSIA})

	pe.State = Passive
	pe.rij = nil
	pe.siaQueries = nil
	pe.siaReplied = nil
	pe.Entries = nil
	pe.Distance = Infinite
	clear(pe.replyTo)

	i.clearSuccessor(pe)
	i.topology.remove(pe.Destination)
}

// metricsFor returns our metrics for pe as told to n. With split horizon, a
// neighbor we route through hears that we can't reach it.
func (pe *PrefixEntry) metricsFor(n *Neighbor) Metrics {
	s := pe.Successor()
	if s == nil || !pe.hasRoute || s.Distance == Infinite {
		return unreachableMetrics
	}

	if s.Neighbor == n && n.iface.splitHorizon {
		return unreachableMetrics
	}

	return s.TotalMetric
}

// queryMetrics is the distance we report in a Query: whatever the successor
// still offers.
func (pe *PrefixEntry) queryMetrics() Metrics {
	if s := pe.Successor(); s != nil && s.Distance != Infinite {
		return s.TotalMetric
	}
	return unreachableMetrics
}

// advertisedMetrics is what Updates carry for pe.
func (pe *PrefixEntry) advertisedMetrics() Metrics {
	if s := pe.Successor(); pe.hasRoute && s != nil && s.Distance != Infinite {
		return s.TotalMetric
	}
	return unreachableMetrics
}

// routeData builds the TLV that describes pe with metrics m.
func (pe *PrefixEntry) routeData(m Metrics) RouteData {
	if pe.External != nil {
		c := *pe.External
		c.NextHop = netip.Addr{}
		c.Destination = pe.Destination
		c.Metrics = m
		return &c
	}

	return &InternalRoute{Destination: pe.Destination, Metrics: m}
}

func withFlags(rd RouteData, flags uint8) RouteData {
	m := rd.metrics()
	m.Flags |= flags
	return rd.withMetrics(m)
}

// advertise queues an Update for pe if what we advertise changed.
func (i *Instance) advertise(pe *PrefixEntry) {
	m := pe.advertisedMetrics()

	if pe.advertised != nil && *pe.advertised == m {
		return
	}

	if pe.advertised == nil && m.Unreachable() {
		// Never told anyone about it.
		return
	}

	pe.advertised = &m

	var via *Interface
	if s := pe.Successor(); s != nil && !s.connected() {
		via = s.Interface
	}

	i.out.update(pe.Destination, pe.routeData(m), via)
}

// install pushes the forwarding state of pe into the RIB. Feasible successors
// within Variance times the best distance are installed next to the
// successor.
func (i *Instance) install(pe *PrefixEntry) {
	r, ok := i.routeFor(pe)

	if !ok {
		if pe.installed == nil {
			return
		}

		pe.installed = nil
		if err := i.rib.Withdraw(pe.Destination); err != nil {
			i.log.Warn("failed to withdraw route", "prefix", pe.Destination, "error", err)
		}
		return
	}

	if pe.installed != nil && pe.installed.equal(r) {
		return
	}

	pe.installed = &r
	if err := i.rib.Install(r); err != nil {
		i.log.Warn("failed to install route", "prefix", pe.Destination, "error", err)
	}
}

func (i *Instance) routeFor(pe *PrefixEntry) (Route, bool) {
	s := pe.Successor()
	if !pe.hasRoute || s == nil || s.Distance == Infinite {
		return Route{}, false
	}

	limit := Distance(min(uint64(s.Distance)*uint64(i.Variance), uint64(Infinite)))

	candidates := []*NeighborEntry{s}
	if i.Variance > 1 {
		for _, e := range pe.Entries {
			if e != s && e.FeasibleSuccessor && e.Distance <= limit {
				candidates = append(candidates, e)
			}
		}
		slices.SortFunc(candidates[1:], compareEntries)
	}

	r := Route{
		Prefix:   pe.Destination,
		Distance: s.Distance,
		External: s.External != nil,
	}

	for _, e := range candidates {
		nh := NextHop{Interface: e.Interface.Name, Distance: e.Distance}
		if !e.connected() {
			nh.Addr = e.Neighbor.Addr
		}
		r.NextHops = append(r.NextHops, nh)
	}

	return r, true
}
