package eigrp

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/gaissmai/bart"
	"go4.org/netipx"
)

type PrefixState int

const (
	Passive PrefixState = iota
	Active
)

func (s PrefixState) String() string {
	switch s {
	case Passive:
		return "Passive"
	case Active:
		return "Active"
	default:
		return "Unknown"
	}
}

type RouteType int

const (
	RouteConnected RouteType = iota
	RouteInternal
	RouteExternal
)

func (t RouteType) String() string {
	switch t {
	case RouteConnected:
		return "connected"
	case RouteInternal:
		return "internal"
	case RouteExternal:
		return "external"
	default:
		return "unknown"
	}
}

type AddressFamily int

const (
	IPv4 AddressFamily = iota
	IPv6
)

func (af AddressFamily) String() string {
	if af == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// PrefixEntry is the topology table state for one destination.
type PrefixEntry struct {
	Destination netip.Prefix
	AF          AddressFamily
	Type        RouteType
	State       PrefixState

	// FD is the feasible distance. RD and ReportedMetric come from the
	// successor's report. Distance is always the minimum distance among
	// Entries.
	FD             Distance
	RD             Distance
	Distance       Distance
	ReportedMetric Metrics

	Entries []*NeighborEntry

	// External is the external route data of the successor, carried through
	// unchanged when we readvertise.
	External *ExternalRoute

	// hasRoute is true while a successor is selected.
	hasRoute bool

	// Only used while Active.
	rij         map[*Neighbor]struct{}
	siaQueries  map[*Neighbor]int
	siaReplied  map[*Neighbor]bool
	activeSince time.Time

	// Neighbors whose Query we answer once the computation finishes.
	replyTo map[*Neighbor]struct{}

	installed  *Route
	advertised *Metrics
}

func newPrefixEntry(p netip.Prefix) *PrefixEntry {
	af := IPv4
	if p.Addr().Is6() {
		af = IPv6
	}

	return &PrefixEntry{
		Destination:    p,
		AF:             af,
		Type:           RouteInternal,
		FD:             Infinite,
		RD:             Infinite,
		Distance:       Infinite,
		ReportedMetric: unreachableMetrics,
		replyTo:        make(map[*Neighbor]struct{}),
	}
}

func (pe *PrefixEntry) String() string {
	return pe.Destination.String()
}

// NeighborEntry is one candidate next hop for a PrefixEntry.
type NeighborEntry struct {
	Prefix *PrefixEntry

	// Neighbor is the advertising neighbor, or the instance's self neighbor
	// for connected routes, in which case Interface is the attached link.
	Neighbor  *Neighbor
	Interface *Interface

	RD             Distance
	ReportedMetric Metrics
	TotalMetric    Metrics
	Distance       Distance

	Successor         bool
	FeasibleSuccessor bool

	External *ExternalRoute
}

func (ne *NeighborEntry) connected() bool {
	return ne.Neighbor.isSelf()
}

func (pe *PrefixEntry) entry(n *Neighbor, iface *Interface) *NeighborEntry {
	for _, e := range pe.Entries {
		if e.Neighbor == n && (!n.isSelf() || e.Interface == iface) {
			return e
		}
	}
	return nil
}

func (pe *PrefixEntry) removeEntry(e *NeighborEntry) {
	pe.Entries = slices.DeleteFunc(pe.Entries, func(o *NeighborEntry) bool {
		return o == e
	})
}

// prune drops candidates that are unreachable.
func (pe *PrefixEntry) prune() {
	pe.Entries = slices.DeleteFunc(pe.Entries, func(e *NeighborEntry) bool {
		return e.Distance == Infinite
	})
}

func compareEntries(a, b *NeighborEntry) int {
	if a.Distance != b.Distance {
		if a.Distance < b.Distance {
			return -1
		}
		return 1
	}

	if a.connected() != b.connected() {
		if a.connected() {
			return -1
		}
		return 1
	}

	if a.RD != b.RD {
		if a.RD < b.RD {
			return -1
		}
		return 1
	}

	if c := a.Neighbor.Addr.Compare(b.Neighbor.Addr); c != 0 {
		return c
	}

	if a.Interface != nil && b.Interface != nil {
		if a.Interface.Name < b.Interface.Name {
			return -1
		} else if a.Interface.Name > b.Interface.Name {
			return 1
		}
	}

	return 0
}

// best returns the entry with the minimum distance, or nil.
func (pe *PrefixEntry) best() *NeighborEntry {
	if len(pe.Entries) == 0 {
		return nil
	}
	return slices.MinFunc(pe.Entries, compareEntries)
}

func (pe *PrefixEntry) minDistance() Distance {
	if b := pe.best(); b != nil {
		return b.Distance
	}
	return Infinite
}

func (pe *PrefixEntry) Successor() *NeighborEntry {
	for _, e := range pe.Entries {
		if e.Successor {
			return e
		}
	}
	return nil
}

// Outstanding returns the neighbors we're still waiting on for a Reply.
func (pe *PrefixEntry) Outstanding() []*Neighbor {
	ns := make([]*Neighbor, 0, len(pe.rij))
	for n := range pe.rij {
		ns = append(ns, n)
	}
	slices.SortFunc(ns, compareNeighbors)
	return ns
}

func compareNeighbors(a, b *Neighbor) int {
	if !a.isSelf() && !b.isSelf() && a.iface.Name != b.iface.Name {
		if a.iface.Name < b.iface.Name {
			return -1
		}
		return 1
	}
	return a.Addr.Compare(b.Addr)
}

func sortedNeighbors(set map[*Neighbor]struct{}) []*Neighbor {
	ns := make([]*Neighbor, 0, len(set))
	for n := range set {
		ns = append(ns, n)
	}
	slices.SortFunc(ns, compareNeighbors)
	return ns
}

// check verifies the invariants DUAL relies on.
func (pe *PrefixEntry) check() error {
	if pe.State == Active && len(pe.rij) == 0 {
		return fmt.Errorf("%s: active with an empty reply set", pe.Destination)
	}

	if pe.State == Passive && len(pe.rij) != 0 {
		return fmt.Errorf("%s: passive with %d outstanding replies", pe.Destination, len(pe.rij))
	}

	if d := pe.minDistance(); d != pe.Distance {
		return fmt.Errorf("%s: distance %s is not the minimum entry distance %s", pe.Destination, pe.Distance, d)
	}

	if pe.State == Passive {
		s := pe.Successor()
		// RD can only equal FD over a link that adds nothing to the distance.
		if s != nil && !s.connected() && s.Distance != Infinite && (s.RD > pe.FD || (s.RD == pe.FD && s.Distance != s.RD)) {
			return fmt.Errorf("%s: successor %s has RD %s, not less than FD %s", pe.Destination, s.Neighbor, s.RD, pe.FD)
		}
	}

	return nil
}

// Topology is the topology table, indexed by destination prefix.
type Topology struct {
	table bart.Table[*PrefixEntry]
}

func newTopology() *Topology {
	return &Topology{}
}

func (t *Topology) Get(p netip.Prefix) *PrefixEntry {
	pe, ok := t.table.Get(p)
	if !ok {
		return nil
	}
	return pe
}

func (t *Topology) getOrCreate(p netip.Prefix) *PrefixEntry {
	if pe := t.Get(p); pe != nil {
		return pe
	}

	pe := newPrefixEntry(p)
	t.table.Insert(p, pe)
	return pe
}

func (t *Topology) remove(p netip.Prefix) {
	t.table.Delete(p)
}

func (t *Topology) Len() int {
	return t.table.Size()
}

// Lookup returns the most specific entry containing addr.
func (t *Topology) Lookup(addr netip.Addr) *PrefixEntry {
	pe, ok := t.table.Lookup(addr)
	if !ok {
		return nil
	}
	return pe
}

// Entries returns every prefix entry in prefix order.
func (t *Topology) Entries() []*PrefixEntry {
	var pes []*PrefixEntry
	for _, pe := range t.table.All() {
		pes = append(pes, pe)
	}

	slices.SortFunc(pes, func(a, b *PrefixEntry) int {
		return netipx.ComparePrefix(a.Destination, b.Destination)
	})

	return pes
}
