package eigrp

import (
	"net/netip"
	"slices"

	"go4.org/netipx"
)

// Changes made while handling one event are collected here and sent in as
// few packets as possible once the event is done.

type pendingRoute struct {
	route RouteData

	// via is the interface of the successor. Split horizon applies there.
	via *Interface
}

type neighborOutput struct {
	queries    map[netip.Prefix]RouteData
	replies    map[netip.Prefix]RouteData
	siaQueries map[netip.Prefix]RouteData
	siaReplies map[netip.Prefix]RouteData
}

func newNeighborOutput() *neighborOutput {
	return &neighborOutput{
		queries:    make(map[netip.Prefix]RouteData),
		replies:    make(map[netip.Prefix]RouteData),
		siaQueries: make(map[netip.Prefix]RouteData),
		siaReplies: make(map[netip.Prefix]RouteData),
	}
}

type output struct {
	updates     map[netip.Prefix]pendingRoute
	perNeighbor map[*Neighbor]*neighborOutput
}

func newOutput() *output {
	return &output{
		updates:     make(map[netip.Prefix]pendingRoute),
		perNeighbor: make(map[*Neighbor]*neighborOutput),
	}
}

func (o *output) reset() {
	clear(o.updates)
	clear(o.perNeighbor)
}

func (o *output) dropNeighbor(n *Neighbor) {
	delete(o.perNeighbor, n)
}

func (o *output) dropInterface(iface *Interface) {
	for p, pr := range o.updates {
		if pr.via == iface {
			pr.via = nil
			o.updates[p] = pr
		}
	}

	for n := range o.perNeighbor {
		if n.iface == iface {
			delete(o.perNeighbor, n)
		}
	}
}

func (o *output) neighbor(n *Neighbor) *neighborOutput {
	no, ok := o.perNeighbor[n]
	if !ok {
		no = newNeighborOutput()
		o.perNeighbor[n] = no
	}
	return no
}

func (o *output) update(p netip.Prefix, rd RouteData, via *Interface) {
	o.updates[p] = pendingRoute{route: rd, via: via}
}

func (o *output) query(n *Neighbor, rd RouteData) {
	o.neighbor(n).queries[rd.prefix()] = rd
}

func (o *output) reply(n *Neighbor, rd RouteData) {
	o.neighbor(n).replies[rd.prefix()] = rd
}

func (o *output) siaQuery(n *Neighbor, rd RouteData) {
	o.neighbor(n).siaQueries[rd.prefix()] = rd
}

func (o *output) siaReply(n *Neighbor, rd RouteData) {
	o.neighbor(n).siaReplies[rd.prefix()] = rd
}

func (o *output) empty() bool {
	return len(o.updates) == 0 && len(o.perNeighbor) == 0
}

func sortedRoutes(m map[netip.Prefix]RouteData) []RouteData {
	rds := make([]RouteData, 0, len(m))
	for _, rd := range m {
		rds = append(rds, rd)
	}
	slices.SortFunc(rds, func(a, b RouteData) int {
		return netipx.ComparePrefix(a.prefix(), b.prefix())
	})
	return rds
}

// chunk splits routes into groups that fit in limit bytes of TLVs.
func chunk(routes []RouteData, limit int) [][]TLV {
	var chunks [][]TLV
	var cur []TLV
	size := 0

	for _, r := range routes {
		if len(cur) > 0 && size+r.Len() > limit {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, r)
		size += r.Len()
	}

	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}

	return chunks
}

// flush sends everything collected since the last flush.
func (i *Instance) flush() {
	if i.out.empty() {
		return
	}

	defer i.out.reset()

	if i.shutdown {
		return
	}

	if len(i.out.updates) > 0 {
		prefixes := make([]netip.Prefix, 0, len(i.out.updates))
		for p := range i.out.updates {
			prefixes = append(prefixes, p)
		}
		slices.SortFunc(prefixes, netipx.ComparePrefix)

		for _, iface := range i.sortedInterfaces() {
			if iface.passive || iface.multicastRefs == 0 {
				continue
			}

			routes := make([]RouteData, 0, len(prefixes))
			for _, p := range prefixes {
				pr := i.out.updates[p]
				rd := pr.route
				if pr.via == iface && iface.splitHorizon {
					rd = rd.withMetrics(unreachableMetrics)
				}
				routes = append(routes, rd)
			}

			for _, tlvs := range chunk(routes, iface.maxRouteBytes()) {
				i.sendMulticast(iface, &Packet{
					Header: Header{Opcode: OpUpdate},
					TLVs:   tlvs,
				})
			}
		}
	}

	neighbors := make([]*Neighbor, 0, len(i.out.perNeighbor))
	for n := range i.out.perNeighbor {
		neighbors = append(neighbors, n)
	}
	slices.SortFunc(neighbors, compareNeighbors)

	for _, n := range neighbors {
		if n.State != NeighborUp {
			continue
		}

		no := i.out.perNeighbor[n]
		i.sendRoutes(n, OpQuery, no.queries)
		i.sendRoutes(n, OpReply, no.replies)
		i.sendRoutes(n, OpSIAQuery, no.siaQueries)
		i.sendRoutes(n, OpSIAReply, no.siaReplies)
	}
}

func (i *Instance) sendRoutes(n *Neighbor, op Opcode, m map[netip.Prefix]RouteData) {
	if len(m) == 0 {
		return
	}

	for _, tlvs := range chunk(sortedRoutes(m), n.iface.maxRouteBytes()) {
		i.sendUnicast(n, &Packet{
			Header: Header{Opcode: op},
			TLVs:   tlvs,
		})
	}
}

// sendFullTable sends a neighbor that just came up every route we have. The
// last packet carries the End-of-Table flag.
func (i *Instance) sendFullTable(n *Neighbor) {
	var routes []RouteData
	for _, pe := range i.topology.Entries() {
		if pe.State != Passive || !pe.hasRoute {
			continue
		}

		s := pe.Successor()
		if s == nil || s.Distance == Infinite {
			continue
		}

		if n.iface.splitHorizon && !s.connected() && s.Interface == n.iface {
			continue
		}

		routes = append(routes, pe.routeData(s.TotalMetric))
	}

	chunks := chunk(routes, n.iface.maxRouteBytes())
	if len(chunks) == 0 {
		chunks = [][]TLV{nil}
	}

	for j, tlvs := range chunks {
		p := &Packet{
			Header: Header{Opcode: OpUpdate},
			TLVs:   tlvs,
		}
		if j == len(chunks)-1 {
			p.Flags |= FlagEndOfTable
		}
		i.sendUnicast(n, p)
	}

	n.log.Debug("sent full table", "routes", len(routes), "packets", len(chunks))
}
