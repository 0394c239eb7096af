package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/events"
)

func interfaceTable(ifaces []eigrp.InterfaceInfo) ([]string, error) {
	headers := []string{"Interface", "Address", "MTU", "Hello", "Hold", "Peers", "Mode"}

	return tabulate(ifaces, headers, func(iface eigrp.InterfaceInfo) []string {
		mode := "active"
		if iface.Passive {
			mode = "passive"
		}

		return []string{
			iface.Name,
			iface.Prefix.String(),
			strconv.Itoa(iface.MTU),
			iface.HelloInterval.String(),
			iface.HoldTime.String(),
			strconv.Itoa(iface.Neighbors),
			mode,
		}
	})
}

func neighborTable(ns []eigrp.NeighborInfo) ([]string, error) {
	headers := []string{"Address", "Interface", "State", "Hold", "Uptime", "Q Cnt", "Seq"}

	return tabulate(ns, headers, func(n eigrp.NeighborInfo) []string {
		return []string{
			n.Addr.String(),
			n.Interface,
			n.State.String(),
			n.HoldTime.Round(time.Second).String(),
			n.Uptime.Round(time.Second).String(),
			strconv.Itoa(n.RetransmitQueue + n.MulticastQueue),
			strconv.FormatUint(uint64(n.LastSeq), 10),
		}
	})
}

// topologyLines renders prefixes the way "show ip eigrp topology" does:
//
//	P 10.0.0.0/24, 1 successors, FD is 28160
//	        via 10.0.1.2 (30720/28160), eth0
func topologyLines(top []eigrp.PrefixInfo) []string {
	var lines []string

	for _, pi := range top {
		state := "P"
		if pi.State == eigrp.Active {
			state = "A"
		}

		successors := 0
		for _, e := range pi.Entries {
			if e.Successor {
				successors++
			}
		}

		line := fmt.Sprintf("%s %s, %d successors, FD is %s", state, pi.Prefix, successors, pi.FD)
		if len(pi.Outstanding) > 0 {
			var addrs []string
			for _, a := range pi.Outstanding {
				addrs = append(addrs, a.String())
			}
			line += ", Q " + strings.Join(addrs, " ")
		}
		lines = append(lines, line)

		for _, e := range pi.Entries {
			if !e.Neighbor.IsValid() {
				lines = append(lines, fmt.Sprintf("        via Connected, %s", e.Interface))
				continue
			}
			lines = append(lines, fmt.Sprintf("        via %s (%s/%s), %s", e.Neighbor, e.Distance, e.RD, e.Interface))
		}
	}

	return lines
}

func formatEvent(e events.RouteEvent) string {
	var b strings.Builder

	switch e.Type {
	case events.RouteAdded:
		b.WriteString("+ ")
	case events.RouteChanged:
		b.WriteString("~ ")
	case events.RouteWithdrawn:
		b.WriteString("- ")
	}
	b.WriteString(e.Route.Prefix.String())

	if e.Type == events.RouteWithdrawn {
		return b.String()
	}

	fmt.Fprintf(&b, " [%s]", e.Route.Distance)
	if e.Route.External {
		b.WriteString(" external")
	}
	for _, nh := range e.Route.NextHops {
		if nh.Addr.IsValid() {
			fmt.Fprintf(&b, " via %s %s", nh.Addr, nh.Interface)
		} else {
			fmt.Fprintf(&b, " dev %s", nh.Interface)
		}
	}

	return b.String()
}
