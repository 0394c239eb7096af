package eigrp

import (
	"context"
	"net/netip"
	"slices"
	"strings"
	"time"
)

type InterfaceInfo struct {
	Name          string
	Prefix        netip.Prefix
	MTU           int
	Passive       bool
	HelloInterval time.Duration
	HoldTime      time.Duration
	Neighbors     int
	Counters      InterfaceCounters
}

type NeighborInfo struct {
	Interface       string
	Addr            netip.Addr
	State           NeighborState
	HoldTime        time.Duration
	Uptime          time.Duration
	Retransmits     int
	RetransmitQueue int
	MulticastQueue  int
	LastSeq         uint32
	Software        SoftwareTLV
}

type EntryInfo struct {
	Neighbor          netip.Addr // invalid for connected entries
	Interface         string
	RD                Distance
	Distance          Distance
	Metrics           Metrics
	Successor         bool
	FeasibleSuccessor bool
}

type PrefixInfo struct {
	Prefix      netip.Prefix
	State       PrefixState
	Type        RouteType
	FD          Distance
	RD          Distance
	Distance    Distance
	Outstanding []netip.Addr
	Entries     []EntryInfo
}

func (i *Instance) sortedInterfaces() []*Interface {
	ifaces := make([]*Interface, 0, len(i.interfaces))
	for _, iface := range i.interfaces {
		ifaces = append(ifaces, iface)
	}
	slices.SortFunc(ifaces, func(a, b *Interface) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ifaces
}

func (i *Instance) Interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var infos []InterfaceInfo

	err := i.wait(ctx, func() error {
		for _, iface := range i.sortedInterfaces() {
			infos = append(infos, InterfaceInfo{
				Name:          iface.Name,
				Prefix:        iface.Prefix,
				MTU:           iface.MTU,
				Passive:       iface.passive,
				HelloInterval: iface.helloInterval,
				HoldTime:      iface.holdTime,
				Neighbors:     len(iface.neighbors),
				Counters:      iface.Counters.clone(),
			})
		}
		return nil
	})

	return infos, err
}

func (i *Instance) Neighbors(ctx context.Context) ([]NeighborInfo, error) {
	var infos []NeighborInfo

	err := i.wait(ctx, func() error {
		now := time.Now()
		for _, iface := range i.sortedInterfaces() {
			for _, n := range iface.neighborList() {
				info := NeighborInfo{
					Interface:       iface.Name,
					Addr:            n.Addr,
					State:           n.State,
					HoldTime:        n.HoldTime,
					Retransmits:     n.Retransmits,
					RetransmitQueue: n.retrans.Len(),
					MulticastQueue:  n.multicast.Len(),
					LastSeq:         n.lastSeq,
					Software:        n.Software,
				}
				if n.State == NeighborUp {
					info.Uptime = now.Sub(n.upSince)
				}
				infos = append(infos, info)
			}
		}
		return nil
	})

	return infos, err
}

func (i *Instance) Topology(ctx context.Context) ([]PrefixInfo, error) {
	var infos []PrefixInfo

	err := i.wait(ctx, func() error {
		for _, pe := range i.topology.Entries() {
			infos = append(infos, pe.info())
		}
		return nil
	})

	return infos, err
}

func (pe *PrefixEntry) info() PrefixInfo {
	info := PrefixInfo{
		Prefix:   pe.Destination,
		State:    pe.State,
		Type:     pe.Type,
		FD:       pe.FD,
		RD:       pe.RD,
		Distance: pe.Distance,
	}

	for _, n := range pe.Outstanding() {
		info.Outstanding = append(info.Outstanding, n.Addr)
	}

	entries := slices.Clone(pe.Entries)
	slices.SortFunc(entries, compareEntries)

	for _, e := range entries {
		ei := EntryInfo{
			Interface:         e.Interface.Name,
			RD:                e.RD,
			Distance:          e.Distance,
			Metrics:           e.TotalMetric,
			Successor:         e.Successor,
			FeasibleSuccessor: e.FeasibleSuccessor,
		}
		if !e.connected() {
			ei.Neighbor = e.Neighbor.Addr
		}
		info.Entries = append(info.Entries, ei)
	}

	return info
}
