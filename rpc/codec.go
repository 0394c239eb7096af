package rpc

import (
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/events"
	"google.golang.org/protobuf/types/known/structpb"
)

func encodeList[T any](items []T, f func(T) map[string]any) (*structpb.ListValue, error) {
	vs := make([]any, len(items))
	for i, item := range items {
		vs[i] = f(item)
	}
	return structpb.NewList(vs)
}

func decodeList[T any](l *structpb.ListValue, f func(fields) (T, error)) ([]T, error) {
	var items []T
	for i, v := range l.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("item %d is not a struct", i)
		}

		item, err := f(fields(s.GetFields()))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

type fields map[string]*structpb.Value

func (f fields) str(k string) string  { return f[k].GetStringValue() }
func (f fields) num(k string) float64 { return f[k].GetNumberValue() }
func (f fields) bool(k string) bool   { return f[k].GetBoolValue() }

func (f fields) list(k string) []*structpb.Value {
	return f[k].GetListValue().GetValues()
}

func (f fields) sub(k string) fields {
	return fields(f[k].GetStructValue().GetFields())
}

// decoder remembers the first parse error.
type decoder struct {
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// addr parses k, which may be empty.
func (d *decoder) addr(f fields, k string) netip.Addr {
	s := f.str(k)
	if s == "" {
		return netip.Addr{}
	}

	a, err := netip.ParseAddr(s)
	if err != nil {
		d.fail(fmt.Errorf("%s: %w", k, err))
	}
	return a
}

func (d *decoder) prefix(f fields, k string) netip.Prefix {
	p, err := netip.ParsePrefix(f.str(k))
	if err != nil {
		d.fail(fmt.Errorf("%s: %w", k, err))
	}
	return p
}

func (d *decoder) duration(f fields, k string) time.Duration {
	dur, err := time.ParseDuration(f.str(k))
	if err != nil {
		d.fail(fmt.Errorf("%s: %w", k, err))
	}
	return dur
}

// counter parses k, a uint64 sent as a decimal string since structpb numbers
// are float64.
func (d *decoder) counter(f fields, k string) uint64 {
	s := f.str(k)
	if s == "" {
		return 0
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		d.fail(fmt.Errorf("%s: %w", k, err))
	}
	return n
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

type counter struct {
	name string
	v    *uint64
}

func counters(c *eigrp.InterfaceCounters) []counter {
	return []counter{
		{"hello-in", &c.HelloIn},
		{"update-in", &c.UpdateIn},
		{"query-in", &c.QueryIn},
		{"reply-in", &c.ReplyIn},
		{"sia-query-in", &c.SIAQueryIn},
		{"sia-reply-in", &c.SIAReplyIn},
		{"ack-in", &c.AckIn},
		{"hello-out", &c.HelloOut},
		{"update-out", &c.UpdateOut},
		{"query-out", &c.QueryOut},
		{"reply-out", &c.ReplyOut},
		{"sia-query-out", &c.SIAQueryOut},
		{"sia-reply-out", &c.SIAReplyOut},
		{"ack-out", &c.AckOut},
		{"retransmits", &c.Retransmits},
	}
}

func interfaceFields(i eigrp.InterfaceInfo) map[string]any {
	cs := make(map[string]any)
	for _, c := range counters(&i.Counters) {
		cs[c.name] = strconv.FormatUint(*c.v, 10)
	}

	drops := make(map[string]any, len(i.Counters.Drops))
	for reason, n := range i.Counters.Drops {
		drops[reason] = strconv.FormatUint(n, 10)
	}
	cs["drops"] = drops

	return map[string]any{
		"name":           i.Name,
		"prefix":         i.Prefix.String(),
		"mtu":            i.MTU,
		"passive":        i.Passive,
		"hello-interval": i.HelloInterval.String(),
		"hold-time":      i.HoldTime.String(),
		"neighbors":      i.Neighbors,
		"counters":       cs,
	}
}

func decodeInterface(f fields) (eigrp.InterfaceInfo, error) {
	var d decoder

	i := eigrp.InterfaceInfo{
		Name:          f.str("name"),
		Prefix:        d.prefix(f, "prefix"),
		MTU:           int(f.num("mtu")),
		Passive:       f.bool("passive"),
		HelloInterval: d.duration(f, "hello-interval"),
		HoldTime:      d.duration(f, "hold-time"),
		Neighbors:     int(f.num("neighbors")),
	}

	cs := f.sub("counters")
	for _, c := range counters(&i.Counters) {
		*c.v = d.counter(cs, c.name)
	}

	i.Counters.Drops = make(map[string]uint64)
	drops := cs.sub("drops")
	for reason := range drops {
		i.Counters.Drops[reason] = d.counter(drops, reason)
	}

	return i, d.err
}

func neighborFields(n eigrp.NeighborInfo) map[string]any {
	return map[string]any{
		"interface":        n.Interface,
		"addr":             addrString(n.Addr),
		"state":            int(n.State),
		"hold-time":        n.HoldTime.String(),
		"uptime":           n.Uptime.String(),
		"retransmits":      n.Retransmits,
		"retransmit-queue": n.RetransmitQueue,
		"multicast-queue":  n.MulticastQueue,
		"last-seq":         n.LastSeq,
		"software": map[string]any{
			"vendor-major": n.Software.VendorMajor,
			"vendor-minor": n.Software.VendorMinor,
			"tlv-major":    n.Software.TLVMajor,
			"tlv-minor":    n.Software.TLVMinor,
		},
	}
}

func decodeNeighbor(f fields) (eigrp.NeighborInfo, error) {
	var d decoder

	sw := f.sub("software")

	n := eigrp.NeighborInfo{
		Interface:       f.str("interface"),
		Addr:            d.addr(f, "addr"),
		State:           eigrp.NeighborState(f.num("state")),
		HoldTime:        d.duration(f, "hold-time"),
		Uptime:          d.duration(f, "uptime"),
		Retransmits:     int(f.num("retransmits")),
		RetransmitQueue: int(f.num("retransmit-queue")),
		MulticastQueue:  int(f.num("multicast-queue")),
		LastSeq:         uint32(f.num("last-seq")),
		Software: eigrp.SoftwareTLV{
			VendorMajor: uint8(sw.num("vendor-major")),
			VendorMinor: uint8(sw.num("vendor-minor")),
			TLVMajor:    uint8(sw.num("tlv-major")),
			TLVMinor:    uint8(sw.num("tlv-minor")),
		},
	}

	return n, d.err
}

func metricsFields(m eigrp.Metrics) map[string]any {
	return map[string]any{
		"delay":       m.Delay,
		"bandwidth":   m.Bandwidth,
		"mtu":         m.MTU,
		"hop-count":   m.HopCount,
		"reliability": m.Reliability,
		"load":        m.Load,
		"tag":         m.Tag,
		"flags":       m.Flags,
	}
}

func decodeMetrics(f fields) eigrp.Metrics {
	return eigrp.Metrics{
		Delay:       uint32(f.num("delay")),
		Bandwidth:   uint32(f.num("bandwidth")),
		MTU:         uint32(f.num("mtu")),
		HopCount:    uint8(f.num("hop-count")),
		Reliability: uint8(f.num("reliability")),
		Load:        uint8(f.num("load")),
		Tag:         uint8(f.num("tag")),
		Flags:       uint8(f.num("flags")),
	}
}

func prefixFields(p eigrp.PrefixInfo) map[string]any {
	outstanding := make([]any, len(p.Outstanding))
	for i, a := range p.Outstanding {
		outstanding[i] = a.String()
	}

	entries := make([]any, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = map[string]any{
			"neighbor":           addrString(e.Neighbor),
			"interface":          e.Interface,
			"rd":                 uint32(e.RD),
			"distance":           uint32(e.Distance),
			"metrics":            metricsFields(e.Metrics),
			"successor":          e.Successor,
			"feasible-successor": e.FeasibleSuccessor,
		}
	}

	return map[string]any{
		"prefix":      p.Prefix.String(),
		"state":       int(p.State),
		"type":        int(p.Type),
		"fd":          uint32(p.FD),
		"rd":          uint32(p.RD),
		"distance":    uint32(p.Distance),
		"outstanding": outstanding,
		"entries":     entries,
	}
}

func decodePrefix(f fields) (eigrp.PrefixInfo, error) {
	var d decoder

	p := eigrp.PrefixInfo{
		Prefix:   d.prefix(f, "prefix"),
		State:    eigrp.PrefixState(f.num("state")),
		Type:     eigrp.RouteType(f.num("type")),
		FD:       eigrp.Distance(f.num("fd")),
		RD:       eigrp.Distance(f.num("rd")),
		Distance: eigrp.Distance(f.num("distance")),
	}

	for _, v := range f.list("outstanding") {
		a, err := netip.ParseAddr(v.GetStringValue())
		if err != nil {
			d.fail(fmt.Errorf("outstanding: %w", err))
			continue
		}
		p.Outstanding = append(p.Outstanding, a)
	}

	for _, v := range f.list("entries") {
		ef := fields(v.GetStructValue().GetFields())
		p.Entries = append(p.Entries, eigrp.EntryInfo{
			Neighbor:          d.addr(ef, "neighbor"),
			Interface:         ef.str("interface"),
			RD:                eigrp.Distance(ef.num("rd")),
			Distance:          eigrp.Distance(ef.num("distance")),
			Metrics:           decodeMetrics(ef.sub("metrics")),
			Successor:         ef.bool("successor"),
			FeasibleSuccessor: ef.bool("feasible-successor"),
		})
	}

	return p, d.err
}

func routeEventFields(ev events.RouteEvent) map[string]any {
	hops := make([]any, len(ev.Route.NextHops))
	for i, nh := range ev.Route.NextHops {
		hops[i] = map[string]any{
			"addr":      addrString(nh.Addr),
			"interface": nh.Interface,
			"distance":  uint32(nh.Distance),
		}
	}

	return map[string]any{
		"type":      string(ev.Type),
		"prefix":    ev.Route.Prefix.String(),
		"distance":  uint32(ev.Route.Distance),
		"external":  ev.Route.External,
		"next-hops": hops,
	}
}

func decodeRouteEvent(f fields) (events.RouteEvent, error) {
	var d decoder

	ev := events.RouteEvent{
		Type: events.EventType(f.str("type")),
		Route: eigrp.Route{
			Prefix:   d.prefix(f, "prefix"),
			Distance: eigrp.Distance(f.num("distance")),
			External: f.bool("external"),
		},
	}

	for _, v := range f.list("next-hops") {
		hf := fields(v.GetStructValue().GetFields())
		ev.Route.NextHops = append(ev.Route.NextHops, eigrp.NextHop{
			Addr:      d.addr(hf, "addr"),
			Interface: hf.str("interface"),
			Distance:  eigrp.Distance(hf.num("distance")),
		})
	}

	return ev, d.err
}
