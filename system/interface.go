package system

import (
	"fmt"
	"net"
	"net/netip"
	"slices"

	"go4.org/netipx"
)

type Interface struct {
	Name     string
	Index    int
	MTU      int
	Flags    net.Flags
	Prefixes []netip.Prefix
}

func (i Interface) Up() bool {
	return i.Flags&net.FlagUp != 0
}

func (i Interface) Loopback() bool {
	return i.Flags&net.FlagLoopback != 0
}

func (i Interface) Multicast() bool {
	return i.Flags&net.FlagMulticast != 0
}

// PrefixV4 returns the interface's first IPv4 prefix.
func (i Interface) PrefixV4() (netip.Prefix, bool) {
	for _, p := range i.Prefixes {
		if p.Addr().Is4() {
			return p, true
		}
	}
	return netip.Prefix{}, false
}

func (i Interface) equal(o Interface) bool {
	return i.Name == o.Name && i.Index == o.Index && i.MTU == o.MTU && i.Flags == o.Flags && slices.Equal(i.Prefixes, o.Prefixes)
}

func interfacesEqual(a, b []Interface) bool {
	return slices.EqualFunc(a, b, Interface.equal)
}

func getInterfaces() ([]Interface, error) {
	netifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	interfaces := make([]Interface, 0, len(netifs))
	for _, netif := range netifs {
		prefixes, err := netifPrefixes(netif)
		if err != nil {
			return nil, err
		}

		interfaces = append(interfaces, Interface{
			Name:     netif.Name,
			Index:    netif.Index,
			MTU:      netif.MTU,
			Flags:    netif.Flags,
			Prefixes: prefixes,
		})
	}

	return interfaces, nil
}

func netifPrefixes(netif net.Interface) ([]netip.Prefix, error) {
	addrs, err := netif.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %s: %w", netif.Name, err)
	}

	var prefixes []netip.Prefix
	for _, addr := range addrs {
		if prefix, ok := prefixFromSTDNetAddr(addr); ok {
			prefixes = append(prefixes, prefix)
		}
	}

	slices.SortFunc(prefixes, netipx.ComparePrefix)

	return prefixes, nil
}

// net.Interface.Addrs() returns []net.Addr which is really
// []*net.IPNet.
func prefixFromSTDNetAddr(addr net.Addr) (netip.Prefix, bool) {
	ipnet, ok := addr.(*net.IPNet)
	if !ok {
		return netip.Prefix{}, false
	}

	prefix, ok := netipx.FromStdIPNet(ipnet)
	if !ok {
		return netip.Prefix{}, false
	}

	return prefix, true
}
