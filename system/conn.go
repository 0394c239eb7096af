package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
)

// tosInternetControl is IP precedence 6, used for routing protocol traffic.
const tosInternetControl = 0xc0

// Conn is a raw IPv4 socket for a single IP protocol number, shared by every
// interface. Packets are only accepted on interfaces that have joined.
type Conn struct {
	proto int
	group netip.Addr
	raw   *ipv4.RawConn
	log   *slog.Logger

	mu      sync.Mutex
	byName  map[string]*net.Interface
	byIndex map[int]string
}

func ListenIPv4(proto int, group netip.Addr, logger *slog.Logger) (*Conn, error) {
	if !group.Is4() || !group.IsMulticast() {
		return nil, fmt.Errorf("not an IPv4 multicast group: %s", group)
	}

	pc, err := net.ListenPacket(fmt.Sprintf("ip4:%d", proto), "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket for protocol %d: %w", proto, err)
	}

	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	if err := raw.SetMulticastLoopback(false); err != nil {
		raw.Close()
		return nil, err
	}

	if err := raw.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		raw.Close()
		return nil, err
	}

	return &Conn{
		proto:   proto,
		group:   group,
		raw:     raw,
		log:     logger,
		byName:  make(map[string]*net.Interface),
		byIndex: make(map[int]string),
	}, nil
}

func (c *Conn) groupAddr() *net.IPAddr {
	return &net.IPAddr{IP: c.group.AsSlice()}
}

// Join starts receiving on ifname, including packets sent to the group.
func (c *Conn) Join(ifname string) error {
	netif, err := net.InterfaceByName(ifname)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byName[ifname]; ok {
		return nil
	}

	if err := c.raw.JoinGroup(netif, c.groupAddr()); err != nil {
		return fmt.Errorf("%s: failed to join %s: %w", ifname, c.group, err)
	}

	c.byName[ifname] = netif
	c.byIndex[netif.Index] = ifname

	return nil
}

func (c *Conn) Leave(ifname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	netif, ok := c.byName[ifname]
	if !ok {
		return nil
	}

	delete(c.byName, ifname)
	delete(c.byIndex, netif.Index)

	return c.raw.LeaveGroup(netif, c.groupAddr())
}

func (c *Conn) lookup(ifname string) (*net.Interface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	netif, ok := c.byName[ifname]
	return netif, ok
}

func (c *Conn) name(index int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, ok := c.byIndex[index]
	return name, ok
}

func header(proto int, dst netip.Addr, payloadLen int) *ipv4.Header {
	return &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TOS:      tosInternetControl,
		TotalLen: ipv4.HeaderLen + payloadLen,
		TTL:      2,
		Protocol: proto,
		Dst:      dst.AsSlice(),
	}
}

// Send writes b to dst out of ifname.
func (c *Conn) Send(ifname string, dst netip.Addr, b []byte) error {
	netif, ok := c.lookup(ifname)
	if !ok {
		return fmt.Errorf("%s: interface not joined", ifname)
	}

	if !dst.Is4() {
		return fmt.Errorf("not an IPv4 address: %s", dst)
	}

	cm := &ipv4.ControlMessage{IfIndex: netif.Index}

	return c.raw.WriteTo(header(c.proto, dst, len(b)), b, cm)
}

// Run reads packets until ctx is done, passing each to handler along with the
// name of the interface it arrived on. handler owns b.
func (c *Conn) Run(ctx context.Context, handler func(ifname string, src netip.Addr, b []byte)) error {
	stop := context.AfterFunc(ctx, func() {
		c.raw.Close()
	})
	defer stop()

	buf := make([]byte, 1<<16)

	for {
		h, payload, cm, err := c.raw.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			c.log.Warn("read failed", "error", err)
			continue
		}

		if cm == nil {
			continue
		}

		ifname, ok := c.name(cm.IfIndex)
		if !ok {
			continue
		}

		src, ok := netip.AddrFromSlice(h.Src)
		if !ok {
			continue
		}

		handler(ifname, src.Unmap(), append([]byte(nil), payload...))
	}
}

func (c *Conn) Close() error {
	return c.raw.Close()
}
