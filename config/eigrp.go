package config

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/davidbalbert/eigrpd/eigrpd/common"
)

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err == nil {
		return uint32(n), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("must be an IPv4 address or an unsigned 32 bit integer")
	}

	return binary.BigEndian.Uint32(addr.AsSlice()), nil
}

type AuthType int

const (
	AuthNone AuthType = iota
	AuthMD5
)

func (a AuthType) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthMD5:
		return "md5"
	default:
		return "unknown"
	}
}

type NetworkType int

const (
	NetworkBroadcast NetworkType = iota
	NetworkPointToPoint
)

func (t NetworkType) String() string {
	switch t {
	case NetworkBroadcast:
		return "broadcast"
	case NetworkPointToPoint:
		return "point-to-point"
	default:
		return "unknown"
	}
}

const (
	DefaultHelloInterval      = 5 * time.Second
	DefaultHoldTime           = 15 * time.Second
	DefaultActiveTime         = 3 * time.Minute
	DefaultRetransmitInterval = time.Second
	DefaultBandwidth          = 100_000 // kbps
	DefaultDelay              = 10      // tens of microseconds
	DefaultMTU                = 1500
)

var DefaultKValues = [6]uint8{1, 0, 1, 0, 0, 0}

type EIGRPConfig struct {
	RouterID           common.RouterID
	AS                 uint16
	VRID               uint16
	KValues            [6]uint8
	Variance           uint8
	HelloInterval      time.Duration
	HoldTime           time.Duration
	ActiveTime         time.Duration
	RetransmitInterval time.Duration
	SplitHorizon       bool
	Interfaces         map[string]EIGRPInterfaceConfig

	// Keychains referenced by authenticated interfaces, by name.
	Keychains map[string]Keychain
}

func (c *EIGRPConfig) shouldRun() bool {
	return len(c.Interfaces) > 0
}

func (c *EIGRPConfig) dependencies() []ServiceID {
	return []ServiceID{ServiceInterfaceMonitor, ServiceRIB}
}

func (c *EIGRPConfig) copy() protocolConfig {
	newConfig := *c
	newConfig.Interfaces = make(map[string]EIGRPInterfaceConfig, len(c.Interfaces))

	for k, v := range c.Interfaces {
		newConfig.Interfaces[k] = v
	}

	if c.Keychains != nil {
		newConfig.Keychains = make(map[string]Keychain, len(c.Keychains))
		for k, v := range c.Keychains {
			newConfig.Keychains[k] = v.copy()
		}
	}

	return &newConfig
}

func (c *EIGRPConfig) validate() error {
	if c.AS == 0 {
		return fmt.Errorf("as must be set")
	}

	for name, ic := range c.Interfaces {
		if ic.HoldTime <= ic.HelloInterval {
			return fmt.Errorf("interface %s: hold-time (%s) must be greater than hello-interval (%s)", name, ic.HoldTime, ic.HelloInterval)
		}

		if ic.AuthType != AuthNone && ic.Keychain == "" {
			return fmt.Errorf("interface %s: auth-type %s needs a keychain", name, ic.AuthType)
		}

		if ic.Keychain != "" {
			if _, ok := c.Keychains[ic.Keychain]; !ok {
				return fmt.Errorf("interface %s: unknown keychain: %s", name, ic.Keychain)
			}
		}
	}

	return nil
}

func (c *EIGRPConfig) InterfaceConfig(name string) (EIGRPInterfaceConfig, bool) {
	ic, ok := c.Interfaces[name]
	return ic, ok
}

// EIGRPInterfaceConfig holds per-interface settings. Bandwidth is in kbps and
// Delay in tens of microseconds. Unset timers inherit from the instance.
type EIGRPInterfaceConfig struct {
	Bandwidth     uint32
	Delay         uint32
	Reliability   uint8
	Load          uint8
	MTU           uint32
	Passive       bool
	AuthType      AuthType
	Keychain      string
	NetworkType   NetworkType
	HelloInterval time.Duration
	HoldTime      time.Duration
	SplitHorizon  bool

	splitHorizonSet bool
}

func NewEIGRPConfig() *EIGRPConfig {
	return &EIGRPConfig{
		KValues:            DefaultKValues,
		Variance:           1,
		HelloInterval:      DefaultHelloInterval,
		HoldTime:           DefaultHoldTime,
		ActiveTime:         DefaultActiveTime,
		RetransmitInterval: DefaultRetransmitInterval,
		SplitHorizon:       true,
		Interfaces:         make(map[string]EIGRPInterfaceConfig),
	}
}

func NewEIGRPInterfaceConfig() EIGRPInterfaceConfig {
	return EIGRPInterfaceConfig{
		Bandwidth:   DefaultBandwidth,
		Delay:       DefaultDelay,
		Reliability: 255,
		Load:        1,
		MTU:         DefaultMTU,
	}
}

func intInRange(prefix, key string, v any, lo, hi int) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%s: %s must be an integer", prefix, key)
	}

	if n < lo {
		return 0, fmt.Errorf("%s: %s too small: %d", prefix, key, n)
	} else if n > hi {
		return 0, fmt.Errorf("%s: %s too big: %d", prefix, key, n)
	}

	return n, nil
}

func seconds(prefix, key string, v any) (time.Duration, error) {
	n, err := intInRange(prefix, key, v, 1, math.MaxUint16)
	if err != nil {
		return 0, err
	}

	return time.Duration(n) * time.Second, nil
}

func parseEIGRPConfig(data map[string]interface{}) (*EIGRPConfig, error) {
	c := NewEIGRPConfig()

	const prefix = "eigrp"

	for k, v := range data {
		if k == "router-id" {
			switch v := v.(type) {
			case string:
				id, err := parseID(v)
				if err != nil {
					return nil, fmt.Errorf("eigrp: invalid router-id: %s", err)
				}

				c.RouterID = common.RouterID(id)
			case int:
				if v < 0 {
					return nil, fmt.Errorf("eigrp: router-id must be positive: %d", v)
				} else if v > math.MaxUint32 {
					return nil, fmt.Errorf("eigrp: router-id too big: %d", v)
				}

				c.RouterID = common.RouterID(v)
			default:
				return nil, fmt.Errorf("eigrp: router-id must be an IPv4 address or an unsigned 32 bit integer")
			}
		} else if k == "as" {
			n, err := intInRange(prefix, k, v, 1, math.MaxUint16)
			if err != nil {
				return nil, err
			}

			c.AS = uint16(n)
		} else if k == "vrid" {
			n, err := intInRange(prefix, k, v, 0, math.MaxUint16)
			if err != nil {
				return nil, err
			}

			c.VRID = uint16(n)
		} else if k == "k-values" {
			ks, ok := v.([]interface{})
			if !ok || len(ks) != 6 {
				return nil, fmt.Errorf("eigrp: k-values must be a list of 6 integers")
			}

			for i, kv := range ks {
				n, err := intInRange(prefix, fmt.Sprintf("k%d", i+1), kv, 0, 254)
				if err != nil {
					return nil, err
				}

				c.KValues[i] = uint8(n)
			}
		} else if k == "variance" {
			n, err := intInRange(prefix, k, v, 1, 128)
			if err != nil {
				return nil, err
			}

			c.Variance = uint8(n)
		} else if k == "hello-interval" {
			d, err := seconds(prefix, k, v)
			if err != nil {
				return nil, err
			}

			c.HelloInterval = d
		} else if k == "hold-time" {
			d, err := seconds(prefix, k, v)
			if err != nil {
				return nil, err
			}

			c.HoldTime = d
		} else if k == "active-time" {
			d, err := seconds(prefix, k, v)
			if err != nil {
				return nil, err
			}

			c.ActiveTime = d
		} else if k == "retransmit-interval" {
			// milliseconds
			n, err := intInRange(prefix, k, v, 10, 60_000)
			if err != nil {
				return nil, err
			}

			c.RetransmitInterval = time.Duration(n) * time.Millisecond
		} else if k == "split-horizon" {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("eigrp: split-horizon must be a boolean")
			}

			c.SplitHorizon = b
		} else if strings.HasPrefix(k, "interface ") {
			name := strings.TrimPrefix(k, "interface ")

			var i map[string]interface{}
			if v != nil {
				var ok bool
				i, ok = v.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("eigrp interface %s: must be a map", name)
				}
			}

			ic, err := parseInterfaceConfig(name, i)
			if err != nil {
				return nil, err
			}

			c.Interfaces[name] = *ic
		} else {
			return nil, fmt.Errorf("eigrp: unknown key: %s", k)
		}
	}

	for k, ic := range c.Interfaces {
		ic.setDefaults(c)
		c.Interfaces[k] = ic
	}

	return c, nil
}

func (ic *EIGRPInterfaceConfig) setDefaults(c *EIGRPConfig) {
	if ic.HelloInterval == 0 {
		ic.HelloInterval = c.HelloInterval
	}

	if ic.HoldTime == 0 {
		ic.HoldTime = c.HoldTime
	}

	if !ic.splitHorizonSet {
		ic.SplitHorizon = c.SplitHorizon
	}
}

func parseInterfaceConfig(name string, data map[string]interface{}) (*EIGRPInterfaceConfig, error) {
	ic := NewEIGRPInterfaceConfig()

	prefix := "eigrp interface " + name

	for k, v := range data {
		switch k {
		case "bandwidth":
			n, err := intInRange(prefix, k, v, 1, math.MaxInt32)
			if err != nil {
				return nil, err
			}

			ic.Bandwidth = uint32(n)
		case "delay":
			n, err := intInRange(prefix, k, v, 1, 16_777_215)
			if err != nil {
				return nil, err
			}

			ic.Delay = uint32(n)
		case "reliability":
			n, err := intInRange(prefix, k, v, 1, 255)
			if err != nil {
				return nil, err
			}

			ic.Reliability = uint8(n)
		case "load":
			n, err := intInRange(prefix, k, v, 1, 255)
			if err != nil {
				return nil, err
			}

			ic.Load = uint8(n)
		case "mtu":
			n, err := intInRange(prefix, k, v, 68, 65535)
			if err != nil {
				return nil, err
			}

			ic.MTU = uint32(n)
		case "passive":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%s: passive must be a boolean", prefix)
			}

			ic.Passive = b
		case "auth-type":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: auth-type must be a string", prefix)
			}

			switch s {
			case "none":
				ic.AuthType = AuthNone
			case "md5":
				ic.AuthType = AuthMD5
			default:
				return nil, fmt.Errorf("%s: unknown auth-type: %s", prefix, s)
			}
		case "keychain":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: keychain must be a string", prefix)
			}

			ic.Keychain = s
		case "network-type":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: network-type must be a string", prefix)
			}

			switch s {
			case "broadcast":
				ic.NetworkType = NetworkBroadcast
			case "point-to-point":
				ic.NetworkType = NetworkPointToPoint
			default:
				return nil, fmt.Errorf("%s: unknown network-type: %s", prefix, s)
			}
		case "hello-interval":
			d, err := seconds(prefix, k, v)
			if err != nil {
				return nil, err
			}

			ic.HelloInterval = d
		case "hold-time":
			d, err := seconds(prefix, k, v)
			if err != nil {
				return nil, err
			}

			ic.HoldTime = d
		case "split-horizon":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%s: split-horizon must be a boolean", prefix)
			}

			ic.SplitHorizon = b
			ic.splitHorizonSet = true
		default:
			return nil, fmt.Errorf("%s: unknown key: %s", prefix, k)
		}
	}

	return &ic, nil
}
