package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServiceType int

const (
	ServiceTypeAPIServer ServiceType = iota
	ServiceTypeInterfaceMonitor
	ServiceTypeRIB
	ServiceTypeEIGRP
)

func (t ServiceType) String() string {
	switch t {
	case ServiceTypeAPIServer:
		return "APIServer"
	case ServiceTypeInterfaceMonitor:
		return "InterfaceMonitor"
	case ServiceTypeRIB:
		return "RIB"
	case ServiceTypeEIGRP:
		return "EIGRP"
	default:
		return fmt.Sprintf("unknown service type: %d", t)
	}
}

type ServiceID struct {
	Type ServiceType
	Name string
}

func (id ServiceID) String() string {
	return id.Name
}

var (
	ServiceAPIServer        = ServiceID{Type: ServiceTypeAPIServer, Name: "APIServer"}
	ServiceInterfaceMonitor = ServiceID{Type: ServiceTypeInterfaceMonitor, Name: "InterfaceMonitor"}
	ServiceRIB              = ServiceID{Type: ServiceTypeRIB, Name: "RIB"}
	ServiceEIGRP            = ServiceID{Type: ServiceTypeEIGRP, Name: "EIGRP"}
)

type protocolConfig interface {
	shouldRun() bool
	dependencies() []ServiceID
	copy() protocolConfig
	validate() error
}

// Bootstrap is everything the service manager needs to start a service.
type Bootstrap struct {
	ID     ServiceID
	Config any
}

type Config struct {
	protocols map[ServiceID]protocolConfig
	keychains map[string]Keychain
}

func loadConfig(path string) (*Config, error) {
	s, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config, err := ParseConfig(string(s))
	if err != nil {
		return nil, err
	}

	return config, nil
}

func ParseConfig(s string) (*Config, error) {
	var data map[string]interface{}

	if err := yaml.Unmarshal([]byte(s), &data); err != nil {
		return nil, err
	}

	c := Config{
		protocols: make(map[ServiceID]protocolConfig),
		keychains: make(map[string]Keychain),
	}

	for k, v := range data {
		switch {
		case k == "eigrp":
			v, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("eigrp must be a map")
			}

			eigrpConfig, err := parseEIGRPConfig(v)
			if err != nil {
				return nil, err
			}

			c.protocols[ServiceEIGRP] = eigrpConfig
		case strings.HasPrefix(k, "keychain "):
			name := strings.TrimPrefix(k, "keychain ")

			v, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("keychain %s: must be a map", name)
			}

			kc, err := parseKeychain(name, v)
			if err != nil {
				return nil, err
			}

			c.keychains[name] = kc
		default:
			return nil, fmt.Errorf("unknown top level key: %s", k)
		}
	}

	if e, ok := c.EIGRP(); ok {
		e.Keychains = c.keychains
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) EIGRP() (*EIGRPConfig, bool) {
	p, ok := c.protocols[ServiceEIGRP]
	if !ok {
		return nil, false
	}

	return p.(*EIGRPConfig), true
}

func (c *Config) ServicesInBootOrder() []ServiceID {
	g := newGraph()

	g.addNode(ServiceAPIServer)

	for s, p := range c.protocols {
		if p.shouldRun() {
			g.addNode(s, p.dependencies()...)
		}
	}

	return g.topologicalSort()
}

// Bootstraps returns the services to start, dependencies first.
func (c *Config) Bootstraps() []Bootstrap {
	var bs []Bootstrap

	for _, id := range c.ServicesInBootOrder() {
		var conf any
		if p, ok := c.protocols[id]; ok {
			conf = p.copy()
		}

		bs = append(bs, Bootstrap{ID: id, Config: conf})
	}

	return bs
}

func (c *Config) Keychain(name string) (Keychain, bool) {
	kc, ok := c.keychains[name]
	return kc, ok
}

func (c *Config) copy() *Config {
	newConfig := Config{
		protocols: make(map[ServiceID]protocolConfig),
		keychains: make(map[string]Keychain, len(c.keychains)),
	}

	for k, v := range c.protocols {
		newConfig.protocols[k] = v.copy()
	}

	for k, v := range c.keychains {
		newConfig.keychains[k] = v.copy()
	}

	return &newConfig
}

func (c *Config) validate() error {
	for id, p := range c.protocols {
		if err := p.validate(); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}

	return nil
}
