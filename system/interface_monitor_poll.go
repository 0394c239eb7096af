//go:build !darwin

package system

import (
	"context"
	"time"

	"github.com/davidbalbert/eigrpd/eigrpd/services"
)

const pollInterval = 2 * time.Second

// pollingInterfaceMonitor rereads the interface list on a timer.
type pollingInterfaceMonitor struct {
	*baseInterfaceMonitor
	interval time.Duration
}

func NewInterfaceMonitor(serviceManager *services.ServiceManager, conf any) (services.Runner, error) {
	base, err := newBaseInterfaceMonitor(getInterfaces, serviceManager.Logger().With("service", "interface-monitor"))
	if err != nil {
		return nil, err
	}

	return &pollingInterfaceMonitor{
		baseInterfaceMonitor: base,
		interval:             pollInterval,
	}, nil
}

func (m *pollingInterfaceMonitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := m.refresh(); err != nil {
				m.log.Warn("failed to list interfaces", "error", err)
			}
		}
	}
}
