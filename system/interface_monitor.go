package system

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/davidbalbert/eigrpd/sync"
)

type InterfaceMonitor interface {
	Run(context.Context) error
	Interfaces() []Interface

	// AwaitChange blocks until the interface list differs from the one
	// numbered seq. The returned slice must not be modified.
	AwaitChange(ctx context.Context, seq int64) ([]Interface, int64)
}

type baseInterfaceMonitor struct {
	*sync.Notifier[[]Interface]
	list func() ([]Interface, error)
	log  *slog.Logger
}

func newBaseInterfaceMonitor(list func() ([]Interface, error), logger *slog.Logger) (*baseInterfaceMonitor, error) {
	ifaces, err := list()
	if err != nil {
		return nil, err
	}

	return &baseInterfaceMonitor{
		Notifier: sync.NewNotifier(ifaces),
		list:     list,
		log:      logger,
	}, nil
}

// refresh rereads the interface list and notifies listeners if it changed.
func (m *baseInterfaceMonitor) refresh() error {
	ifaces, err := m.list()
	if err != nil {
		return err
	}

	current, _ := m.LastChange()
	if interfacesEqual(current, ifaces) {
		return nil
	}

	m.log.Debug("interfaces changed", "count", len(ifaces))
	m.NotifyChange(ifaces)

	return nil
}

func (m *baseInterfaceMonitor) Interfaces() []Interface {
	ifaces, _ := m.LastChange()
	return slices.Clone(ifaces)
}

// watch refreshes after each burst of kicks has been quiet for settle.
func (m *baseInterfaceMonitor) watch(ctx context.Context, kicks <-chan struct{}, settle time.Duration) error {
	var (
		t       *time.Timer
		settled <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return nil
		case _, ok := <-kicks:
			if !ok {
				kicks = nil
				continue
			}

			if t == nil {
				t = time.NewTimer(settle)
			} else {
				t.Reset(settle)
			}
			settled = t.C
		case <-settled:
			settled = nil
			if err := m.refresh(); err != nil {
				m.log.Warn("failed to list interfaces", "error", err)
			}
		}
	}
}
