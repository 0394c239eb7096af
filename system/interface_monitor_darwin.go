package system

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/davidbalbert/eigrpd/eigrpd/services"
	"golang.org/x/sync/errgroup"
)

// scutil notification keys for link and address changes.
const scutilWatch = `n.add State:/Network/Interface
n.add State:/Network/Interface/[^/]+/Link "pattern"
n.add State:/Network/Interface/[^/]+/IPv4 "pattern"
n.watch
`

// scutilInterfaceMonitor refreshes whenever configd reports an interface
// change.
type scutilInterfaceMonitor struct {
	*baseInterfaceMonitor
}

func NewInterfaceMonitor(serviceManager *services.ServiceManager, conf any) (services.Runner, error) {
	base, err := newBaseInterfaceMonitor(getInterfaces, serviceManager.Logger().With("service", "interface-monitor"))
	if err != nil {
		return nil, err
	}

	return &scutilInterfaceMonitor{base}, nil
}

func (m *scutilInterfaceMonitor) Run(ctx context.Context) error {
	// Closing stdin makes scutil exit cleanly. exec.CommandContext would
	// kill it and report an error.
	cmd := exec.Command("scutil")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("scutil stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("scutil stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start scutil: %w", err)
	}

	kicks := make(chan struct{}, 1)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stdin.Close()

		if _, err := io.WriteString(stdin, scutilWatch); err != nil {
			return fmt.Errorf("scutil stdin: %w", err)
		}

		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		defer close(kicks)

		s := bufio.NewScanner(stdout)
		for s.Scan() {
			if !strings.Contains(s.Text(), "State:/Network/Interface") {
				continue
			}

			select {
			case kicks <- struct{}{}:
			default:
			}
		}

		return s.Err()
	})

	g.Go(func() error {
		return m.watch(ctx, kicks, 200*time.Millisecond)
	})

	err = g.Wait()
	if werr := cmd.Wait(); err == nil {
		err = werr
	}

	return err
}
