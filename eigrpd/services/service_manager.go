package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/davidbalbert/eigrpd/config"
	"golang.org/x/sync/errgroup"
)

type Runner interface {
	Run(ctx context.Context) error
}

type BuilderFunc func(m *ServiceManager, conf any) (Runner, error)

var builders = make(map[config.ServiceType]BuilderFunc)

func registerServiceType(t config.ServiceType, fn BuilderFunc) error {
	_, ok := builders[t]
	if ok {
		return fmt.Errorf("service type already registered: %v", t)
	}

	builders[t] = fn

	return nil
}

func MustRegisterServiceType(t config.ServiceType, fn BuilderFunc) {
	err := registerServiceType(t, fn)
	if err != nil {
		panic(err)
	}
}

type ServiceController struct {
	service any
	id      config.ServiceID
	cancel  context.CancelFunc
	done    chan struct{}
}

func (c *ServiceController) Stop() {
	c.cancel()
}

func (c *ServiceController) Wait() {
	<-c.done
}

type state struct {
	controllers map[string]ServiceController
}

type ServiceManager struct {
	st            chan state
	configManager *config.ConfigManager
	log           *slog.Logger
}

func NewServiceManager(configManager *config.ConfigManager, logger *slog.Logger) *ServiceManager {
	if logger == nil {
		logger = slog.Default()
	}

	st := state{
		controllers: make(map[string]ServiceController),
	}

	c := make(chan state, 1)
	c <- st

	return &ServiceManager{
		st:            c,
		configManager: configManager,
		log:           logger,
	}
}

func (s *ServiceManager) Logger() *slog.Logger {
	return s.log
}

func (s *ServiceManager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	confCh := make(chan *config.Config, 1)

	g.Go(func() error {
		conf, seq := s.configManager.LastChange()
		for {
			select {
			case <-ctx.Done():
				return nil
			case confCh <- conf:
			}

			conf, seq = s.configManager.AwaitChange(ctx, seq)
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case conf := <-confCh:
				st := <-s.st

				if len(st.controllers) > 0 {
					s.log.Info("config changed, restarting services")
				}

				for _, controller := range st.controllers {
					controller.Stop()
				}

				for name, controller := range st.controllers {
					controller.Wait()
					delete(st.controllers, name)
				}

				for _, b := range conf.Bootstraps() {
					err := s.start(ctx, g, st, b)
					if err != nil {
						s.st <- st
						return err
					}
				}

				s.st <- st
			}
		}
	})

	return g.Wait()
}

func (s *ServiceManager) start(ctx context.Context, g *errgroup.Group, st state, b config.Bootstrap) error {
	_, ok := st.controllers[b.ID.Name]
	if ok {
		return fmt.Errorf("service already running: %s", b.ID.Name)
	}

	builder, ok := builders[b.ID.Type]
	if !ok {
		return fmt.Errorf("unknown service type: %v", b.ID.Type)
	}

	service, err := builder(s, b.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	done := make(chan struct{})

	st.controllers[b.ID.Name] = ServiceController{
		service: service,
		id:      b.ID,
		cancel:  cancel,
		done:    done,
	}

	s.log.Info("starting service", "service", b.ID.Name)

	g.Go(func() error {
		defer close(done)

		err := service.Run(ctx)
		if err != nil {
			s.log.Error("service failed", "service", b.ID.Name, "error", err)
			return fmt.Errorf("%s: %w", b.ID.Name, err)
		}

		s.log.Info("stopped service", "service", b.ID.Name)
		return nil
	})

	return nil
}

// Get returns the running service with id. Services are started while the
// manager is locked, so a builder must not call Get. Call it from Run.
func (s *ServiceManager) Get(ctx context.Context, id config.ServiceID) (any, error) {
	var st state
	select {
	case st = <-s.st:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		s.st <- st
	}()

	controller, ok := st.controllers[id.Name]
	if !ok {
		return nil, fmt.Errorf("service not running: %s", id.Name)
	}

	return controller.service, nil
}

// Get returns the running service with id as a T.
func Get[T any](ctx context.Context, s *ServiceManager, id config.ServiceID) (T, error) {
	var zero T

	service, err := s.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	t, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("service %s is a %T", id.Name, service)
	}

	return t, nil
}

func (s *ServiceManager) ConfigManager() *config.ConfigManager {
	return s.configManager
}

func (s *ServiceManager) RunningServices() []config.ServiceID {
	st := <-s.st
	defer func() {
		s.st <- st
	}()

	var ids []config.ServiceID

	for _, controller := range st.controllers {
		ids = append(ids, controller.id)
	}

	slices.SortFunc(ids, func(a, b config.ServiceID) int {
		return strings.Compare(a.Name, b.Name)
	})

	return ids
}
