package api

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/netip"
	"os"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/eigrpd/services"
	"github.com/davidbalbert/eigrpd/events"
	"github.com/davidbalbert/eigrpd/rib"
	"github.com/davidbalbert/eigrpd/rpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	serviceManager *services.ServiceManager
	shutdown       context.CancelFunc
	socket         string
	version        string
	log            *slog.Logger

	// done while the server is stopping
	stopping context.Context
}

func NewServer(serviceManager *services.ServiceManager, socket string, shutdown context.CancelFunc, version string) *Server {
	return &Server{
		serviceManager: serviceManager,
		shutdown:       shutdown,
		socket:         socket,
		version:        version,
		log:            serviceManager.Logger().With("service", "api"),
	}
}

func (s *Server) Run(ctx context.Context) error {
	// A socket left behind by an unclean exit.
	if err := os.Remove(s.socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	listener, err := net.Listen("unix", s.socket)
	if err != nil {
		return err
	}

	s.log.Info("listening", "socket", s.socket)

	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	s.stopping = ctx

	grpcServer := grpc.NewServer()
	rpc.Register(grpcServer, s)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return grpcServer.Serve(listener)
	})

	g.Go(func() error {
		<-ctx.Done()
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

func (s *Server) GetVersion(ctx context.Context) (string, error) {
	return s.version, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutdown requested")
	s.shutdown()
	return nil
}

func (s *Server) instance(ctx context.Context) (*eigrp.Instance, error) {
	svc, err := services.Get[eigrpService](ctx, s.serviceManager, config.ServiceEIGRP)
	if err != nil {
		return nil, unavailable(err)
	}

	inst, err := svc.Instance()
	if err != nil {
		return nil, unavailable(err)
	}

	return inst, nil
}

func (s *Server) GetInterfaces(ctx context.Context) ([]eigrp.InterfaceInfo, error) {
	inst, err := s.instance(ctx)
	if err != nil {
		return nil, err
	}

	ifaces, err := inst.Interfaces(ctx)
	return ifaces, toStatus(err)
}

func (s *Server) GetNeighbors(ctx context.Context) ([]eigrp.NeighborInfo, error) {
	inst, err := s.instance(ctx)
	if err != nil {
		return nil, err
	}

	ns, err := inst.Neighbors(ctx)
	return ns, toStatus(err)
}

func (s *Server) GetTopology(ctx context.Context) ([]eigrp.PrefixInfo, error) {
	inst, err := s.instance(ctx)
	if err != nil {
		return nil, err
	}

	top, err := inst.Topology(ctx)
	return top, toStatus(err)
}

func (s *Server) ResetNeighbor(ctx context.Context, ifname string, addr netip.Addr) error {
	inst, err := s.instance(ctx)
	if err != nil {
		return err
	}

	err = inst.ResetNeighbor(ctx, ifname, addr)
	if err != nil && status.Code(toStatus(err)) == codes.Unknown {
		return status.Error(codes.NotFound, err.Error())
	}

	return toStatus(err)
}

func (s *Server) WatchRoutes(ctx context.Context, fn func(events.RouteEvent) error) error {
	table, err := services.Get[*rib.RIB](ctx, s.serviceManager, config.ServiceRIB)
	if err != nil {
		return unavailable(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.stopping != nil {
		stop := context.AfterFunc(s.stopping, cancel)
		defer stop()
	}

	err = table.Watch(ctx, fn)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
