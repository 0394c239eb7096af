package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/eigrpd/services"
	"github.com/davidbalbert/eigrpd/events"
	"github.com/davidbalbert/eigrpd/rib"
	"github.com/davidbalbert/eigrpd/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type nopNetwork struct{}

func (nopNetwork) Send(string, netip.Addr, []byte) error { return nil }

type idle struct{}

func (idle) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// fakeEIGRP runs a real instance that talks to nobody.
type fakeEIGRP struct {
	m    *services.ServiceManager
	conf *config.EIGRPConfig
	inst atomic.Pointer[eigrp.Instance]
}

func (f *fakeEIGRP) Instance() (*eigrp.Instance, error) {
	inst := f.inst.Load()
	if inst == nil {
		return nil, errors.New("eigrp is not running")
	}
	return inst, nil
}

func (f *fakeEIGRP) Run(ctx context.Context) error {
	table, err := services.Get[*rib.RIB](ctx, f.m, config.ServiceRIB)
	if err != nil {
		return err
	}

	inst, err := eigrp.NewInstance(f.conf, eigrp.Options{
		Network:   nopNetwork{},
		Installer: table,
		Logger:    f.m.Logger(),
	})
	if err != nil {
		return err
	}

	inst.AddInterface("eth0", netip.MustParsePrefix("10.0.1.1/24"), 1500)
	f.inst.Store(inst)

	return inst.Run(ctx)
}

func TestMain(m *testing.M) {
	services.MustRegisterServiceType(config.ServiceTypeAPIServer, func(*services.ServiceManager, any) (services.Runner, error) {
		return idle{}, nil
	})
	services.MustRegisterServiceType(config.ServiceTypeInterfaceMonitor, func(*services.ServiceManager, any) (services.Runner, error) {
		return idle{}, nil
	})
	services.MustRegisterServiceType(config.ServiceTypeRIB, rib.NewService)
	services.MustRegisterServiceType(config.ServiceTypeEIGRP, func(m *services.ServiceManager, conf any) (services.Runner, error) {
		return &fakeEIGRP{m: m, conf: conf.(*config.EIGRPConfig)}, nil
	})

	goleak.VerifyTestMain(m)
}

const testConfig = `
eigrp:
  router-id: 10.255.0.1
  as: 1
  interface eth0:
`

func startDaemon(t *testing.T, conf string) (*Client, context.Context, *atomic.Bool) {
	t.Helper()

	c, err := config.ParseConfig(conf)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	m := services.NewServiceManager(config.NewConfigManagerFromConfig(c), slog.New(slog.NewTextHandler(io.Discard, nil)))

	var shutdown atomic.Bool
	s := NewServer(m, "", func() { shutdown.Store(true) }, "1.0.0")

	lis := bufconn.Listen(1 << 20)

	mDone := make(chan error, 1)
	sDone := make(chan error, 1)
	go func() { mDone <- m.Run(ctx) }()
	go func() { sDone <- s.serve(ctx, lis) }()

	want := len(c.ServicesInBootOrder())
	require.Eventually(t, func() bool {
		return len(m.RunningServices()) == want
	}, 5*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		assert.NoError(t, <-mDone)
		<-sDone
	})

	return &Client{ClientConn: conn, Client: rpc.NewClient(conn)}, ctx, &shutdown
}

func TestAPI(t *testing.T) {
	c, ctx, shutdown := startDaemon(t, testConfig)

	v, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	var ifaces []eigrp.InterfaceInfo
	require.Eventually(t, func() bool {
		ifaces, err = c.GetInterfaces(ctx)
		return err == nil && len(ifaces) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.1/24"), ifaces[0].Prefix)
	assert.Equal(t, config.DefaultHelloInterval, ifaces[0].HelloInterval)

	ns, err := c.GetNeighbors(ctx)
	require.NoError(t, err)
	assert.Empty(t, ns)

	top, err := c.GetTopology(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.0/24"), top[0].Prefix)
	assert.Equal(t, eigrp.RouteConnected, top[0].Type)

	err = c.ResetNeighbor(ctx, "eth0", netip.MustParseAddr("10.0.1.2"))
	assert.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, c.Shutdown(ctx))
	assert.True(t, shutdown.Load())
}

func TestWatchRoutes(t *testing.T) {
	c, ctx, _ := startDaemon(t, testConfig)

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := errors.New("done")

	var got events.RouteEvent
	err := c.WatchRoutes(wctx, func(ev events.RouteEvent) error {
		got = ev
		return done
	})
	require.ErrorIs(t, err, done)

	assert.Equal(t, events.RouteAdded, got.Type)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.0/24"), got.Route.Prefix)
	require.Len(t, got.Route.NextHops, 1)
	assert.Equal(t, "eth0", got.Route.NextHops[0].Interface)
	assert.False(t, got.Route.NextHops[0].Addr.IsValid())
}

func TestNotRunning(t *testing.T) {
	// No interfaces, so EIGRP isn't started.
	c, ctx, _ := startDaemon(t, "eigrp:\n  as: 1\n")

	_, err := c.GetTopology(ctx)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = c.GetNeighbors(ctx)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
