// Package rpc is the daemon's grpc API. Messages are protobuf well-known
// types, so there's no generated code: lists travel as structpb.ListValue and
// records as structpb.Struct.
package rpc

import (
	context "context"
	"io"
	"net/netip"

	"github.com/davidbalbert/eigrpd/eigrp"
	"github.com/davidbalbert/eigrpd/events"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "eigrpd.API"

type APIService interface {
	GetVersion(ctx context.Context) (string, error)
	Shutdown(ctx context.Context) error

	GetInterfaces(ctx context.Context) ([]eigrp.InterfaceInfo, error)
	GetNeighbors(ctx context.Context) ([]eigrp.NeighborInfo, error)
	GetTopology(ctx context.Context) ([]eigrp.PrefixInfo, error)
	ResetNeighbor(ctx context.Context, ifname string, addr netip.Addr) error

	// WatchRoutes calls fn with the current routes and then every change
	// until ctx is done or fn fails.
	WatchRoutes(ctx context.Context, fn func(events.RouteEvent) error) error
}

func method(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req proto.Message, Resp any](name string, newReq func() Req, fn func(APIService, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return fn(srv.(APIService), ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(APIService), ctx, req.(Req))
			}

			return interceptor(ctx, in, info, handler)
		},
	}
}

func newEmpty() *emptypb.Empty { return &emptypb.Empty{} }

func newStruct() *structpb.Struct { return &structpb.Struct{} }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*APIService)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetVersion", newEmpty, func(s APIService, ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			v, err := s.GetVersion(ctx)
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(v), nil
		}),
		unary("Shutdown", newEmpty, func(s APIService, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			if err := s.Shutdown(ctx); err != nil {
				return nil, err
			}
			return &emptypb.Empty{}, nil
		}),
		unary("GetInterfaces", newEmpty, func(s APIService, ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
			ifaces, err := s.GetInterfaces(ctx)
			if err != nil {
				return nil, err
			}
			return encodeList(ifaces, interfaceFields)
		}),
		unary("GetNeighbors", newEmpty, func(s APIService, ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
			ns, err := s.GetNeighbors(ctx)
			if err != nil {
				return nil, err
			}
			return encodeList(ns, neighborFields)
		}),
		unary("GetTopology", newEmpty, func(s APIService, ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
			top, err := s.GetTopology(ctx)
			if err != nil {
				return nil, err
			}
			return encodeList(top, prefixFields)
		}),
		unary("ResetNeighbor", newStruct, func(s APIService, ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
			f := fields(req.GetFields())

			var d decoder
			ifname := f.str("interface")
			addr := d.addr(f, "addr")
			if d.err != nil || ifname == "" || !addr.IsValid() {
				return nil, status.Error(codes.InvalidArgument, "interface and addr are required")
			}

			if err := s.ResetNeighbor(ctx, ifname, addr); err != nil {
				return nil, err
			}
			return &emptypb.Empty{}, nil
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchRoutes",
			Handler:       watchRoutesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "eigrpd/rpc",
}

func watchRoutesHandler(srv any, stream grpc.ServerStream) error {
	if err := stream.RecvMsg(&emptypb.Empty{}); err != nil {
		return err
	}

	return srv.(APIService).WatchRoutes(stream.Context(), func(ev events.RouteEvent) error {
		s, err := structpb.NewStruct(routeEventFields(ev))
		if err != nil {
			return err
		}
		return stream.SendMsg(s)
	})
}

// Register adds s to server.
func Register(server grpc.ServiceRegistrar, s APIService) {
	server.RegisterService(&serviceDesc, s)
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetVersion(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, method("GetVersion"), &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.cc.Invoke(ctx, method("Shutdown"), &emptypb.Empty{}, new(emptypb.Empty))
}

func (c *Client) list(ctx context.Context, name string) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, method(name), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetInterfaces(ctx context.Context) ([]eigrp.InterfaceInfo, error) {
	l, err := c.list(ctx, "GetInterfaces")
	if err != nil {
		return nil, err
	}
	return decodeList(l, decodeInterface)
}

func (c *Client) GetNeighbors(ctx context.Context) ([]eigrp.NeighborInfo, error) {
	l, err := c.list(ctx, "GetNeighbors")
	if err != nil {
		return nil, err
	}
	return decodeList(l, decodeNeighbor)
}

func (c *Client) GetTopology(ctx context.Context) ([]eigrp.PrefixInfo, error) {
	l, err := c.list(ctx, "GetTopology")
	if err != nil {
		return nil, err
	}
	return decodeList(l, decodePrefix)
}

func (c *Client) ResetNeighbor(ctx context.Context, ifname string, addr netip.Addr) error {
	req, err := structpb.NewStruct(map[string]any{
		"interface": ifname,
		"addr":      addr.String(),
	})
	if err != nil {
		return err
	}

	return c.cc.Invoke(ctx, method("ResetNeighbor"), req, new(emptypb.Empty))
}

func (c *Client) WatchRoutes(ctx context.Context, fn func(events.RouteEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], method("WatchRoutes"))
	if err != nil {
		return err
	}

	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}

	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		m := new(structpb.Struct)
		if err := stream.RecvMsg(m); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		ev, err := decodeRouteEvent(fields(m.GetFields()))
		if err != nil {
			return err
		}

		if err := fn(ev); err != nil {
			return err
		}
	}
}
