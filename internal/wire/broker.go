// ABOUTME: The mapibridge.v1.Broker service: operations the broker server exposes
// ABOUTME: Hand-written descriptor, server interface and client stub

package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// BrokerService is the fully qualified service name.
const BrokerService = "mapibridge.v1.Broker"

// Full method names of the broker service.
const (
	BrokerPing              = "/" + BrokerService + "/Ping"
	BrokerStop              = "/" + BrokerService + "/Stop"
	BrokerEnumerate         = "/" + BrokerService + "/Enumerate"
	BrokerGetProps          = "/" + BrokerService + "/GetProps"
	BrokerSetPropString     = "/" + BrokerService + "/SetPropString"
	BrokerDeleteProp        = "/" + BrokerService + "/DeleteProp"
	BrokerCreateEntity      = "/" + BrokerService + "/CreateEntity"
	BrokerDeleteEntity      = "/" + BrokerService + "/DeleteEntity"
	BrokerCompareEntryIDs   = "/" + BrokerService + "/CompareEntryIDs"
	BrokerEnumerateCalendar = "/" + BrokerService + "/EnumerateCalendar"
)

// BrokerServer is implemented by the broker server.
type BrokerServer interface {
	Ping(ctx context.Context, req *emptypb.Empty) (*PingResponse, error)
	Stop(ctx context.Context, req *StopRequest) (*emptypb.Empty, error)
	Enumerate(ctx context.Context, req *EnumerateRequest) (*EnumerateResponse, error)
	GetProps(ctx context.Context, req *GetPropsRequest) (*GetPropsResponse, error)
	SetPropString(ctx context.Context, req *SetPropStringRequest) (*emptypb.Empty, error)
	DeleteProp(ctx context.Context, req *DeletePropRequest) (*emptypb.Empty, error)
	CreateEntity(ctx context.Context, req *CreateEntityRequest) (*EntityResponse, error)
	DeleteEntity(ctx context.Context, req *EntryIDRequest) (*emptypb.Empty, error)
	CompareEntryIDs(ctx context.Context, req *CompareRequest) (*CompareResponse, error)
	EnumerateCalendar(ctx context.Context, req *EnumerateRequest) (*EnumerateResponse, error)
}

// BrokerServiceDesc describes the broker service to grpc.Server.
var BrokerServiceDesc = grpc.ServiceDesc{
	ServiceName: BrokerService,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(BrokerService, "Ping", func(srv any, ctx context.Context, req *emptypb.Empty) (*PingResponse, error) {
			return srv.(BrokerServer).Ping(ctx, req)
		}),
		unary(BrokerService, "Stop", func(srv any, ctx context.Context, req *StopRequest) (*emptypb.Empty, error) {
			return srv.(BrokerServer).Stop(ctx, req)
		}),
		unary(BrokerService, "Enumerate", func(srv any, ctx context.Context, req *EnumerateRequest) (*EnumerateResponse, error) {
			return srv.(BrokerServer).Enumerate(ctx, req)
		}),
		unary(BrokerService, "GetProps", func(srv any, ctx context.Context, req *GetPropsRequest) (*GetPropsResponse, error) {
			return srv.(BrokerServer).GetProps(ctx, req)
		}),
		unary(BrokerService, "SetPropString", func(srv any, ctx context.Context, req *SetPropStringRequest) (*emptypb.Empty, error) {
			return srv.(BrokerServer).SetPropString(ctx, req)
		}),
		unary(BrokerService, "DeleteProp", func(srv any, ctx context.Context, req *DeletePropRequest) (*emptypb.Empty, error) {
			return srv.(BrokerServer).DeleteProp(ctx, req)
		}),
		unary(BrokerService, "CreateEntity", func(srv any, ctx context.Context, req *CreateEntityRequest) (*EntityResponse, error) {
			return srv.(BrokerServer).CreateEntity(ctx, req)
		}),
		unary(BrokerService, "DeleteEntity", func(srv any, ctx context.Context, req *EntryIDRequest) (*emptypb.Empty, error) {
			return srv.(BrokerServer).DeleteEntity(ctx, req)
		}),
		unary(BrokerService, "CompareEntryIDs", func(srv any, ctx context.Context, req *CompareRequest) (*CompareResponse, error) {
			return srv.(BrokerServer).CompareEntryIDs(ctx, req)
		}),
		unary(BrokerService, "EnumerateCalendar", func(srv any, ctx context.Context, req *EnumerateRequest) (*EnumerateResponse, error) {
			return srv.(BrokerServer).EnumerateCalendar(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mapibridge/v1/broker",
}

// RegisterBrokerServer registers srv on s.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&BrokerServiceDesc, srv)
}

// BrokerClient calls the broker service.
type BrokerClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerClient wraps cc.
func NewBrokerClient(cc grpc.ClientConnInterface) *BrokerClient {
	return &BrokerClient{cc: cc}
}

func (c *BrokerClient) Ping(ctx context.Context, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, BrokerPing, &emptypb.Empty{}, opts)
}

func (c *BrokerClient) Stop(ctx context.Context, req *StopRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, BrokerStop, req, opts)
	return err
}

func (c *BrokerClient) Enumerate(ctx context.Context, req *EnumerateRequest, opts ...grpc.CallOption) (*EnumerateResponse, error) {
	return invoke[EnumerateResponse](ctx, c.cc, BrokerEnumerate, req, opts)
}

func (c *BrokerClient) GetProps(ctx context.Context, req *GetPropsRequest, opts ...grpc.CallOption) (*GetPropsResponse, error) {
	return invoke[GetPropsResponse](ctx, c.cc, BrokerGetProps, req, opts)
}

func (c *BrokerClient) SetPropString(ctx context.Context, req *SetPropStringRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, BrokerSetPropString, req, opts)
	return err
}

func (c *BrokerClient) DeleteProp(ctx context.Context, req *DeletePropRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, BrokerDeleteProp, req, opts)
	return err
}

func (c *BrokerClient) CreateEntity(ctx context.Context, req *CreateEntityRequest, opts ...grpc.CallOption) (*EntityResponse, error) {
	return invoke[EntityResponse](ctx, c.cc, BrokerCreateEntity, req, opts)
}

func (c *BrokerClient) DeleteEntity(ctx context.Context, req *EntryIDRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, BrokerDeleteEntity, req, opts)
	return err
}

func (c *BrokerClient) CompareEntryIDs(ctx context.Context, req *CompareRequest, opts ...grpc.CallOption) (*CompareResponse, error) {
	return invoke[CompareResponse](ctx, c.cc, BrokerCompareEntryIDs, req, opts)
}

func (c *BrokerClient) EnumerateCalendar(ctx context.Context, req *EnumerateRequest, opts ...grpc.CallOption) (*EnumerateResponse, error) {
	return invoke[EnumerateResponse](ctx, c.cc, BrokerEnumerateCalendar, req, opts)
}
