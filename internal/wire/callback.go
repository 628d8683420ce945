// ABOUTME: The mapibridge.v1.Callback service: what the broker server calls back into
// ABOUTME: Carries enumeration visits and change notifications to the client process

package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// CallbackService is the fully qualified service name.
const CallbackService = "mapibridge.v1.Callback"

// Full method names of the callback service.
const (
	CallbackPing          = "/" + CallbackService + "/Ping"
	CallbackVisitContact  = "/" + CallbackService + "/VisitContact"
	CallbackVisitCalendar = "/" + CallbackService + "/VisitCalendar"
	CallbackInserted      = "/" + CallbackService + "/Inserted"
	CallbackUpdated       = "/" + CallbackService + "/Updated"
	CallbackDeleted       = "/" + CallbackService + "/Deleted"
)

// CallbackServer is implemented by the broker client.
type CallbackServer interface {
	Ping(ctx context.Context, req *emptypb.Empty) (*PingResponse, error)
	VisitContact(ctx context.Context, req *VisitRequest) (*VisitResponse, error)
	VisitCalendar(ctx context.Context, req *VisitRequest) (*VisitResponse, error)
	Inserted(ctx context.Context, req *NotifyRequest) (*emptypb.Empty, error)
	Updated(ctx context.Context, req *NotifyRequest) (*emptypb.Empty, error)
	Deleted(ctx context.Context, req *NotifyRequest) (*emptypb.Empty, error)
}

// CallbackServiceDesc describes the callback service to grpc.Server.
var CallbackServiceDesc = grpc.ServiceDesc{
	ServiceName: CallbackService,
	HandlerType: (*CallbackServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CallbackService, "Ping", func(srv any, ctx context.Context, req *emptypb.Empty) (*PingResponse, error) {
			return srv.(CallbackServer).Ping(ctx, req)
		}),
		unary(CallbackService, "VisitContact", func(srv any, ctx context.Context, req *VisitRequest) (*VisitResponse, error) {
			return srv.(CallbackServer).VisitContact(ctx, req)
		}),
		unary(CallbackService, "VisitCalendar", func(srv any, ctx context.Context, req *VisitRequest) (*VisitResponse, error) {
			return srv.(CallbackServer).VisitCalendar(ctx, req)
		}),
		unary(CallbackService, "Inserted", func(srv any, ctx context.Context, req *NotifyRequest) (*emptypb.Empty, error) {
			return srv.(CallbackServer).Inserted(ctx, req)
		}),
		unary(CallbackService, "Updated", func(srv any, ctx context.Context, req *NotifyRequest) (*emptypb.Empty, error) {
			return srv.(CallbackServer).Updated(ctx, req)
		}),
		unary(CallbackService, "Deleted", func(srv any, ctx context.Context, req *NotifyRequest) (*emptypb.Empty, error) {
			return srv.(CallbackServer).Deleted(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mapibridge/v1/callback",
}

// RegisterCallbackServer registers srv on s.
func RegisterCallbackServer(s grpc.ServiceRegistrar, srv CallbackServer) {
	s.RegisterService(&CallbackServiceDesc, srv)
}

// CallbackClient calls the callback service.
type CallbackClient struct {
	cc grpc.ClientConnInterface
}

// NewCallbackClient wraps cc.
func NewCallbackClient(cc grpc.ClientConnInterface) *CallbackClient {
	return &CallbackClient{cc: cc}
}

func (c *CallbackClient) Ping(ctx context.Context, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, CallbackPing, &emptypb.Empty{}, opts)
}

func (c *CallbackClient) VisitContact(ctx context.Context, req *VisitRequest, opts ...grpc.CallOption) (*VisitResponse, error) {
	return invoke[VisitResponse](ctx, c.cc, CallbackVisitContact, req, opts)
}

func (c *CallbackClient) VisitCalendar(ctx context.Context, req *VisitRequest, opts ...grpc.CallOption) (*VisitResponse, error) {
	return invoke[VisitResponse](ctx, c.cc, CallbackVisitCalendar, req, opts)
}

func (c *CallbackClient) Inserted(ctx context.Context, req *NotifyRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, CallbackInserted, req, opts)
	return err
}

func (c *CallbackClient) Updated(ctx context.Context, req *NotifyRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, CallbackUpdated, req, opts)
	return err
}

func (c *CallbackClient) Deleted(ctx context.Context, req *NotifyRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, CallbackDeleted, req, opts)
	return err
}
