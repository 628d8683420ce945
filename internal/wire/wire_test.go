// ABOUTME: Tests for the codec, the service descriptors and status mapping
// ABOUTME: Runs both services over a loopback gRPC listener

package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, "cbor", c.Name())

	in := &GetPropsResponse{Values: []byte("abc"), Lengths: []uint32{1, 2}, Types: []byte{'s', 's'}}
	data, err := c.Marshal(in)
	require.NoError(t, err)
	var out GetPropsResponse
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, *in, out)

	data, err = c.Marshal(&emptypb.Empty{})
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, c.Unmarshal(data, &emptypb.Empty{}))

	assert.Error(t, c.Unmarshal([]byte{0xFF, 0x00}, &out))
}

// fakeBroker answers every broker call from fixed data.
type fakeBroker struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeBroker) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeBroker) Ping(context.Context, *emptypb.Empty) (*PingResponse, error) {
	f.record("Ping")
	return &PingResponse{PID: 42, Bitness: 64}, nil
}

func (f *fakeBroker) Stop(_ context.Context, req *StopRequest) (*emptypb.Empty, error) {
	f.record("Stop:" + req.Reason)
	return &emptypb.Empty{}, nil
}

func (f *fakeBroker) Enumerate(_ context.Context, req *EnumerateRequest) (*EnumerateResponse, error) {
	f.record("Enumerate:" + req.Query)
	return &EnumerateResponse{Visited: 3, Stopped: true}, nil
}

func (f *fakeBroker) GetProps(_ context.Context, req *GetPropsRequest) (*GetPropsResponse, error) {
	f.record("GetProps")
	if req.EntryID == "zz" {
		return nil, ToStatus(fmt.Errorf("decoding: %w", mapi.ErrInvalidEntryID))
	}
	return &GetPropsResponse{Values: []byte{1, 0, 0, 0}, Lengths: []uint32{4}, Types: []byte{'l'}}, nil
}

func (f *fakeBroker) SetPropString(context.Context, *SetPropStringRequest) (*emptypb.Empty, error) {
	f.record("SetPropString")
	return &emptypb.Empty{}, nil
}

func (f *fakeBroker) DeleteProp(context.Context, *DeletePropRequest) (*emptypb.Empty, error) {
	f.record("DeleteProp")
	return &emptypb.Empty{}, nil
}

func (f *fakeBroker) CreateEntity(context.Context, *CreateEntityRequest) (*EntityResponse, error) {
	f.record("CreateEntity")
	return &EntityResponse{EntryID: "4D01"}, nil
}

func (f *fakeBroker) DeleteEntity(_ context.Context, req *EntryIDRequest) (*emptypb.Empty, error) {
	f.record("DeleteEntity")
	return nil, ToStatus(fmt.Errorf("message %s: %w", req.EntryID, mapi.ErrNotFound))
}

func (f *fakeBroker) CompareEntryIDs(_ context.Context, req *CompareRequest) (*CompareResponse, error) {
	f.record("CompareEntryIDs")
	return &CompareResponse{Equal: req.A == req.B}, nil
}

func (f *fakeBroker) EnumerateCalendar(context.Context, *EnumerateRequest) (*EnumerateResponse, error) {
	f.record("EnumerateCalendar")
	return &EnumerateResponse{}, nil
}

func serve(t *testing.T, register func(*grpc.Server), opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(opts...)
	register(srv)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		<-done
	})
	return conn
}

func TestBrokerService(t *testing.T) {
	fake := &fakeBroker{}
	var mu sync.Mutex
	var methods []string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		mu.Lock()
		methods = append(methods, info.FullMethod)
		mu.Unlock()
		return handler(ctx, req)
	}
	conn := serve(t, func(s *grpc.Server) { RegisterBrokerServer(s, fake) }, grpc.UnaryInterceptor(interceptor))
	client := NewBrokerClient(conn)
	ctx := context.Background()

	ping, err := client.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, ping.PID)

	require.NoError(t, client.Stop(ctx, &StopRequest{Reason: "bye"}))

	enum, err := client.Enumerate(ctx, &EnumerateRequest{Query: "ada", VisitToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, 3, enum.Visited)
	assert.True(t, enum.Stopped)

	props, err := client.GetProps(ctx, &GetPropsRequest{EntryID: "4D01", Tags: []uint32{0x00170003}})
	require.NoError(t, err)
	assert.Equal(t, []byte{'l'}, props.Types)

	_, err = client.GetProps(ctx, &GetPropsRequest{EntryID: "zz"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.ErrorIs(t, FromStatus(err), mapi.ErrInvalidEntryID)

	require.NoError(t, client.SetPropString(ctx, &SetPropStringRequest{EntryID: "4D01", Tag: 1, Value: "x"}))
	require.NoError(t, client.DeleteProp(ctx, &DeletePropRequest{EntryID: "4D01", Tag: 1}))

	created, err := client.CreateEntity(ctx, &CreateEntityRequest{})
	require.NoError(t, err)
	assert.Equal(t, "4D01", created.EntryID)

	err = client.DeleteEntity(ctx, &EntryIDRequest{EntryID: "4D02"})
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.ErrorIs(t, FromStatus(err), mapi.ErrNotFound)

	cmp, err := client.CompareEntryIDs(ctx, &CompareRequest{A: "AA", B: "AA"})
	require.NoError(t, err)
	assert.True(t, cmp.Equal)

	_, err = client.EnumerateCalendar(ctx, &EnumerateRequest{VisitToken: "t"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, methods, BrokerPing)
	assert.Contains(t, methods, BrokerEnumerateCalendar)
	assert.Len(t, methods, 11)
}

type fakeCallback struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeCallback) add(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, s)
}

func (f *fakeCallback) Ping(context.Context, *emptypb.Empty) (*PingResponse, error) {
	return &PingResponse{PID: 7}, nil
}

func (f *fakeCallback) VisitContact(_ context.Context, req *VisitRequest) (*VisitResponse, error) {
	f.add("contact:" + req.EntryID)
	return &VisitResponse{Continue: true}, nil
}

func (f *fakeCallback) VisitCalendar(_ context.Context, req *VisitRequest) (*VisitResponse, error) {
	f.add("calendar:" + req.EntryID)
	return &VisitResponse{Continue: false}, nil
}

func (f *fakeCallback) Inserted(_ context.Context, req *NotifyRequest) (*emptypb.Empty, error) {
	f.add("inserted:" + req.EntryID + ":" + req.Kind)
	return &emptypb.Empty{}, nil
}

func (f *fakeCallback) Updated(_ context.Context, req *NotifyRequest) (*emptypb.Empty, error) {
	f.add("updated:" + req.EntryID + ":" + req.Kind)
	return &emptypb.Empty{}, nil
}

func (f *fakeCallback) Deleted(_ context.Context, req *NotifyRequest) (*emptypb.Empty, error) {
	f.add("deleted:" + req.EntryID + ":" + req.Kind)
	return &emptypb.Empty{}, nil
}

func TestCallbackService(t *testing.T) {
	fake := &fakeCallback{}
	conn := serve(t, func(s *grpc.Server) { RegisterCallbackServer(s, fake) })
	client := NewCallbackClient(conn)
	ctx := context.Background()

	ping, err := client.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, ping.PID)

	visit, err := client.VisitContact(ctx, &VisitRequest{VisitToken: "t", EntryID: "AA"})
	require.NoError(t, err)
	assert.True(t, visit.Continue)
	visit, err = client.VisitCalendar(ctx, &VisitRequest{VisitToken: "t", EntryID: "BB"})
	require.NoError(t, err)
	assert.False(t, visit.Continue)

	require.NoError(t, client.Inserted(ctx, &NotifyRequest{EntryID: "AA", Kind: "contact"}))
	require.NoError(t, client.Updated(ctx, &NotifyRequest{EntryID: "AA", Kind: "contact"}))
	require.NoError(t, client.Deleted(ctx, &NotifyRequest{EntryID: "AA", Kind: "contact"}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{
		"contact:AA",
		"calendar:BB",
		"inserted:AA:contact",
		"updated:AA:contact",
		"deleted:AA:contact",
	}, fake.events)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     codes.Code
		sentinel error
	}{
		{"invalid id", mapi.ErrInvalidEntryID, codes.InvalidArgument, mapi.ErrInvalidEntryID},
		{"not found", fmt.Errorf("open: %w", mapi.ErrNotFound), codes.NotFound, mapi.ErrNotFound},
		{"access denied", mapi.ErrAccessDenied, codes.PermissionDenied, mapi.ErrAccessDenied},
		{"not supported", mapi.ErrNotSupported, codes.Unimplemented, mapi.ErrNotSupported},
		{"no session", session.ErrNoSession, codes.Unavailable, nil},
		{"cancelled", context.Canceled, codes.Canceled, context.Canceled},
		{"other", errors.New("disk on fire"), codes.Internal, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ToStatus(tt.err)
			assert.Equal(t, tt.code, status.Code(st))

			back := FromStatus(st)
			if tt.sentinel != nil {
				assert.ErrorIs(t, back, tt.sentinel)
			} else {
				assert.Equal(t, tt.code, status.Code(back))
			}
		})
	}

	assert.NoError(t, ToStatus(nil))
	assert.NoError(t, FromStatus(nil))
	plain := errors.New("plain")
	assert.Equal(t, plain, FromStatus(plain))

	already := status.Error(codes.AlreadyExists, "dup")
	assert.Equal(t, already, ToStatus(already))
}
