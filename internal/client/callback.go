// ABOUTME: Callback service the broker server calls into
// ABOUTME: Dispatches visits to pending visitors and publishes notifications on the hub

package client

import (
	"context"
	"log/slog"
	"os"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/notify"
	"github.com/2389/mapi-bridge/internal/wire"
)

type callbackService struct {
	visitors *visitors
	hub      *Hub
	logger   *slog.Logger
}

var _ wire.CallbackServer = (*callbackService)(nil)

func (s *callbackService) Ping(context.Context, *emptypb.Empty) (*wire.PingResponse, error) {
	return &wire.PingResponse{PID: os.Getpid()}, nil
}

func (s *callbackService) VisitContact(ctx context.Context, req *wire.VisitRequest) (*wire.VisitResponse, error) {
	return s.visit(ctx, req)
}

func (s *callbackService) VisitCalendar(ctx context.Context, req *wire.VisitRequest) (*wire.VisitResponse, error) {
	return s.visit(ctx, req)
}

func (s *callbackService) visit(ctx context.Context, req *wire.VisitRequest) (*wire.VisitResponse, error) {
	fn, ok := s.visitors.get(req.VisitToken)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no pending enumeration for token %q", req.VisitToken)
	}
	id, err := mapi.ParseEntryID(req.EntryID)
	if err != nil {
		return nil, wire.ToStatus(err)
	}
	return &wire.VisitResponse{Continue: fn(ctx, id)}, nil
}

func (s *callbackService) Inserted(_ context.Context, req *wire.NotifyRequest) (*emptypb.Empty, error) {
	return s.notify(notify.Inserted, req)
}

func (s *callbackService) Updated(_ context.Context, req *wire.NotifyRequest) (*emptypb.Empty, error) {
	return s.notify(notify.Updated, req)
}

func (s *callbackService) Deleted(_ context.Context, req *wire.NotifyRequest) (*emptypb.Empty, error) {
	return s.notify(notify.Deleted, req)
}

func (s *callbackService) notify(t notify.EventType, req *wire.NotifyRequest) (*emptypb.Empty, error) {
	if _, err := mapi.ParseEntryID(req.EntryID); err != nil {
		return nil, wire.ToStatus(err)
	}
	ev := notify.Event{Type: t, EntryID: req.EntryID, Kind: mapi.EntityKind(req.Kind)}
	s.logger.Debug("notification received", "event", ev.String())
	s.hub.Publish(ev)
	return &emptypb.Empty{}, nil
}
