// ABOUTME: The broker context object answering every remote store operation
// ABOUTME: Resolves hex identifiers, runs store calls under the session guard and maps errors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/mapi-bridge/internal/enum"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/props"
	"github.com/2389/mapi-bridge/internal/session"
	"github.com/2389/mapi-bridge/internal/wire"
)

// Broker implements wire.BrokerServer over one guarded session.
type Broker struct {
	guard     *session.Guard
	enum      *enum.Enumerator
	callbacks *Activator
	logger    *slog.Logger

	bitness int
	version string
	stop    func(reason string)
}

var _ wire.BrokerServer = (*Broker)(nil)

// NewBroker creates the broker. stop is called by the Stop operation.
func NewBroker(guard *session.Guard, callbacks *Activator, bitness int, version string, stop func(string), logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if stop == nil {
		stop = func(string) {}
	}
	return &Broker{
		guard:     guard,
		enum:      enum.New(guard, logger),
		callbacks: callbacks,
		logger:    logger.With("component", "broker"),
		bitness:   bitness,
		version:   version,
		stop:      stop,
	}
}

func (b *Broker) Ping(context.Context, *emptypb.Empty) (*wire.PingResponse, error) {
	return &wire.PingResponse{PID: os.Getpid(), Bitness: b.bitness, Version: b.version}, nil
}

func (b *Broker) Stop(_ context.Context, req *wire.StopRequest) (*emptypb.Empty, error) {
	b.logger.Info("stop requested", "reason", req.Reason)
	b.stop(req.Reason)
	return &emptypb.Empty{}, nil
}

func (b *Broker) Enumerate(ctx context.Context, req *wire.EnumerateRequest) (*wire.EnumerateResponse, error) {
	return b.walk(ctx, enum.Contacts(req.Query), req.VisitToken, (*wire.CallbackClient).VisitContact)
}

func (b *Broker) EnumerateCalendar(ctx context.Context, req *wire.EnumerateRequest) (*wire.EnumerateResponse, error) {
	return b.walk(ctx, enum.Calendar(), req.VisitToken, (*wire.CallbackClient).VisitCalendar)
}

type visitCall func(c *wire.CallbackClient, ctx context.Context, req *wire.VisitRequest, opts ...grpc.CallOption) (*wire.VisitResponse, error)

// walk hands every row back to the caller's visitor. The guard is not held
// while the visitor runs, so the caller may issue broker calls from it.
func (b *Broker) walk(ctx context.Context, req enum.Request, token string, call visitCall) (*wire.EnumerateResponse, error) {
	res, err := b.enum.Walk(ctx, req, func(ctx context.Context, row mapi.Row) (bool, error) {
		var more bool
		err := b.callbacks.Do(ctx, func(c *wire.CallbackClient) error {
			resp, err := call(c, ctx, &wire.VisitRequest{VisitToken: token, EntryID: row.EntryID.String()})
			if err != nil {
				return err
			}
			more = resp.Continue
			return nil
		})
		return more, err
	})
	if err != nil {
		b.logger.Warn("enumeration failed", "visited", res.Visited, "error", err)
		return nil, wire.ToStatus(err)
	}
	return &wire.EnumerateResponse{Visited: res.Visited, Stopped: res.Stopped, Skipped: res.Skipped}, nil
}

// withMessage parses id and opens the message under the guard.
func (b *Broker) withMessage(ctx context.Context, hexID string, fn func(mapi.Message) error) error {
	id, err := mapi.ParseEntryID(hexID)
	if err != nil {
		return err
	}
	return b.guard.Do(ctx, func(sess mapi.Session) error {
		msg, err := sess.OpenMessage(ctx, id)
		if err != nil {
			return err
		}
		return fn(msg)
	})
}

func (b *Broker) GetProps(ctx context.Context, req *wire.GetPropsRequest) (*wire.GetPropsResponse, error) {
	tags := make([]mapi.PropTag, len(req.Tags))
	for i, t := range req.Tags {
		tags[i] = mapi.PropTag(t)
	}
	var batch props.Batch
	err := b.withMessage(ctx, req.EntryID, func(msg mapi.Message) error {
		var err error
		batch, err = props.Read(ctx, msg, tags, req.Flags)
		return err
	})
	if err != nil {
		return nil, b.fail("get props", req.EntryID, err)
	}
	return &wire.GetPropsResponse{Values: batch.Values, Lengths: batch.Lengths, Types: batch.Types}, nil
}

func (b *Broker) SetPropString(ctx context.Context, req *wire.SetPropStringRequest) (*emptypb.Empty, error) {
	err := b.withMessage(ctx, req.EntryID, func(msg mapi.Message) error {
		return msg.SetProps(ctx, []mapi.PropValue{mapi.StringValue(mapi.PropTag(req.Tag), req.Value)})
	})
	if err != nil {
		return nil, b.fail("set prop", req.EntryID, err)
	}
	return &emptypb.Empty{}, nil
}

func (b *Broker) DeleteProp(ctx context.Context, req *wire.DeletePropRequest) (*emptypb.Empty, error) {
	err := b.withMessage(ctx, req.EntryID, func(msg mapi.Message) error {
		return msg.DeleteProps(ctx, []mapi.PropTag{mapi.PropTag(req.Tag)})
	})
	if err != nil {
		return nil, b.fail("delete prop", req.EntryID, err)
	}
	return &emptypb.Empty{}, nil
}

// CreateEntity creates a blank contact, or appointment for kind "calendar",
// in the default folder of the default store.
func (b *Broker) CreateEntity(ctx context.Context, req *wire.CreateEntityRequest) (*wire.EntityResponse, error) {
	folderKind, class := mapi.FolderContacts, mapi.ClassContact
	switch mapi.EntityKind(req.Kind) {
	case mapi.KindUnknown, mapi.KindContact:
	case mapi.KindCalendar:
		folderKind, class = mapi.FolderCalendar, mapi.ClassAppointment
	default:
		return nil, wire.ToStatus(fmt.Errorf("%w: entity kind %q", mapi.ErrNotSupported, req.Kind))
	}

	var id mapi.EntryID
	err := b.guard.Do(ctx, func(sess mapi.Session) error {
		st, err := defaultStore(ctx, sess)
		if err != nil {
			return err
		}
		folderID, err := st.DefaultFolderID(ctx, folderKind)
		if err != nil {
			return err
		}
		folder, err := sess.OpenFolder(ctx, folderID)
		if err != nil {
			return err
		}
		msg, err := folder.CreateMessage(ctx, class)
		if err != nil {
			return err
		}
		id = msg.EntryID()
		return nil
	})
	if err != nil {
		return nil, b.fail("create entity", "", err)
	}
	return &wire.EntityResponse{EntryID: id.String()}, nil
}

func defaultStore(ctx context.Context, sess mapi.Session) (mapi.Store, error) {
	rows, err := sess.StoreTable().Rows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no message stores", mapi.ErrNotFound)
	}
	pick := rows[0]
	for _, r := range rows {
		if r.Default {
			pick = r
			break
		}
	}
	return sess.OpenStore(ctx, pick.EntryID)
}

func (b *Broker) DeleteEntity(ctx context.Context, req *wire.EntryIDRequest) (*emptypb.Empty, error) {
	id, err := mapi.ParseEntryID(req.EntryID)
	if err == nil {
		err = b.guard.Do(ctx, func(sess mapi.Session) error {
			return sess.DeleteMessage(ctx, id)
		})
	}
	if err != nil {
		return nil, b.fail("delete entity", req.EntryID, err)
	}
	return &emptypb.Empty{}, nil
}

func (b *Broker) CompareEntryIDs(ctx context.Context, req *wire.CompareRequest) (*wire.CompareResponse, error) {
	a, err := mapi.ParseEntryID(req.A)
	if err != nil {
		return nil, wire.ToStatus(err)
	}
	c, err := mapi.ParseEntryID(req.B)
	if err != nil {
		return nil, wire.ToStatus(err)
	}
	var equal bool
	err = b.guard.Do(ctx, func(sess mapi.Session) error {
		var err error
		equal, err = sess.CompareEntryIDs(a, c)
		return err
	})
	if err != nil {
		return nil, b.fail("compare", req.A, err)
	}
	return &wire.CompareResponse{Equal: equal}, nil
}

// fail logs a per-call failure and converts it to a status error.
func (b *Broker) fail(op, id string, err error) error {
	b.logger.Debug("call failed", "op", op, "entry", id, "error", err)
	return wire.ToStatus(err)
}
