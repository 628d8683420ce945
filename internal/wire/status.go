// ABOUTME: Maps store errors to gRPC status codes and back
// ABOUTME: Per-call failures keep their meaning across the process boundary

package wire

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/session"
)

// ToStatus converts err into a status error for a handler to return.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, mapi.ErrInvalidEntryID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, mapi.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, mapi.ErrAccessDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, mapi.ErrNotSupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, session.ErrNoSession), errors.Is(err, mapi.ErrLoggedOff):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatus turns a status error from the other side back into the store
// error it stands for. Codes without a store meaning are returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = mapi.ErrInvalidEntryID
	case codes.NotFound:
		sentinel = mapi.ErrNotFound
	case codes.PermissionDenied:
		sentinel = mapi.ErrAccessDenied
	case codes.Unimplemented:
		sentinel = mapi.ErrNotSupported
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
