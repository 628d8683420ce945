// ABOUTME: Session Guard: one exclusive lock and the single live store session
// ABOUTME: Every session-affecting call path goes through a Guard

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/mapi-bridge/internal/mapi"
)

var (
	// ErrLogon matches every *LogonError.
	ErrLogon = errors.New("session: logon failed")

	// ErrNoSession is returned by Do when nobody has logged on.
	ErrNoSession = errors.New("session: not logged on")
)

// LogonError reports a failed logon. It is never retried by the guard.
type LogonError struct {
	Profile string
	Err     error
}

func (e *LogonError) Error() string {
	return fmt.Sprintf("session: logon to profile %q: %v", e.Profile, e.Err)
}

func (e *LogonError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLogon) match.
func (e *LogonError) Is(target error) bool { return target == ErrLogon }

// Guard serializes access to the one live session. The lock is not reentrant:
// code running under Do must not call back into the guard.
type Guard struct {
	provider mapi.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	session mapi.Session
}

// NewGuard creates a guard that logs on through provider.
func NewGuard(provider mapi.Provider, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		provider: provider,
		logger:   logger.With("component", "session"),
	}
}

// Acquire blocks until the caller owns the guard.
func (g *Guard) Acquire() { g.mu.Lock() }

// Release hands the guard to the next waiter.
func (g *Guard) Release() { g.mu.Unlock() }

// Session returns the live session or nil. The caller must hold the guard.
func (g *Guard) Session() mapi.Session { return g.session }

// SetSession replaces the live session. The caller must hold the guard.
func (g *Guard) SetSession(s mapi.Session) { g.session = s }

// Logon returns the live session, logging on first if there is none.
// Repeated calls return the same handle.
func (g *Guard) Logon(ctx context.Context, profile string, flags mapi.LogonFlags) (mapi.Session, error) {
	g.Acquire()
	defer g.Release()

	if g.session != nil {
		return g.session, nil
	}
	s, err := g.provider.Logon(ctx, profile, flags)
	if err != nil {
		g.logger.Error("logon failed", "profile", profile, "error", err)
		return nil, &LogonError{Profile: profile, Err: err}
	}
	g.session = s
	g.logger.Info("logged on", "profile", profile)
	return s, nil
}

// Logoff ends the live session if there is one.
func (g *Guard) Logoff(ctx context.Context) error {
	g.Acquire()
	defer g.Release()

	if g.session == nil {
		return nil
	}
	err := g.session.Logoff(ctx)
	g.session = nil
	if err != nil {
		return fmt.Errorf("session: logoff: %w", err)
	}
	g.logger.Info("logged off")
	return nil
}

// Do runs fn with the live session while holding the guard.
func (g *Guard) Do(ctx context.Context, fn func(mapi.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.Acquire()
	defer g.Release()

	if g.session == nil {
		return ErrNoSession
	}
	return fn(g.session)
}
