// ABOUTME: Binds advise sinks to the store table and every open store
// ABOUTME: A structural change of the store table tears everything down and rebinds

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/session"
)

// DefaultBuffer is the capacity of the event channel.
const DefaultBuffer = 256

// ErrAlreadyBound is returned by Bind when sinks are already registered.
var ErrAlreadyBound = errors.New("notify: already bound")

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subsystem) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(s *Subsystem) {
		if n >= 0 {
			s.buffer = n
		}
	}
}

// Subsystem owns every advise registration of a session. All binding and
// unbinding happens while holding the session guard.
type Subsystem struct {
	guard  *session.Guard
	logger *slog.Logger
	buffer int

	arena *arena
	// bound is only read or written while holding the guard.
	bound bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	rebinds atomic.Int64
	dropped atomic.Int64
}

// New creates an unbound subsystem.
func New(guard *session.Guard, opts ...Option) *Subsystem {
	s := &Subsystem{
		guard:  guard,
		logger: slog.Default(),
		buffer: DefaultBuffer,
		arena:  newArena(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "notify")
	s.events = make(chan Event, s.buffer)
	return s
}

// Events returns the notification stream. It is never closed; stop reading
// once Close has been called.
func (s *Subsystem) Events() <-chan Event { return s.events }

// Done is closed by Close.
func (s *Subsystem) Done() <-chan struct{} { return s.done }

// Bind registers sinks on the store table and on every store it lists.
func (s *Subsystem) Bind(ctx context.Context) error {
	return s.guard.Do(ctx, func(sess mapi.Session) error {
		if s.bound {
			return ErrAlreadyBound
		}
		return s.bindLocked(ctx, sess)
	})
}

// Unbind releases every registration. It is safe to call when unbound.
func (s *Subsystem) Unbind(ctx context.Context) error {
	err := s.guard.Do(ctx, func(mapi.Session) error {
		s.unbindLocked()
		return nil
	})
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	return err
}

// Close stops event delivery. Pending sends are dropped.
func (s *Subsystem) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Registrations returns the live registrations in bind order.
func (s *Subsystem) Registrations() []Registration {
	return s.arena.snapshot()
}

// Rebinds reports how many store table changes caused a full rebind.
func (s *Subsystem) Rebinds() int64 { return s.rebinds.Load() }

// Dropped reports how many events were discarded after Close.
func (s *Subsystem) Dropped() int64 { return s.dropped.Load() }

func (s *Subsystem) bindLocked(ctx context.Context, sess mapi.Session) error {
	table := sess.StoreTable()
	rows, err := table.Rows(ctx)
	if err != nil {
		return fmt.Errorf("notify: reading store table: %w", err)
	}

	tableToken := uuid.New()
	tsink := &tableSink{sub: s, token: tableToken}
	conn, err := table.Advise(tsink)
	if err != nil {
		return fmt.Errorf("notify: advising store table: %w", err)
	}
	s.arena.add(nil, conn, table, tsink, tableToken)

	for _, row := range rows {
		st, err := sess.OpenStore(ctx, row.EntryID)
		if err != nil {
			s.logger.Warn("skipping store that failed to open", "store", row.EntryID.String(), "name", row.DisplayName, "error", err)
			continue
		}
		token := uuid.New()
		ssink := &storeSink{sub: s, token: token, store: st}
		conn, err := st.Advise(mapi.EventObjectAll, ssink)
		if err != nil {
			s.logger.Warn("skipping store that refused advise", "store", row.EntryID.String(), "error", err)
			continue
		}
		s.arena.add(row.EntryID, conn, st, ssink, token)
	}

	s.bound = true
	s.logger.Debug("bound", "stores", s.arena.len()-1)
	return nil
}

// unbindLocked releases each sink before unadvising its connection, stores
// first and the store table last.
func (s *Subsystem) unbindLocked() {
	for _, token := range s.arena.tokens() {
		e, ok := s.arena.take(token)
		if !ok {
			continue
		}
		e.sink.release()
		if err := e.source.Unadvise(e.Conn); err != nil {
			s.logger.Warn("unadvise failed", "token", token, "error", err)
		}
	}
	s.bound = false
}

// rebind runs on the store's dispatch goroutine after a structural change.
// A change reported through a registration that has since been released is
// ignored, so a teardown racing with the event cannot leave sinks behind.
func (s *Subsystem) rebind(token uuid.UUID, ev mapi.TableEvent) {
	ctx := context.Background()
	rebound := false
	err := s.guard.Do(ctx, func(sess mapi.Session) error {
		if !s.bound || !s.arena.has(token) {
			return nil
		}
		s.unbindLocked()
		s.rebinds.Add(1)
		rebound = true
		return s.bindLocked(ctx, sess)
	})
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		s.logger.Error("rebind failed", "event", ev.Type.String(), "error", err)
		return
	}
	if rebound {
		s.logger.Debug("rebound after store table change", "event", ev.Type.String())
	}
}

// handleObject classifies under the guard and publishes after releasing it,
// so a slow reader that calls back into the broker cannot stall the guard.
func (s *Subsystem) handleObject(token uuid.UUID, st mapi.Store, ev mapi.ObjectEvent) {
	ctx := context.Background()
	var events []Event
	err := s.guard.Do(ctx, func(sess mapi.Session) error {
		if !s.arena.has(token) {
			return nil
		}
		var err error
		events, err = Classify(ctx, sess, st, ev)
		return err
	})
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		s.logger.Warn("classifying store event", "event", ev.Type.String(), "entry", ev.EntryID.String(), "error", err)
	}
	for _, e := range events {
		s.publish(e)
	}
}

func (s *Subsystem) publish(e Event) {
	select {
	case <-s.done:
		s.dropped.Add(1)
		return
	default:
	}
	select {
	case s.events <- e:
	case <-s.done:
		s.dropped.Add(1)
	}
}

type tableSink struct {
	sub      *Subsystem
	token    uuid.UUID
	released atomic.Bool
}

func (t *tableSink) release() { t.released.Store(true) }

func (t *tableSink) OnTableEvent(ev mapi.TableEvent) {
	if t.released.Load() {
		return
	}
	switch ev.Type {
	case mapi.TableChanged, mapi.TableReload, mapi.TableRowAdded, mapi.TableRowDeleted:
		t.sub.rebind(t.token, ev)
	}
}

type storeSink struct {
	sub      *Subsystem
	token    uuid.UUID
	store    mapi.Store
	released atomic.Bool
}

func (s *storeSink) release() { s.released.Store(true) }

func (s *storeSink) OnObjectEvent(ev mapi.ObjectEvent) {
	if s.released.Load() {
		return
	}
	s.sub.handleObject(s.token, s.store, ev)
}
