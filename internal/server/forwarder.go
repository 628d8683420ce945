// ABOUTME: Delivers classified store notifications to the host's callback service
// ABOUTME: One unary call per event, in the order the subsystem produced them

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/mapi-bridge/internal/dedupe"
	"github.com/2389/mapi-bridge/internal/notify"
	"github.com/2389/mapi-bridge/internal/telemetry"
	"github.com/2389/mapi-bridge/internal/wire"
)

const (
	deletedTTL  = 10 * time.Minute
	deletedSize = 4096
)

// Forwarder drains a notification stream into callback calls.
type Forwarder struct {
	events    <-chan notify.Event
	done      <-chan struct{}
	callbacks *Activator
	telemetry *telemetry.Instrumentation
	logger    *slog.Logger

	// deleted holds ids already reported deleted. Moving an item to the
	// trash and then purging it would otherwise report it twice.
	deleted *dedupe.Cache
}

// NewForwarder creates a forwarder over sub's events. in may be nil.
func NewForwarder(sub *notify.Subsystem, callbacks *Activator, in *telemetry.Instrumentation, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		events:    sub.Events(),
		done:      sub.Done(),
		callbacks: callbacks,
		telemetry: in,
		logger:    logger.With("component", "forwarder"),
		deleted:   dedupe.New(deletedTTL, deletedSize),
	}
}

// Run forwards until ctx is done or the subsystem is closed. A delivery that
// fails on a stale connection is retried once after reactivation; any other
// failure is logged and the event is dropped.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		case ev := <-f.events:
			f.deliver(ctx, ev)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, ev notify.Event) {
	switch ev.Type {
	case notify.Inserted:
		f.deleted.Forget(ev.EntryID)
	case notify.Deleted:
		if f.deleted.Contains(ev.EntryID) {
			f.logger.Debug("suppressing repeated delete", "event", ev.String())
			return
		}
	}

	req := &wire.NotifyRequest{EntryID: ev.EntryID, Kind: string(ev.Kind)}
	err := f.callbacks.Deliver(ctx, func(c *wire.CallbackClient) error {
		switch ev.Type {
		case notify.Inserted:
			return c.Inserted(ctx, req)
		case notify.Updated:
			return c.Updated(ctx, req)
		default:
			return c.Deleted(ctx, req)
		}
	})
	if f.telemetry != nil {
		f.telemetry.RecordNotification(ctx, ev.Type.String(), string(ev.Kind), err)
	}
	if err != nil {
		f.logger.Warn("notification not delivered", "event", ev.String(), "error", err)
		return
	}
	if ev.Type == notify.Deleted {
		f.deleted.Seen(ev.EntryID)
	}
	f.logger.Debug("notification delivered", "event", ev.String())
}
