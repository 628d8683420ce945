// ABOUTME: Lazily activates the host's callback service through the class registry
// ABOUTME: Caches the connection and drops it when the host becomes unreachable

package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/2389/mapi-bridge/internal/registry"
	"github.com/2389/mapi-bridge/internal/wire"
)

// Activator resolves the callback class on first use.
type Activator struct {
	registry     *registry.Registry
	class        string
	creds        credentials.PerRPCCredentials
	interceptors []grpc.UnaryClientInterceptor
	logger       *slog.Logger

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client *wire.CallbackClient
	closed bool
}

// NewActivator creates an activator for class. creds may be nil.
func NewActivator(reg *registry.Registry, class string, creds credentials.PerRPCCredentials, logger *slog.Logger, interceptors ...grpc.UnaryClientInterceptor) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activator{
		registry:     reg,
		class:        class,
		creds:        creds,
		interceptors: interceptors,
		logger:       logger.With("component", "activator"),
	}
}

// Client returns the cached callback client, activating it if needed.
func (a *Activator) Client(ctx context.Context) (*wire.CallbackClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, status.Error(codes.Unavailable, "callback activator closed")
	}
	if a.client != nil {
		return a.client, nil
	}

	cls, err := a.registry.Lookup(a.class)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "activating callback class: %v", err)
	}
	conn, err := wire.Dial(cls.Endpoint, a.creds, a.interceptors...)
	if err != nil {
		return nil, fmt.Errorf("server: dialing callback class: %w", err)
	}
	client := wire.NewCallbackClient(conn)
	if _, err := client.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	a.conn, a.client = conn, client
	a.logger.Debug("callback class activated", "class", a.class, "endpoint", cls.Endpoint)
	return client, nil
}

// Do runs fn against the callback client. A transport failure drops the
// cached connection so the next call activates again.
func (a *Activator) Do(ctx context.Context, fn func(*wire.CallbackClient) error) error {
	client, err := a.Client(ctx)
	if err != nil {
		return err
	}
	err = fn(client)
	if status.Code(err) == codes.Unavailable {
		a.invalidate(client)
	}
	return err
}

// Deliver is Do for calls that are safe to repeat. When the cached
// connection turns out to be unavailable, the class is activated again and
// fn runs once more against the new client.
func (a *Activator) Deliver(ctx context.Context, fn func(*wire.CallbackClient) error) error {
	client, err := a.Client(ctx)
	if err != nil {
		return err
	}
	err = fn(client)
	if status.Code(err) != codes.Unavailable {
		return err
	}
	a.invalidate(client)
	if ctx.Err() != nil {
		return err
	}

	fresh, aerr := a.Client(ctx)
	if aerr != nil {
		return err
	}
	a.logger.Debug("retrying on reactivated callback connection", "class", a.class)
	err = fn(fresh)
	if status.Code(err) == codes.Unavailable {
		a.invalidate(fresh)
	}
	return err
}

func (a *Activator) invalidate(client *wire.CallbackClient) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != client {
		return
	}
	a.conn.Close()
	a.conn, a.client = nil, nil
	a.logger.Debug("callback connection dropped", "class", a.class)
}

// Close releases the connection. Later calls fail with Unavailable.
func (a *Activator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.conn != nil {
		a.conn.Close()
		a.conn, a.client = nil, nil
	}
}
