// ABOUTME: Broker client: activates the server class and exposes every broker operation
// ABOUTME: Owns the callback service and its class registration for the life of a session

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/2389/mapi-bridge/internal/auth"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/props"
	"github.com/2389/mapi-bridge/internal/registry"
	"github.com/2389/mapi-bridge/internal/retry"
	"github.com/2389/mapi-bridge/internal/telemetry"
	"github.com/2389/mapi-bridge/internal/wire"
)

var (
	// ErrActivation is returned by Start when the server class never
	// answered. It wraps the retry error, so errors.Is(err,
	// retry.ErrMaxRetries) holds after the attempts ran out.
	ErrActivation = errors.New("client: activating broker server")

	ErrNotStarted     = errors.New("client: not started")
	ErrAlreadyStarted = errors.New("client: already started")
)

// Config configures a Client.
type Config struct {
	Registry *registry.Registry

	// HostPID names the class pair; defaults to this process.
	HostPID int

	// ListenAddr is the callback service address (default 127.0.0.1:0).
	ListenAddr string

	Attempts int
	Delay    time.Duration

	// CallTimeout bounds every call except enumeration. Zero disables it.
	CallTimeout time.Duration
	StopTimeout time.Duration
	Keepalive   time.Duration

	// Signer signs host tokens and verifies the server's broker tokens.
	// Nil disables authentication on both channels.
	Signer *auth.JWTVerifier

	Telemetry *telemetry.Instrumentation
}

// Result summarizes an enumeration.
type Result struct {
	Visited int
	Stopped bool
	Skipped int
}

// Client talks to one broker server.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	hub      *Hub
	visitors *visitors

	mu         sync.RWMutex
	conn       *grpc.ClientConn
	broker     *wire.BrokerClient
	serverPID  int
	callback   *grpc.Server
	serveDone  chan struct{}
	cbClass    string
	cbEndpoint string
}

// New creates a client. Nothing is activated until Start.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Registry == nil {
		return nil, errors.New("client: registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HostPID == 0 {
		cfg.HostPID = os.Getpid()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	logger = logger.With("component", "client")
	return &Client{
		cfg:      cfg,
		logger:   logger,
		hub:      NewHub(logger),
		visitors: newVisitors(),
	}, nil
}

// Hub returns the notification hub.
func (c *Client) Hub() *Hub { return c.hub }

// ServerPID returns the pid reported by the server at activation.
func (c *Client) ServerPID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverPID
}

// CallbackEndpoint returns the callback service address once started.
func (c *Client) CallbackEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cbEndpoint
}

// Start activates the server class, then starts the callback service and
// registers its class. On failure everything done so far is undone.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broker != nil {
		return ErrAlreadyStarted
	}

	var conn *grpc.ClientConn
	var ping *wire.PingResponse
	err := retry.Do(ctx, retry.Config{Attempts: c.cfg.Attempts, Delay: c.cfg.Delay}, func(ctx context.Context) error {
		var err error
		conn, ping, err = c.activate(ctx)
		if err != nil {
			c.logger.Debug("activation attempt failed", "error", err)
		}
		return err
	})
	if err != nil {
		c.logger.Error("server class not available", "error", err)
		return fmt.Errorf("%w: %w", ErrActivation, err)
	}

	lis, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: listening for callbacks: %w", err)
	}
	srv := grpc.NewServer(wire.ServerOptions(c.cfg.Keepalive, grpc.ChainUnaryInterceptor(c.interceptors()...))...)
	wire.RegisterCallbackServer(srv, &callbackService{visitors: c.visitors, hub: c.hub, logger: c.logger})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			c.logger.Error("callback service stopped", "error", err)
		}
	}()

	class := registry.CallbackClass(c.cfg.HostPID)
	if err := c.cfg.Registry.Register(registry.Class{
		Name:     class,
		Endpoint: lis.Addr().String(),
		PID:      os.Getpid(),
		Bitness:  ping.Bitness,
	}); err != nil {
		srv.Stop()
		<-done
		conn.Close()
		return err
	}

	c.conn = conn
	c.broker = wire.NewBrokerClient(conn)
	c.serverPID = ping.PID
	c.callback = srv
	c.serveDone = done
	c.cbClass = class
	c.cbEndpoint = lis.Addr().String()
	c.logger.Info("broker activated", "server_pid", ping.PID, "bitness", ping.Bitness, "callback", c.cbEndpoint)
	return nil
}

func (c *Client) activate(ctx context.Context) (*grpc.ClientConn, *wire.PingResponse, error) {
	cls, err := c.cfg.Registry.Lookup(registry.BrokerClass(c.cfg.HostPID))
	if err != nil {
		return nil, nil, err
	}

	var creds credentials.PerRPCCredentials
	if c.cfg.Signer != nil {
		creds = auth.NewCredentials(c.cfg.Signer, auth.SubjectHost)
	}
	var interceptors []grpc.UnaryClientInterceptor
	if c.cfg.Telemetry != nil {
		interceptors = append(interceptors, c.cfg.Telemetry.UnaryClientInterceptor())
	}
	conn, err := wire.Dial(cls.Endpoint, creds, interceptors...)
	if err != nil {
		return nil, nil, err
	}

	pctx, cancel := c.timeout(ctx)
	defer cancel()
	ping, err := wire.NewBrokerClient(conn).Ping(pctx)
	if err != nil {
		conn.Close()
		return nil, nil, wire.FromStatus(err)
	}
	return conn, ping, nil
}

func (c *Client) interceptors() []grpc.UnaryServerInterceptor {
	var out []grpc.UnaryServerInterceptor
	if c.cfg.Telemetry != nil {
		out = append(out, c.cfg.Telemetry.UnaryServerInterceptor())
	}
	if c.cfg.Signer != nil {
		out = append(out, auth.UnaryInterceptor(c.cfg.Signer, c.logger, auth.SubjectBroker))
	} else {
		out = append(out, auth.NoAuthUnaryInterceptor())
	}
	return out
}

// StopServer asks the server process to shut down.
func (c *Client) StopServer(ctx context.Context, reason string) error {
	return c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		return b.Stop(ctx, &wire.StopRequest{Reason: reason})
	})
}

// Stop revokes the callback class, closes the server connection and stops
// the callback service. The hub is closed as well.
func (c *Client) Stop(ctx context.Context) error {
	defer c.hub.Close()

	c.mu.Lock()
	conn, srv, done, class := c.conn, c.callback, c.serveDone, c.cbClass
	c.conn, c.broker, c.callback, c.serveDone = nil, nil, nil, nil
	c.cbClass, c.cbEndpoint = "", ""
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	var errs []error
	if err := c.cfg.Registry.Revoke(class); err != nil {
		errs = append(errs, err)
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("client: closing server connection: %w", err))
	}

	// in-flight visitors may still be running; their nested calls now fail
	// with ErrNotStarted
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(c.cfg.StopTimeout):
		c.logger.Warn("callback service graceful stop timed out")
		srv.Stop()
		<-stopped
	case <-ctx.Done():
		srv.Stop()
		<-stopped
	}
	<-done

	c.logger.Info("broker client stopped")
	return errors.Join(errs...)
}

func (c *Client) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// call runs fn against the server and maps status errors back to the
// store's sentinel errors.
func (c *Client) call(ctx context.Context, bounded bool, fn func(context.Context, *wire.BrokerClient) error) error {
	c.mu.RLock()
	b := c.broker
	c.mu.RUnlock()
	if b == nil {
		return ErrNotStarted
	}
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = c.timeout(ctx)
		defer cancel()
	}
	return wire.FromStatus(fn(ctx, b))
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context) (*wire.PingResponse, error) {
	var resp *wire.PingResponse
	err := c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		var err error
		resp, err = b.Ping(ctx)
		return err
	})
	return resp, err
}

// Enumerate hands every contact matching query to visit.
func (c *Client) Enumerate(ctx context.Context, query string, visit Visitor) (Result, error) {
	return c.enumerate(ctx, visit, func(ctx context.Context, b *wire.BrokerClient, token string) (*wire.EnumerateResponse, error) {
		return b.Enumerate(ctx, &wire.EnumerateRequest{Query: query, VisitToken: token})
	})
}

// EnumerateCalendar hands every calendar item to visit.
func (c *Client) EnumerateCalendar(ctx context.Context, visit Visitor) (Result, error) {
	return c.enumerate(ctx, visit, func(ctx context.Context, b *wire.BrokerClient, token string) (*wire.EnumerateResponse, error) {
		return b.EnumerateCalendar(ctx, &wire.EnumerateRequest{VisitToken: token})
	})
}

func (c *Client) enumerate(ctx context.Context, visit Visitor, fn func(context.Context, *wire.BrokerClient, string) (*wire.EnumerateResponse, error)) (Result, error) {
	if visit == nil {
		visit = func(context.Context, mapi.EntryID) bool { return true }
	}
	token := c.visitors.add(visit)
	defer c.visitors.remove(token)

	var resp *wire.EnumerateResponse
	err := c.call(ctx, false, func(ctx context.Context, b *wire.BrokerClient) error {
		var err error
		resp, err = fn(ctx, b, token)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Visited: resp.Visited, Stopped: resp.Stopped, Skipped: resp.Skipped}, nil
}

// GetProps reads tags from the entity id.
func (c *Client) GetProps(ctx context.Context, id mapi.EntryID, tags []mapi.PropTag, flags uint32) (props.Batch, error) {
	raw := make([]uint32, len(tags))
	for i, t := range tags {
		raw[i] = uint32(t)
	}
	var batch props.Batch
	err := c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		resp, err := b.GetProps(ctx, &wire.GetPropsRequest{EntryID: id.String(), Tags: raw, Flags: flags})
		if err != nil {
			return err
		}
		batch = props.Batch{Values: resp.Values, Lengths: resp.Lengths, Types: resp.Types}
		return nil
	})
	return batch, err
}

// SetPropString writes one string property.
func (c *Client) SetPropString(ctx context.Context, id mapi.EntryID, tag mapi.PropTag, value string) error {
	return c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		return b.SetPropString(ctx, &wire.SetPropStringRequest{EntryID: id.String(), Tag: uint32(tag), Value: value})
	})
}

// DeleteProp removes one property.
func (c *Client) DeleteProp(ctx context.Context, id mapi.EntryID, tag mapi.PropTag) error {
	return c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		return b.DeleteProp(ctx, &wire.DeletePropRequest{EntryID: id.String(), Tag: uint32(tag)})
	})
}

// CreateEntity creates a blank entity of kind (contact when empty).
func (c *Client) CreateEntity(ctx context.Context, kind mapi.EntityKind) (mapi.EntryID, error) {
	var id mapi.EntryID
	err := c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		resp, err := b.CreateEntity(ctx, &wire.CreateEntityRequest{Kind: string(kind)})
		if err != nil {
			return err
		}
		id, err = mapi.ParseEntryID(resp.EntryID)
		return err
	})
	return id, err
}

// DeleteEntity removes the entity permanently.
func (c *Client) DeleteEntity(ctx context.Context, id mapi.EntryID) error {
	return c.call(ctx, true, func(ctx context.Context, b *wire.BrokerClient) error {
		return b.DeleteEntity(ctx, &wire.EntryIDRequest{EntryID: id.String()})
	})
}

// CompareEntryIDs asks the store whether a and b name the same entity.
func (c *Client) CompareEntryIDs(ctx context.Context, a, b mapi.EntryID) (bool, error) {
	var equal bool
	err := c.call(ctx, true, func(ctx context.Context, bc *wire.BrokerClient) error {
		resp, err := bc.CompareEntryIDs(ctx, &wire.CompareRequest{A: a.String(), B: b.String()})
		if err != nil {
			return err
		}
		equal = resp.Equal
		return nil
	})
	return equal, err
}
