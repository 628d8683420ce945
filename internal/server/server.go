// ABOUTME: Broker server process lifecycle: logon, bind, register, serve, tear down
// ABOUTME: Runs until the Stop operation, parent exit or context cancellation

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/2389/mapi-bridge/internal/auth"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/notify"
	"github.com/2389/mapi-bridge/internal/registry"
	"github.com/2389/mapi-bridge/internal/session"
	"github.com/2389/mapi-bridge/internal/telemetry"
	"github.com/2389/mapi-bridge/internal/wire"
)

// Config holds everything the server needs besides the store provider.
type Config struct {
	ListenAddr string
	Registry   *registry.Registry

	// HostPID is the process the server serves. Its exit stops the server
	// and it names both classes.
	HostPID    int
	ParentPoll time.Duration

	Profile    string
	LogonFlags mapi.LogonFlags

	// Verifier signs and checks channel tokens. Nil disables auth.
	Verifier  *auth.JWTVerifier
	Telemetry *telemetry.Instrumentation

	Keepalive   time.Duration
	StopTimeout time.Duration
	Bitness     int
	Version     string

	// Alive overrides the parent liveness check.
	Alive func(pid int) bool
}

// Server is one broker server instance.
type Server struct {
	cfg    Config
	guard  *session.Guard
	logger *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
	reason   string

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}
}

// New creates a server over provider.
func New(provider mapi.Provider, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.HostPID <= 0 {
		cfg.HostPID = os.Getppid()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.Alive == nil {
		cfg.Alive = registry.Alive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		guard:   session.NewGuard(provider, logger),
		logger:  logger.With("component", "server"),
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// RequestStop asks Run to shut down. Only the first reason is kept.
func (s *Server) RequestStop(reason string) {
	s.stopOnce.Do(func() {
		s.reason = reason
		close(s.stopped)
	})
}

// Ready is closed once the server class is registered and serving.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listening address once Ready is closed.
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Run executes the server lifecycle and returns after teardown.
func (s *Server) Run(ctx context.Context) (err error) {
	if _, err := s.guard.Logon(ctx, s.cfg.Profile, s.cfg.LogonFlags); err != nil {
		return err
	}
	defer func() {
		if lerr := s.guard.Logoff(context.Background()); lerr != nil {
			s.logger.Error("logoff failed", "error", lerr)
			err = errors.Join(err, lerr)
		}
	}()

	sub := notify.New(s.guard, notify.WithLogger(s.logger))
	if err := sub.Bind(ctx); err != nil {
		return fmt.Errorf("server: binding notifications: %w", err)
	}
	defer func() {
		sub.Close()
		if uerr := sub.Unbind(context.Background()); uerr != nil {
			s.logger.Error("unbinding notifications failed", "error", uerr)
		}
	}()

	var creds credentials.PerRPCCredentials
	var interceptors []grpc.UnaryClientInterceptor
	if s.cfg.Verifier != nil {
		creds = auth.NewCredentials(s.cfg.Verifier, auth.SubjectBroker)
	}
	if s.cfg.Telemetry != nil {
		interceptors = append(interceptors, s.cfg.Telemetry.UnaryClientInterceptor())
	}
	callbacks := NewActivator(s.cfg.Registry, registry.CallbackClass(s.cfg.HostPID), creds, s.logger, interceptors...)
	defer callbacks.Close()

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listening: %w", err)
	}

	class := registry.BrokerClass(s.cfg.HostPID)
	if err := s.cfg.Registry.Register(registry.Class{
		Name:     class,
		Endpoint: lis.Addr().String(),
		PID:      os.Getpid(),
		Bitness:  s.cfg.Bitness,
	}); err != nil {
		lis.Close()
		return err
	}
	defer func() {
		if rerr := s.cfg.Registry.Revoke(class); rerr != nil {
			s.logger.Error("revoking server class failed", "error", rerr)
		}
	}()

	srv := grpc.NewServer(wire.ServerOptions(s.cfg.Keepalive, grpc.ChainUnaryInterceptor(s.interceptors()...))...)
	wire.RegisterBrokerServer(srv, NewBroker(s.guard, callbacks, s.cfg.Bitness, s.cfg.Version, s.RequestStop, s.logger))

	s.addrMu.Lock()
	s.addr = lis.Addr()
	s.addrMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("server: serving: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return NewForwarder(sub, callbacks, s.cfg.Telemetry, s.logger).Run(gctx)
	})

	g.Go(func() error {
		if WatchParent(gctx, s.cfg.HostPID, s.cfg.ParentPoll, s.cfg.Alive) {
			s.RequestStop("parent exited")
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-s.stopped:
			s.logger.Info("stopping", "reason", s.reason)
		case <-gctx.Done():
			s.logger.Info("stopping", "reason", "context done")
		}
		s.shutdown(srv)
		cancel()
		return nil
	})

	s.logger.Info("serving", "class", class, "addr", lis.Addr().String(), "host_pid", s.cfg.HostPID)
	close(s.ready)
	return g.Wait()
}

func (s *Server) interceptors() []grpc.UnaryServerInterceptor {
	var out []grpc.UnaryServerInterceptor
	if s.cfg.Telemetry != nil {
		out = append(out, s.cfg.Telemetry.UnaryServerInterceptor())
	}
	if s.cfg.Verifier != nil {
		out = append(out, auth.UnaryInterceptor(s.cfg.Verifier, s.logger, auth.SubjectHost))
	} else {
		s.logger.Warn("auth disabled")
		out = append(out, auth.NoAuthUnaryInterceptor())
	}
	return out
}

// shutdown gracefully stops srv or force-stops it after the stop timeout.
func (s *Server) shutdown(srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("graceful stop timed out")
		srv.Stop()
		<-done
	}
}
