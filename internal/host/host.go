// ABOUTME: Host-facing facade over bitness resolution, server launch and the broker client
// ABOUTME: Any installation or activation failure leaves the bridge permanently unavailable

// Package host is the boundary the managed host calls into. A Bridge resolves
// the store's bitness, launches the matching broker server, activates it and
// then forwards every operation to it.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/2389/mapi-bridge/internal/auth"
	"github.com/2389/mapi-bridge/internal/bitness"
	"github.com/2389/mapi-bridge/internal/client"
	"github.com/2389/mapi-bridge/internal/config"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/notify"
	"github.com/2389/mapi-bridge/internal/props"
	"github.com/2389/mapi-bridge/internal/registry"
	"github.com/2389/mapi-bridge/internal/telemetry"
)

var (
	// ErrUnavailable is returned by every call once the store could not be
	// found, the server could not be started or it went away.
	ErrUnavailable = errors.New("host: store bridge unavailable")

	ErrNotInitialized = errors.New("host: not initialized")
)

// Launcher starts and stops the broker server process.
type Launcher interface {
	Start(ctx context.Context, b bitness.Bitness, args bitness.Args) error
	Exited() <-chan struct{}
	Stop(timeout time.Duration) error
}

// Options configures a Bridge. Zero fields are derived from Config.
type Options struct {
	Config *config.Config
	// ConfigPath is handed to the server so both ends read the same file.
	ConfigPath string

	Resolver  *bitness.Resolver
	Launcher  Launcher
	Registry  *registry.Registry
	Telemetry *telemetry.Instrumentation
}

type state int

const (
	stateIdle state = iota
	stateReady
	stateUnavailable
)

// Bridge is safe for concurrent use.
type Bridge struct {
	opts   Options
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.RWMutex
	state     state
	cause     error
	client    *client.Client
	stopWatch chan struct{}
	watchDone chan struct{}
}

// New creates an uninitialized bridge.
func New(opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logger.With("component", "host")
	if opts.Resolver == nil {
		opts.Resolver = bitness.NewResolver(logger, bitness.DefaultProbes(cfg.Store.Bitness)...)
	}
	if opts.Launcher == nil {
		opts.Launcher = bitness.NewLauncher(logger, bitness.DefaultStrategies(cfg.Launcher.ResourcesDir)...)
	}
	return &Bridge{opts: opts, cfg: cfg, logger: logger}
}

// Initialize resolves the installation, launches the broker server and
// activates it. Calling it again once ready is a no-op.
func (b *Bridge) Initialize(ctx context.Context, version string, flags uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateReady:
		return nil
	case stateUnavailable:
		return b.unavailableLocked()
	}

	b.logger.Info("initializing", "version", version, "flags", flags)
	c, err := b.start(ctx, flags)
	if err != nil {
		b.state, b.cause = stateUnavailable, err
		b.logger.Error("store bridge unavailable", "error", err)
		return b.unavailableLocked()
	}

	b.client = c
	b.state = stateReady
	b.stopWatch = make(chan struct{})
	b.watchDone = make(chan struct{})
	go b.watch(c, b.opts.Launcher.Exited(), b.stopWatch, b.watchDone)
	return nil
}

func (b *Bridge) start(ctx context.Context, flags uint32) (*client.Client, error) {
	bits, err := b.opts.Resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	reg := b.opts.Registry
	if reg == nil {
		reg, err = registry.Open(b.cfg.Broker.RegistryDir, registry.WithLogger(b.logger))
		if err != nil {
			return nil, err
		}
	}
	if pruned, err := reg.Prune(); err != nil {
		b.logger.Warn("pruning class registry failed", "error", err)
	} else if len(pruned) > 0 {
		b.logger.Debug("pruned stale classes", "classes", pruned)
	}

	var secret []byte
	var signer *auth.JWTVerifier
	if b.cfg.Broker.Auth {
		if secret, err = auth.NewSecret(); err != nil {
			return nil, err
		}
		signer = auth.NewJWTVerifier(secret)
	}

	args := bitness.Args{
		LogDir:    b.cfg.Launcher.LogDir,
		LogLevel:  b.cfg.Launcher.LogLevel,
		Registry:  reg.Dir(),
		Store:     b.cfg.Store.Path,
		ParentPID: os.Getpid(),
		Config:    b.opts.ConfigPath,
		MapiFlags: flags | b.cfg.Store.MapiFlags,
		Secret:    secret,
	}
	if err := b.opts.Launcher.Start(ctx, bits, args); err != nil {
		return nil, err
	}

	c, err := client.New(client.Config{
		Registry:    reg,
		HostPID:     os.Getpid(),
		ListenAddr:  b.cfg.Broker.ListenAddr,
		Attempts:    b.cfg.Broker.ActivationAttempts,
		Delay:       b.cfg.Broker.ActivationDelay,
		CallTimeout: b.cfg.Broker.CallTimeout,
		StopTimeout: b.cfg.Broker.StopTimeout,
		Keepalive:   b.cfg.Broker.Keepalive,
		Signer:      signer,
		Telemetry:   b.opts.Telemetry,
	}, b.logger)
	if err == nil {
		err = c.Start(ctx)
	}
	if err != nil {
		if serr := b.opts.Launcher.Stop(b.cfg.Broker.StopTimeout); serr != nil {
			b.logger.Warn("stopping broker server failed", "error", serr)
		}
		return nil, err
	}
	return c, nil
}

// watch marks the bridge unavailable when the server exits on its own.
func (b *Bridge) watch(c *client.Client, exited <-chan struct{}, stop, done chan struct{}) {
	defer close(done)
	select {
	case <-stop:
		return
	case <-exited:
	}

	b.mu.Lock()
	if b.client != c {
		b.mu.Unlock()
		return
	}
	b.state, b.cause = stateUnavailable, errors.New("broker server exited")
	b.client = nil
	b.mu.Unlock()

	b.logger.Error("broker server exited unexpectedly")
	if err := c.Stop(context.Background()); err != nil {
		b.logger.Warn("stopping client failed", "error", err)
	}
}

// Uninitialize stops the server and releases the client. An unavailable
// bridge stays unavailable.
func (b *Bridge) Uninitialize(ctx context.Context) error {
	b.mu.Lock()
	c, stop, done := b.client, b.stopWatch, b.watchDone
	b.client, b.stopWatch, b.watchDone = nil, nil, nil
	if b.state == stateReady {
		b.state = stateIdle
	}
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if c == nil {
		return nil
	}

	var errs []error
	if err := c.StopServer(ctx, "host uninitialized"); err != nil {
		b.logger.Warn("stop request failed", "error", err)
	}
	if err := c.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.opts.Launcher.Stop(b.cfg.Broker.StopTimeout); err != nil {
		errs = append(errs, err)
	}
	b.logger.Info("uninitialized")
	return errors.Join(errs...)
}

// Available reports whether calls can reach the store.
func (b *Bridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == stateReady
}

func (b *Bridge) unavailableLocked() error {
	return fmt.Errorf("%w: %w", ErrUnavailable, b.cause)
}

func (b *Bridge) current() (*client.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.state {
	case stateReady:
		return b.client, nil
	case stateUnavailable:
		return nil, b.unavailableLocked()
	default:
		return nil, ErrNotInitialized
	}
}

// Enumerate visits every contact matching query.
func (b *Bridge) Enumerate(ctx context.Context, query string, fn client.Visitor) (client.Result, error) {
	c, err := b.current()
	if err != nil {
		return client.Result{}, err
	}
	return c.Enumerate(ctx, query, fn)
}

// EnumerateCalendar visits every calendar item.
func (b *Bridge) EnumerateCalendar(ctx context.Context, fn client.Visitor) (client.Result, error) {
	c, err := b.current()
	if err != nil {
		return client.Result{}, err
	}
	return c.EnumerateCalendar(ctx, fn)
}

// GetProps reads tags from id as a packed property batch.
func (b *Bridge) GetProps(ctx context.Context, id mapi.EntryID, tags []mapi.PropTag, flags uint32) (props.Batch, error) {
	c, err := b.current()
	if err != nil {
		return props.Batch{}, err
	}
	return c.GetProps(ctx, id, tags, flags)
}

// SetPropString writes value to tag on id.
func (b *Bridge) SetPropString(ctx context.Context, tag mapi.PropTag, value string, id mapi.EntryID) error {
	c, err := b.current()
	if err != nil {
		return err
	}
	return c.SetPropString(ctx, id, tag, value)
}

// DeleteProp removes tag from id.
func (b *Bridge) DeleteProp(ctx context.Context, tag mapi.PropTag, id mapi.EntryID) error {
	c, err := b.current()
	if err != nil {
		return err
	}
	return c.DeleteProp(ctx, id, tag)
}

// CreateEntity creates a blank contact.
func (b *Bridge) CreateEntity(ctx context.Context) (mapi.EntryID, error) {
	return b.CreateEntityOfKind(ctx, mapi.KindContact)
}

// CreateEntityOfKind creates a blank contact or calendar item.
func (b *Bridge) CreateEntityOfKind(ctx context.Context, kind mapi.EntityKind) (mapi.EntryID, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	return c.CreateEntity(ctx, kind)
}

// DeleteEntity removes id permanently.
func (b *Bridge) DeleteEntity(ctx context.Context, id mapi.EntryID) error {
	c, err := b.current()
	if err != nil {
		return err
	}
	return c.DeleteEntity(ctx, id)
}

// CompareEntryIDs reports whether a and b name the same entity.
func (b *Bridge) CompareEntryIDs(ctx context.Context, a, bID mapi.EntryID) (bool, error) {
	c, err := b.current()
	if err != nil {
		return false, err
	}
	return c.CompareEntryIDs(ctx, a, bID)
}

// Subscribe returns change notifications until ctx is done or the bridge
// is uninitialized.
func (b *Bridge) Subscribe(ctx context.Context) (<-chan notify.Event, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	ch, _ := c.Hub().Subscribe(ctx)
	return ch, nil
}
