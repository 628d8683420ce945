// ABOUTME: Tests for the host bridge with an in-process stand-in for the server process
// ABOUTME: Covers initialization, forwarding, notifications and the unavailable state

package host

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/mapi-bridge/internal/auth"
	"github.com/2389/mapi-bridge/internal/bitness"
	"github.com/2389/mapi-bridge/internal/config"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/mapi/sqlitestore"
	"github.com/2389/mapi-bridge/internal/notify"
	"github.com/2389/mapi-bridge/internal/props"
	"github.com/2389/mapi-bridge/internal/registry"
	"github.com/2389/mapi-bridge/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// inProcess runs the broker server in a goroutine from the launch arguments.
type inProcess struct {
	t        *testing.T
	startErr error

	mu     sync.Mutex
	args   bitness.Args
	bits   bitness.Bitness
	cancel context.CancelFunc
	exited chan struct{}
	srv    *server.Server
}

func (l *inProcess) Start(ctx context.Context, b bitness.Bitness, args bitness.Args) error {
	if l.startErr != nil {
		return l.startErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := sqlitestore.Open(args.Store)
	if err != nil {
		return err
	}
	if _, err := p.CreateStore(ctx, "Mailbox", true); err != nil {
		p.Close()
		return err
	}
	reg, err := registry.Open(args.Registry)
	if err != nil {
		p.Close()
		return err
	}
	cfg := server.Config{
		Registry:    reg,
		HostPID:     args.ParentPID,
		ParentPoll:  50 * time.Millisecond,
		StopTimeout: time.Second,
		Bitness:     int(b),
		LogonFlags:  mapi.LogonFlags(args.MapiFlags),
	}
	if len(args.Secret) > 0 {
		cfg.Verifier = auth.NewJWTVerifier(args.Secret)
	}
	srv, err := server.New(p, cfg, nil)
	if err != nil {
		p.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer p.Close()
		if err := srv.Run(runCtx); err != nil {
			l.t.Logf("server run: %v", err)
		}
	}()
	l.args, l.bits, l.cancel, l.exited, l.srv = args, b, cancel, exited, srv
	return nil
}

func (l *inProcess) Exited() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exited
}

func (l *inProcess) Stop(timeout time.Duration) error {
	l.mu.Lock()
	cancel, exited := l.cancel, l.exited
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	select {
	case <-exited:
	case <-time.After(timeout):
		cancel()
		<-exited
	}
	cancel()
	return nil
}

// crash ends the server without a Stop request.
func (l *inProcess) crash() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	cancel()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Broker.RegistryDir = filepath.Join(dir, "classes")
	cfg.Broker.ActivationAttempts = 20
	cfg.Broker.ActivationDelay = 10 * time.Millisecond
	cfg.Broker.StopTimeout = 2 * time.Second
	cfg.Store.Path = filepath.Join(dir, "store.db")
	return cfg
}

func fixedBitness(b bitness.Bitness) *bitness.Resolver {
	return bitness.NewResolver(nil, bitness.ProbeFunc{
		Label: "fixed",
		Fn:    func(context.Context) (bitness.Bitness, error) { return b, nil },
	})
}

func newBridge(t *testing.T) (*Bridge, *inProcess) {
	t.Helper()
	l := &inProcess{t: t}
	b := New(Options{
		Config:   testConfig(t),
		Resolver: fixedBitness(bitness.Bits64),
		Launcher: l,
	}, nil)
	t.Cleanup(func() { b.Uninitialize(context.Background()) })
	return b, l
}

func TestBridge_Lifecycle(t *testing.T) {
	b, l := newBridge(t)
	ctx := context.Background()

	_, err := b.CreateEntity(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, b.Initialize(ctx, "1.0", 0x04))
	require.NoError(t, b.Initialize(ctx, "1.0", 0x04))
	assert.True(t, b.Available())
	assert.Equal(t, bitness.Bits64, l.bits)
	assert.NotEmpty(t, l.args.Secret)
	assert.Equal(t, uint32(0x04), l.args.MapiFlags)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := b.Subscribe(sctx)
	require.NoError(t, err)

	id, err := b.CreateEntity(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetPropString(ctx, mapi.PropTagGivenName, "Grace", id))

	select {
	case ev := <-events:
		assert.Equal(t, notify.Event{Type: notify.Inserted, EntryID: id.String(), Kind: mapi.KindContact}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no insert notification")
	}

	batch, err := b.GetProps(ctx, id, []mapi.PropTag{mapi.PropTagGivenName, mapi.PropTagSurname}, mapi.FlagUnicode)
	require.NoError(t, err)
	values, err := props.DecodeBatch(batch)
	require.NoError(t, err)
	assert.Equal(t, []any{"Grace", nil}, values)

	var visited []mapi.EntryID
	res, err := b.Enumerate(ctx, "grace", func(_ context.Context, v mapi.EntryID) bool {
		visited = append(visited, v)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Visited)
	require.Len(t, visited, 1)
	same, err := b.CompareEntryIDs(ctx, id, visited[0])
	require.NoError(t, err)
	assert.True(t, same)

	appt, err := b.CreateEntityOfKind(ctx, mapi.KindCalendar)
	require.NoError(t, err)
	res, err = b.EnumerateCalendar(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Visited)

	require.NoError(t, b.DeleteProp(ctx, mapi.PropTagGivenName, id))
	require.NoError(t, b.DeleteEntity(ctx, appt))
	assert.ErrorIs(t, b.DeleteEntity(ctx, appt), mapi.ErrNotFound)

	require.NoError(t, b.Uninitialize(ctx))
	select {
	case <-l.Exited():
	default:
		t.Fatal("server still running after uninitialize")
	}
	_, err = b.CreateEntity(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBridge_InstallationNotFound(t *testing.T) {
	l := &inProcess{t: t}
	b := New(Options{
		Config:   testConfig(t),
		Resolver: fixedBitness(bitness.Unknown),
		Launcher: l,
	}, nil)
	ctx := context.Background()

	err := b.Initialize(ctx, "1.0", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, bitness.ErrInstallationNotFound)
	assert.False(t, b.Available())
	assert.Nil(t, l.Exited(), "nothing launched")

	_, err = b.GetProps(ctx, mapi.EntryID{1}, nil, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = b.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, b.Initialize(ctx, "1.0", 0), ErrUnavailable)
	assert.NoError(t, b.Uninitialize(ctx))
	assert.ErrorIs(t, b.DeleteEntity(ctx, mapi.EntryID{1}), ErrUnavailable)
}

func TestBridge_LaunchFailed(t *testing.T) {
	l := &inProcess{t: t, startErr: bitness.ErrLaunchFailed}
	b := New(Options{
		Config:   testConfig(t),
		Resolver: fixedBitness(bitness.Bits32),
		Launcher: l,
	}, nil)

	err := b.Initialize(context.Background(), "1.0", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, bitness.ErrLaunchFailed)
}

func TestBridge_ServerExitMakesUnavailable(t *testing.T) {
	b, l := newBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx, "1.0", 0))

	l.crash()
	assert.Eventually(t, func() bool { return !b.Available() }, 5*time.Second, 10*time.Millisecond)

	_, err := b.CreateEntity(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.Is(b.Initialize(ctx, "1.0", 0), ErrUnavailable))
}

func TestBridge_NoAuth(t *testing.T) {
	l := &inProcess{t: t}
	cfg := testConfig(t)
	cfg.Broker.Auth = false
	b := New(Options{Config: cfg, Resolver: fixedBitness(bitness.Bits64), Launcher: l}, nil)
	t.Cleanup(func() { b.Uninitialize(context.Background()) })

	require.NoError(t, b.Initialize(context.Background(), "1.0", 0))
	assert.Empty(t, l.args.Secret)
	_, err := b.CreateEntity(context.Background())
	assert.NoError(t, err)
}
