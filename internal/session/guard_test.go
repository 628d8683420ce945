// ABOUTME: Tests for the Session Guard
// ABOUTME: Covers logon idempotence, failure typing, Do and logoff

package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/mapi/sqlitestore"
)

type countingProvider struct {
	inner mapi.Provider
	err   error
	calls atomic.Int32
}

func (c *countingProvider) Logon(ctx context.Context, profile string, flags mapi.LogonFlags) (mapi.Session, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Logon(ctx, profile, flags)
}

func newStore(t *testing.T) *sqlitestore.Provider {
	t.Helper()
	p, err := sqlitestore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestLogon_Idempotent(t *testing.T) {
	provider := &countingProvider{inner: newStore(t)}
	g := NewGuard(provider, nil)
	ctx := context.Background()

	first, err := g.Logon(ctx, "default", mapi.LogonExtended)
	require.NoError(t, err)
	second, err := g.Logon(ctx, "default", mapi.LogonExtended)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), provider.calls.Load())
	require.NoError(t, g.Logoff(ctx))
}

func TestLogon_ConcurrentCallersShareSession(t *testing.T) {
	provider := &countingProvider{inner: newStore(t)}
	g := NewGuard(provider, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	sessions := make([]mapi.Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := g.Logon(ctx, "default", 0)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, int32(1), provider.calls.Load())
	require.NoError(t, g.Logoff(ctx))
}

func TestLogon_Failure(t *testing.T) {
	cause := errors.New("profile missing")
	provider := &countingProvider{err: cause}
	g := NewGuard(provider, nil)

	_, err := g.Logon(context.Background(), "nope", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogon)
	assert.ErrorIs(t, err, cause)

	var logonErr *LogonError
	require.ErrorAs(t, err, &logonErr)
	assert.Equal(t, "nope", logonErr.Profile)

	g.Acquire()
	assert.Nil(t, g.Session())
	g.Release()
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestDo(t *testing.T) {
	g := NewGuard(newStore(t), nil)
	ctx := context.Background()

	err := g.Do(ctx, func(mapi.Session) error { return nil })
	assert.ErrorIs(t, err, ErrNoSession)

	s, err := g.Logon(ctx, "default", 0)
	require.NoError(t, err)

	var seen mapi.Session
	require.NoError(t, g.Do(ctx, func(sess mapi.Session) error {
		seen = sess
		return nil
	}))
	assert.Same(t, s, seen)

	boom := errors.New("boom")
	assert.ErrorIs(t, g.Do(ctx, func(mapi.Session) error { return boom }), boom)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, g.Do(cancelled, func(mapi.Session) error { return nil }), context.Canceled)

	require.NoError(t, g.Logoff(ctx))
}

func TestLogoff_ClearsSession(t *testing.T) {
	provider := &countingProvider{inner: newStore(t)}
	g := NewGuard(provider, nil)
	ctx := context.Background()

	first, err := g.Logon(ctx, "default", 0)
	require.NoError(t, err)
	require.NoError(t, g.Logoff(ctx))
	require.NoError(t, g.Logoff(ctx))

	_, err = first.StoreTable().Rows(ctx)
	assert.ErrorIs(t, err, mapi.ErrLoggedOff)

	second, err := g.Logon(ctx, "default", 0)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), provider.calls.Load())
	require.NoError(t, g.Logoff(ctx))
}

func TestSetSession(t *testing.T) {
	store := newStore(t)
	g := NewGuard(store, nil)
	s, err := store.Logon(context.Background(), "default", 0)
	require.NoError(t, err)

	g.Acquire()
	g.SetSession(s)
	assert.Same(t, s, g.Session())
	g.Release()

	again, err := g.Logon(context.Background(), "default", 0)
	require.NoError(t, err)
	assert.Same(t, s, again)
	require.NoError(t, g.Logoff(context.Background()))
}
