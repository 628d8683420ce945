// ABOUTME: Tests for bitness probing and broker server launching
// ABOUTME: Launches a shell script standing in for the server executable

package bitness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Bitness
	}{
		{"x86", Bits32},
		{"32", Bits32},
		{" X64 ", Bits64},
		{"64", Bits64},
		{"", Unknown},
		{"arm", Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.in), tt.in)
	}
	assert.Equal(t, "unknown", Unknown.String())
}

func fixed(name string, b Bitness, err error) Probe {
	return ProbeFunc{Label: name, Fn: func(context.Context) (Bitness, error) { return b, err }}
}

func TestResolver_FirstKnownWins(t *testing.T) {
	var order []string
	track := func(name string, b Bitness) Probe {
		return ProbeFunc{Label: name, Fn: func(context.Context) (Bitness, error) {
			order = append(order, name)
			return b, nil
		}}
	}
	r := NewResolver(nil, track("a", Unknown), track("b", Bits32), track("c", Bits64))
	b, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Bits32, b)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestResolver_FailingProbeSkipped(t *testing.T) {
	r := NewResolver(nil, fixed("broken", Unknown, errors.New("nope")), fixed("ok", Bits64, nil))
	b, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Bits64, b)
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolver(nil, fixed("a", Unknown, nil), ConfigProbe(""))
	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrInstallationNotFound)
}

func TestEnvProbe(t *testing.T) {
	t.Setenv(EnvOverride, "x86")
	r := NewResolver(nil, DefaultProbes("64")...)
	b, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Bits32, b)

	t.Setenv(EnvOverride, "bogus")
	b, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Bits64, b, "invalid override falls through to config")
}

func TestArgv(t *testing.T) {
	args := Args{LogDir: "/logs", LogLevel: 4, Registry: "/reg", ParentPID: 12, MapiFlags: 3}
	assert.Equal(t, []string{"/logs", "4", "--registry", "/reg", "--parent", "12", "--mapi-flags", "3"}, args.Argv())
}

func writeServer(t *testing.T, b Bitness, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a unix shell")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, ExecutableName(b))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return dir
}

func TestLauncher_StartAndStop(t *testing.T) {
	dir := writeServer(t, Bits64, `exec sleep 30`)
	l := NewLauncher(nil, DirStrategy{Dir: filepath.Join(t.TempDir(), "missing")}, DirStrategy{Dir: dir})

	require.NoError(t, l.Start(context.Background(), Bits64, Args{LogDir: dir, Secret: []byte("0123456789abcdef")}))
	assert.NotZero(t, l.PID())
	assert.ErrorIs(t, l.Start(context.Background(), Bits64, Args{}), ErrAlreadyStarted)

	start := time.Now()
	require.NoError(t, l.Stop(50*time.Millisecond))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Zero(t, l.PID())
	assert.NoError(t, l.Stop(time.Millisecond))
}

func TestLauncher_ChildExitsOnItsOwn(t *testing.T) {
	dir := writeServer(t, Bits32, `exit 0`)
	l := NewLauncher(nil, DirStrategy{Dir: dir})
	require.NoError(t, l.Start(context.Background(), Bits32, Args{}))

	select {
	case <-l.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	require.NoError(t, l.Stop(time.Second))
}

func TestLauncher_AllCandidatesFail(t *testing.T) {
	l := NewLauncher(nil, DirStrategy{Dir: t.TempDir()}, DirStrategy{})
	err := l.Start(context.Background(), Bits64, Args{})
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Zero(t, l.PID())

	assert.ErrorIs(t, l.Start(context.Background(), Unknown, Args{}), ErrInstallationNotFound)
}
