// ABOUTME: Starts the broker server executable matching the resolved bitness
// ABOUTME: Tries ordered candidate locations and retains the child process handle

package bitness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/2389/mapi-bridge/internal/auth"
)

var (
	// ErrLaunchFailed means no candidate executable could be started.
	ErrLaunchFailed = errors.New("bitness: launching broker server failed")

	// ErrAlreadyStarted is returned by Start while a child is running.
	ErrAlreadyStarted = errors.New("bitness: broker server already started")
)

// killGrace is how long Stop waits after asking the child to terminate
// before killing it outright.
const killGrace = 500 * time.Millisecond

// ExecutableName returns the server executable for b on this OS.
func ExecutableName(b Bitness) string {
	name := "mapi-server" + b.String()
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// Args is the broker server command line.
type Args struct {
	LogDir    string
	LogLevel  int
	Registry  string
	Store     string
	ParentPID int
	Config    string
	MapiFlags uint32
	Secret    []byte
}

// Argv renders the command line in the order the server expects.
func (a Args) Argv() []string {
	argv := []string{a.LogDir, strconv.Itoa(a.LogLevel)}
	if a.Registry != "" {
		argv = append(argv, "--registry", a.Registry)
	}
	if a.Store != "" {
		argv = append(argv, "--store", a.Store)
	}
	if a.ParentPID > 0 {
		argv = append(argv, "--parent", strconv.Itoa(a.ParentPID))
	}
	if a.Config != "" {
		argv = append(argv, "--config", a.Config)
	}
	if a.MapiFlags != 0 {
		argv = append(argv, "--mapi-flags", strconv.FormatUint(uint64(a.MapiFlags), 10))
	}
	return argv
}

// Strategy locates a candidate executable.
type Strategy interface {
	Name() string
	Locate(exe string) (string, error)
}

// DirStrategy looks in a fixed directory, usually the native resources
// shipped next to the host.
type DirStrategy struct{ Dir string }

func (d DirStrategy) Name() string { return "dir:" + d.Dir }

func (d DirStrategy) Locate(exe string) (string, error) {
	if d.Dir == "" {
		return "", errors.New("no directory configured")
	}
	p := filepath.Join(d.Dir, exe)
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", p)
	}
	return p, nil
}

// PathStrategy searches the OS search path.
type PathStrategy struct{}

func (PathStrategy) Name() string { return "path" }

func (PathStrategy) Locate(exe string) (string, error) { return exec.LookPath(exe) }

// DefaultStrategies tries dir first and then the search path.
func DefaultStrategies(dir string) []Strategy {
	return []Strategy{DirStrategy{Dir: dir}, PathStrategy{}}
}

// Launcher owns at most one broker server child process.
type Launcher struct {
	strategies []Strategy
	logger     *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// NewLauncher creates a launcher that tries strategies in order.
func NewLauncher(logger *slog.Logger, strategies ...Strategy) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{strategies: strategies, logger: logger.With("component", "launcher")}
}

// Start launches the server for b. The first candidate that starts wins.
// The child outlives ctx; ctx only bounds the search.
func (l *Launcher) Start(ctx context.Context, b Bitness, args Args) error {
	if b == Unknown {
		return ErrInstallationNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd != nil {
		return ErrAlreadyStarted
	}

	exe := ExecutableName(b)
	env := os.Environ()
	if len(args.Secret) > 0 {
		env = append(env, auth.SecretEnv+"="+auth.EncodeSecret(args.Secret))
	}

	var errs []error
	for _, s := range l.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.Locate(exe)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		cmd := exec.Command(path, args.Argv()...)
		cmd.Env = env
		if err := cmd.Start(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		l.cmd = cmd
		l.done = make(chan struct{})
		go l.wait(cmd, l.done)
		l.logger.Info("broker server started", "path", path, "pid", cmd.Process.Pid, "strategy", s.Name())
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrLaunchFailed, exe, errors.Join(errs...))
}

func (l *Launcher) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	l.mu.Lock()
	l.waitErr = err
	l.mu.Unlock()
	close(done)
}

// PID returns the child process id, or 0 when nothing was started.
func (l *Launcher) PID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil {
		return 0
	}
	return l.cmd.Process.Pid
}

// Exited is closed once the child has exited. It is nil before Start.
func (l *Launcher) Exited() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Stop waits up to timeout for the child to exit on its own, then asks it
// to terminate and finally kills it. Stop without a child is a no-op.
func (l *Launcher) Stop(timeout time.Duration) error {
	l.mu.Lock()
	cmd, done := l.cmd, l.done
	l.mu.Unlock()
	if cmd == nil {
		return nil
	}

	forced := false
	select {
	case <-done:
	case <-time.After(timeout):
		forced = true
		l.logger.Warn("broker server did not exit, terminating", "pid", cmd.Process.Pid)
		if err := terminate(cmd.Process); err != nil {
			l.logger.Debug("terminate failed", "error", err)
		}
		select {
		case <-done:
		case <-time.After(killGrace):
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("bitness: killing broker server: %w", err)
			}
			<-done
		}
	}

	l.mu.Lock()
	waitErr := l.waitErr
	l.cmd, l.done, l.waitErr = nil, nil, nil
	l.mu.Unlock()

	if waitErr != nil && !forced {
		l.logger.Warn("broker server exited with error", "error", waitErr)
	}
	return nil
}
