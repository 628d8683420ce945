// ABOUTME: Class registration artifacts that make broker endpoints discoverable
// ABOUTME: One TOML file per class in a shared directory, written atomically

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ps "github.com/mitchellh/go-ps"
)

const ext = ".toml"

var (
	// ErrNotRegistered is returned by Lookup for a missing or stale class.
	ErrNotRegistered = errors.New("registry: class not registered")

	// ErrInvalidName is returned for class names that cannot be file names.
	ErrInvalidName = errors.New("registry: invalid class name")
)

// Class is one registered endpoint.
type Class struct {
	Name         string    `toml:"name"`
	Endpoint     string    `toml:"endpoint"`
	PID          int       `toml:"pid"`
	Bitness      int       `toml:"bitness,omitempty"`
	RegisteredAt time.Time `toml:"registered_at"`
}

// BrokerClass names the broker server class started for the host process pid.
func BrokerClass(hostPID int) string {
	return fmt.Sprintf("mapibridge.broker.%d", hostPID)
}

// CallbackClass names the callback class of the host process pid.
func CallbackClass(hostPID int) string {
	return fmt.Sprintf("mapibridge.callback.%d", hostPID)
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := ps.FindProcess(pid)
	return err == nil && p != nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLiveness replaces the process liveness check.
func WithLiveness(alive func(pid int) bool) Option {
	return func(r *Registry) {
		if alive != nil {
			r.alive = alive
		}
	}
}

// Registry is a directory of class artifacts.
type Registry struct {
	dir    string
	logger *slog.Logger
	alive  func(pid int) bool
}

// Open uses dir as the registry, creating it if needed.
func Open(dir string, opts ...Option) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("registry: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("registry: creating directory: %w", err)
	}
	r := &Registry{dir: dir, logger: slog.Default(), alive: Alive}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r, nil
}

// Dir returns the registry directory.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\:`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(r.dir, name+ext), nil
}

// Register writes the artifact for c, replacing any previous registration
// of the same name.
func (r *Registry) Register(c Class) error {
	p, err := r.path(c.Name)
	if err != nil {
		return err
	}
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = time.Now().UTC()
	}

	tmp, err := os.CreateTemp(r.dir, c.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("registry: creating artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(c); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: encoding artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: writing artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("registry: publishing artifact: %w", err)
	}
	r.logger.Debug("class registered", "class", c.Name, "endpoint", c.Endpoint, "pid", c.PID)
	return nil
}

// Revoke removes the artifact for name. Revoking a missing class is not an error.
func (r *Registry) Revoke(name string) error {
	p, err := r.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("registry: removing artifact: %w", err)
	}
	r.logger.Debug("class revoked", "class", name)
	return nil
}

// Lookup returns the registration for name. An artifact left behind by a
// process that no longer exists counts as not registered.
func (r *Registry) Lookup(name string) (Class, error) {
	p, err := r.path(name)
	if err != nil {
		return Class{}, err
	}
	c, err := r.read(p)
	if errors.Is(err, os.ErrNotExist) {
		return Class{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if err != nil {
		return Class{}, err
	}
	if !r.alive(c.PID) {
		r.logger.Debug("ignoring stale class artifact", "class", name, "pid", c.PID)
		return Class{}, fmt.Errorf("%w: %s (owner %d exited)", ErrNotRegistered, name, c.PID)
	}
	return c, nil
}

// List returns every artifact in the directory, stale ones included, by name.
func (r *Registry) List() ([]Class, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("registry: listing: %w", err)
	}
	var out []Class
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		c, err := r.read(filepath.Join(r.dir, e.Name()))
		if err != nil {
			r.logger.Warn("skipping unreadable class artifact", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Prune removes artifacts whose owning process is gone and returns their names.
func (r *Registry) Prune() ([]string, error) {
	classes, err := r.List()
	if err != nil {
		return nil, err
	}
	var pruned []string
	for _, c := range classes {
		if r.alive(c.PID) {
			continue
		}
		if err := r.Revoke(c.Name); err != nil {
			return pruned, err
		}
		pruned = append(pruned, c.Name)
	}
	return pruned, nil
}

func (r *Registry) read(p string) (Class, error) {
	var c Class
	if _, err := toml.DecodeFile(p, &c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Class{}, err
		}
		return Class{}, fmt.Errorf("registry: decoding %s: %w", filepath.Base(p), err)
	}
	return c, nil
}
