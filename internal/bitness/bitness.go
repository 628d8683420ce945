// ABOUTME: Determines the bitness of the installed store library
// ABOUTME: Evaluates an ordered list of probes and stops at the first that knows

package bitness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// EnvOverride forces the bitness without probing the installation.
const EnvOverride = "MAPIBRIDGE_BITNESS"

// ErrInstallationNotFound means no probe could determine the bitness.
var ErrInstallationNotFound = errors.New("bitness: store installation not found")

// Bitness is the pointer width of the process that can load the store library.
type Bitness int

const (
	Unknown Bitness = 0
	Bits32  Bitness = 32
	Bits64  Bitness = 64
)

func (b Bitness) String() string {
	switch b {
	case Bits32:
		return "32"
	case Bits64:
		return "64"
	default:
		return "unknown"
	}
}

// Parse accepts "32", "64", "x86", "x64" and their common spellings.
// Anything else is Unknown.
func Parse(s string) Bitness {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "32", "x86", "i386", "386":
		return Bits32
	case "64", "x64", "amd64", "x86_64":
		return Bits64
	default:
		return Unknown
	}
}

// Probe is one way of finding out the bitness. A probe that does not know
// returns Unknown and a nil error.
type Probe interface {
	Name() string
	Probe(ctx context.Context) (Bitness, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	Label string
	Fn    func(ctx context.Context) (Bitness, error)
}

func (p ProbeFunc) Name() string                               { return p.Label }
func (p ProbeFunc) Probe(ctx context.Context) (Bitness, error) { return p.Fn(ctx) }

// EnvProbe reads EnvOverride.
func EnvProbe() Probe {
	return ProbeFunc{Label: "env", Fn: func(context.Context) (Bitness, error) {
		raw := os.Getenv(EnvOverride)
		if raw == "" {
			return Unknown, nil
		}
		b := Parse(raw)
		if b == Unknown {
			return Unknown, fmt.Errorf("bitness: %s=%q is not 32 or 64", EnvOverride, raw)
		}
		return b, nil
	}}
}

// ConfigProbe returns the configured value, which may be empty.
func ConfigProbe(value string) Probe {
	return ProbeFunc{Label: "config", Fn: func(context.Context) (Bitness, error) {
		return Parse(value), nil
	}}
}

// DefaultProbes returns the environment override, the configured value and
// the installation probe, in that order.
func DefaultProbes(configured string) []Probe {
	return []Probe{EnvProbe(), ConfigProbe(configured), InstallationProbe()}
}

// Resolver evaluates probes in order.
type Resolver struct {
	probes []Probe
	logger *slog.Logger
}

// NewResolver creates a resolver over probes.
func NewResolver(logger *slog.Logger, probes ...Probe) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{probes: probes, logger: logger.With("component", "bitness")}
}

// Resolve returns the first known bitness. A failing probe is logged and
// the next one is tried.
func (r *Resolver) Resolve(ctx context.Context) (Bitness, error) {
	for _, p := range r.probes {
		if err := ctx.Err(); err != nil {
			return Unknown, err
		}
		b, err := p.Probe(ctx)
		if err != nil {
			r.logger.Warn("bitness probe failed", "probe", p.Name(), "error", err)
			continue
		}
		if b != Unknown {
			r.logger.Debug("bitness resolved", "probe", p.Name(), "bitness", b.String())
			return b, nil
		}
	}
	return Unknown, ErrInstallationNotFound
}
