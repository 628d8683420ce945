// ABOUTME: Configuration loading and parsing for the bridge host and broker server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the configuration file when no path is given.
const EnvConfig = "MAPIBRIDGE_CONFIG"

// Store drivers.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// Config represents the complete bridge configuration
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BrokerConfig holds transport and activation settings shared by both ends
type BrokerConfig struct {
	RegistryDir        string `yaml:"registry_dir"`
	ListenAddr         string `yaml:"listen_addr"`
	Auth               bool   `yaml:"auth"`
	ActivationAttempts int    `yaml:"activation_attempts"`

	ActivationDelay time.Duration `yaml:"-"`
	CallTimeout     time.Duration `yaml:"-"`
	StopTimeout     time.Duration `yaml:"-"`
	ParentPoll      time.Duration `yaml:"-"`
	Keepalive       time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ActivationDelayRaw string `yaml:"activation_delay"`
	CallTimeoutRaw     string `yaml:"call_timeout"`
	StopTimeoutRaw     string `yaml:"stop_timeout"`
	ParentPollRaw      string `yaml:"parent_poll"`
	KeepaliveRaw       string `yaml:"keepalive"`
}

// LauncherConfig holds where to find the server executables and how to start them
type LauncherConfig struct {
	ResourcesDir string `yaml:"resources_dir"`
	LogDir       string `yaml:"log_dir"`
	LogLevel     int    `yaml:"log_level"`
}

// StoreConfig holds the native store settings
type StoreConfig struct {
	Path      string `yaml:"path"`
	Driver    string `yaml:"driver"`
	Profile   string `yaml:"profile"`
	Bitness   string `yaml:"bitness"`
	MapiFlags uint32 `yaml:"mapi_flags"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds tracing and metrics configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultRegistryDir returns the per-user class registry directory.
func DefaultRegistryDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "mapi-bridge", "classes")
}

// Default returns a configuration that works without any file.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			RegistryDir:        DefaultRegistryDir(),
			ListenAddr:         "127.0.0.1:0",
			Auth:               true,
			ActivationAttempts: 10,
			ActivationDelay:    500 * time.Millisecond,
			CallTimeout:        30 * time.Second,
			StopTimeout:        5 * time.Second,
			ParentPoll:         time.Second,
			Keepalive:          30 * time.Second,
		},
		Launcher: LauncherConfig{
			LogLevel: 3,
		},
		Store: StoreConfig{
			Driver:  DriverModernc,
			Profile: "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "mapi-bridge",
		},
	}
}

// Load reads a configuration file from the given path on top of Default.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to $MAPIBRIDGE_CONFIG. When neither
// names a file, or the file does not exist, the defaults are returned.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Broker.RegistryDir == "" {
		return fmt.Errorf("broker.registry_dir is required")
	}
	if c.Broker.ListenAddr == "" {
		return fmt.Errorf("broker.listen_addr is required")
	}
	if c.Broker.ActivationAttempts < 1 {
		return fmt.Errorf("broker.activation_attempts must be at least 1")
	}

	switch c.Store.Driver {
	case DriverModernc, DriverCgo:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverModernc, DriverCgo, c.Store.Driver)
	}

	switch strings.ToLower(c.Store.Bitness) {
	case "", "32", "64", "x86", "x64":
	default:
		return fmt.Errorf("store.bitness must be 32 or 64, got %q", c.Store.Bitness)
	}

	if c.Launcher.LogLevel < 0 {
		return fmt.Errorf("launcher.log_level must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"activation_delay", cfg.Broker.ActivationDelayRaw, &cfg.Broker.ActivationDelay},
		{"call_timeout", cfg.Broker.CallTimeoutRaw, &cfg.Broker.CallTimeout},
		{"stop_timeout", cfg.Broker.StopTimeoutRaw, &cfg.Broker.StopTimeout},
		{"parent_poll", cfg.Broker.ParentPollRaw, &cfg.Broker.ParentPoll},
		{"keepalive", cfg.Broker.KeepaliveRaw, &cfg.Broker.Keepalive},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
