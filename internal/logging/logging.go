// ABOUTME: Logger construction for the host tools and the broker server
// ABOUTME: Maps string or numeric levels to slog handlers with an optional file sink

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/mapi-bridge/internal/config"
)

// ServerLogFile is the file the broker server writes inside its log directory.
const ServerLogFile = "mapi-server.log"

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NumericLevel maps the server's command line level: 0 off, 1 error,
// 2 warn, 3 info, 4 and above debug. ok is false for off.
func NumericLevel(n int) (level slog.Level, ok bool) {
	switch {
	case n <= 0:
		return 0, false
	case n == 1:
		return slog.LevelError, true
	case n == 2:
		return slog.LevelWarn, true
	case n == 3:
		return slog.LevelInfo, true
	default:
		return slog.LevelDebug, true
	}
}

// Setup builds the interactive logger from configuration. JSON goes to w
// as is; text is colorized.
func Setup(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(NewColorHandler(w, level))
}

// SetupServer builds the broker server logger. With a log directory the
// output goes to ServerLogFile inside it, otherwise to stderr. The returned
// closer must be closed on exit.
func SetupServer(logDir string, numericLevel int, format string) (*slog.Logger, io.Closer, error) {
	level, ok := NumericLevel(numericLevel)
	if !ok {
		return slog.New(slog.DiscardHandler), nopCloser{}, nil
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logDir, ServerLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: opening log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
