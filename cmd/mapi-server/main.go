// ABOUTME: Entry point for the broker server process launched by the host
// ABOUTME: Opens the store, registers the server class and serves until stopped

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mapi-bridge/internal/auth"
	"github.com/2389/mapi-bridge/internal/config"
	"github.com/2389/mapi-bridge/internal/logging"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/mapi/sqlitestore"
	"github.com/2389/mapi-bridge/internal/registry"
	"github.com/2389/mapi-bridge/internal/server"
	"github.com/2389/mapi-bridge/internal/telemetry"
)

// Version is set at build time.
var version = "dev"

const banner = `
                        _
 _ __ ___   __ _ _ __ (_)      ___  ___ _ ____   _____ _ __
| '_ ' _ \ / _' | '_ \| |_____/ __|/ _ \ '__\ \ / / _ \ '__|
| | | | | | (_| | |_) | |_____\__ \  __/ |   \ V /  __/ |
|_| |_| |_|\__,_| .__/|_|     |___/\___|_|    \_/ \___|_|
                |_|
`

type options struct {
	registry  string
	store     string
	parent    int
	config    string
	mapiFlags uint32
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "mapi-server <log-dir> <log-level>",
		Short: "Broker server for the store's native access library",
		Long: `Serves the broker API for one host process.

The log level is numeric: 0 off, 1 error, 2 warn, 3 info, 4 and above debug.
An empty log directory logs to stderr. The shared secret is read from
` + auth.SecretEnv + `; without it authentication is disabled.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", args[1], err)
			}
			return run(cmd.Context(), opts, args[0], level)
		},
	}

	cmd.Flags().StringVar(&opts.registry, "registry", "", "class registry directory (default from config)")
	cmd.Flags().StringVar(&opts.store, "store", "", "store database path (default from config)")
	cmd.Flags().IntVar(&opts.parent, "parent", 0, "host process id (default: parent process)")
	cmd.Flags().StringVar(&opts.config, "config", "", "config file (default $"+config.EnvConfig+")")
	cmd.Flags().Uint32Var(&opts.mapiFlags, "mapi-flags", 0, "logon flags passed to the store")
	return cmd
}

func run(ctx context.Context, opts *options, logDir string, level int) error {
	cfg, err := config.LoadOrDefault(opts.config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := logging.SetupServer(logDir, level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer closer.Close()

	// color disables itself when stdout is not a terminal, which is the
	// normal case under the host
	if !color.NoColor {
		color.New(color.FgCyan).Print(banner)
		color.New(color.FgHiBlack).Printf("    version: %s  bits: %d  pid: %d\n\n", version, strconv.IntSize, os.Getpid())
	}

	regDir := opts.registry
	if regDir == "" {
		regDir = cfg.Broker.RegistryDir
	}
	reg, err := registry.Open(regDir, registry.WithLogger(logger))
	if err != nil {
		return err
	}

	storePath := opts.store
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	if storePath == "" {
		return errors.New("no store configured: pass --store or set store.path")
	}
	provider, err := sqlitestore.Open(storePath, sqlitestore.WithDriver(cfg.Store.Driver), sqlitestore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer provider.Close()

	var verifier *auth.JWTVerifier
	secret, err := auth.SecretFromEnv()
	switch {
	case err == nil:
		verifier = auth.NewJWTVerifier(secret)
	case errors.Is(err, auth.ErrNoSecret):
		logger.Warn("no shared secret, broker channel is unauthenticated", "env", auth.SecretEnv)
	default:
		return err
	}

	telOpts := []telemetry.Option{telemetry.WithServiceName(cfg.Telemetry.ServiceName + "-server")}
	if !cfg.Telemetry.Enabled {
		telOpts = append(telOpts, telemetry.WithDisabled())
	}
	tel, err := telemetry.New(telOpts...)
	if err != nil {
		return err
	}

	flags := mapi.LogonFlags(opts.mapiFlags | cfg.Store.MapiFlags)
	srv, err := server.New(provider, server.Config{
		ListenAddr:  cfg.Broker.ListenAddr,
		Registry:    reg,
		HostPID:     opts.parent,
		ParentPoll:  cfg.Broker.ParentPoll,
		Profile:     cfg.Store.Profile,
		LogonFlags:  flags,
		Verifier:    verifier,
		Telemetry:   tel,
		Keepalive:   cfg.Broker.Keepalive,
		StopTimeout: cfg.Broker.StopTimeout,
		Bitness:     strconv.IntSize,
		Version:     version,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("starting mapi-server",
		"version", version,
		"bits", strconv.IntSize,
		"store", storePath,
		"registry", reg.Dir(),
		"parent", opts.parent,
	)
	return srv.Run(ctx)
}
