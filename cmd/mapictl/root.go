// ABOUTME: Root command, global flags and the bridge lifecycle shared by subcommands
// ABOUTME: Output is colored text or one JSON object per line

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mapi-bridge/internal/config"
	"github.com/2389/mapi-bridge/internal/host"
	"github.com/2389/mapi-bridge/internal/logging"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	config  string
	store   string
	format  string
	verbose bool
	flags   uint32
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "mapictl",
		Short:         "Query and modify contacts and calendar items through the store bridge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.format)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.config, "config", "", "config file (default $"+config.EnvConfig+")")
	cmd.PersistentFlags().StringVar(&opts.store, "store", "", "store database path (overrides store.path)")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")
	cmd.PersistentFlags().Uint32Var(&opts.flags, "mapi-flags", 0, "logon flags passed to the server")

	cmd.AddCommand(
		newContactsCommand(opts),
		newCalendarCommand(opts),
		newPropsCommand(opts),
		newSetCommand(opts),
		newUnsetCommand(opts),
		newCreateCommand(opts),
		newDeleteCommand(opts),
		newCompareCommand(opts),
		newWatchCommand(opts),
		newSeedCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(o.config)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if o.store != "" {
		cfg.Store.Path = o.store
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, logging.Setup(cfg.Logging, os.Stderr), nil
}

// withBridge runs fn against an initialized bridge and always uninitializes it.
func (o *rootOptions) withBridge(ctx context.Context, fn func(context.Context, *host.Bridge) error) (err error) {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	b := host.New(host.Options{Config: cfg, ConfigPath: o.config}, logger)
	if err := b.Initialize(ctx, version, o.flags); err != nil {
		return err
	}
	defer func() {
		if uerr := b.Uninitialize(context.Background()); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn(ctx, b)
}

// printer writes records as colored text or JSON lines.
type printer struct {
	w    io.Writer
	json bool
	key  *color.Color
	dim  *color.Color
}

func (o *rootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{
		w:    cmd.OutOrStdout(),
		json: o.format == "json",
		key:  color.New(color.FgCyan),
		dim:  color.New(color.FgHiBlack),
	}
}

// record prints one object. fields alternate key and value.
func (p *printer) record(fields ...any) error {
	if p.json {
		m := make(map[string]any, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			m[fmt.Sprint(fields[i])] = fields[i+1]
		}
		return json.NewEncoder(p.w).Encode(m)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if i > 0 {
			fmt.Fprint(p.w, "  ")
		}
		p.key.Fprintf(p.w, "%v", fields[i])
		p.dim.Fprint(p.w, "=")
		fmt.Fprintf(p.w, "%v", fields[i+1])
	}
	fmt.Fprintln(p.w)
	return nil
}
