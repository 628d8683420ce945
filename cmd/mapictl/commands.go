// ABOUTME: Subcommands forwarding one bridge operation each
// ABOUTME: Identifiers are taken and printed as hex strings

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/mapi-bridge/internal/client"
	"github.com/2389/mapi-bridge/internal/host"
	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/props"
)

// summaryTags are read for every enumerated row.
var summaryTags = []mapi.PropTag{mapi.PropTagDisplayName, mapi.PropTagSubject}

func newContactsCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "contacts [query]",
		Short: "List contacts whose name, email or company contains query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				res, err := b.Enumerate(ctx, query, listVisitor(b, opts.printer(cmd), limit))
				if err != nil {
					return err
				}
				return summary(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many rows (0 for all)")
	return cmd
}

func newCalendarCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List calendar items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				res, err := b.EnumerateCalendar(ctx, listVisitor(b, opts.printer(cmd), limit))
				if err != nil {
					return err
				}
				return summary(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many rows (0 for all)")
	return cmd
}

// listVisitor prints each row with its display name or subject, read back
// through the bridge while the walk is in progress.
func listVisitor(b *host.Bridge, p *printer, limit int) client.Visitor {
	n := 0
	return func(ctx context.Context, id mapi.EntryID) bool {
		n++
		label := ""
		if batch, err := b.GetProps(ctx, id, summaryTags, mapi.FlagUnicode); err == nil {
			if values, err := props.DecodeBatch(batch); err == nil {
				for _, v := range values {
					if s, ok := v.(string); ok && s != "" {
						label = s
						break
					}
				}
			}
		}
		if err := p.record("id", id.String(), "name", label); err != nil {
			return false
		}
		return limit <= 0 || n < limit
	}
}

func summary(cmd *cobra.Command, res client.Result) error {
	if res.Skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d rows, %d unreadable folders skipped\n", res.Visited, res.Skipped)
	}
	return nil
}

func parseID(s string) (mapi.EntryID, error) {
	id, err := mapi.ParseEntryID(s)
	if err != nil {
		return nil, fmt.Errorf("entry id %q: %w", s, err)
	}
	return id, nil
}

func newPropsCommand(opts *rootOptions) *cobra.Command {
	var unicode bool
	cmd := &cobra.Command{
		Use:   "props <entry-id> [tag...]",
		Short: "Read properties of a contact or calendar item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			names := args[1:]
			if len(names) == 0 {
				names = defaultTags
			}
			tags, err := parseTags(names)
			if err != nil {
				return err
			}
			var flags uint32
			if unicode {
				flags = mapi.FlagUnicode
			}
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				batch, err := b.GetProps(ctx, id, tags, flags)
				if err != nil {
					return err
				}
				values, err := props.DecodeBatch(batch)
				if err != nil {
					return err
				}
				p := opts.printer(cmd)
				for i, v := range values {
					if err := p.record("tag", names[i], "type", string(rune(batch.Types[i])), "value", display(v)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unicode, "unicode", true, "read strings as UTF-16")
	return cmd
}

func display(v any) any {
	switch x := v.(type) {
	case nil:
		return "(absent)"
	case []byte:
		return fmt.Sprintf("%d bytes", len(x))
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <entry-id> <tag> <value>",
		Short: "Write a string property",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tag, err := parseTag(args[1])
			if err != nil {
				return err
			}
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				return b.SetPropString(ctx, tag, args[2], id)
			})
		},
	}
}

func newUnsetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <entry-id> <tag>",
		Short: "Delete a property",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tag, err := parseTag(args[1])
			if err != nil {
				return err
			}
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				return b.DeleteProp(ctx, tag, id)
			})
		},
	}
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	var kind, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a blank contact or calendar item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				id, err := b.CreateEntityOfKind(ctx, mapi.EntityKind(kind))
				if err != nil {
					return err
				}
				if name != "" {
					tag := mapi.PropTagDisplayName
					if mapi.EntityKind(kind) == mapi.KindCalendar {
						tag = mapi.PropTagSubject
					}
					if err := b.SetPropString(ctx, tag, name, id); err != nil {
						return err
					}
				}
				return opts.printer(cmd).record("id", id.String(), "kind", kind)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(mapi.KindContact), "contact or calendar")
	cmd.Flags().StringVar(&name, "name", "", "display name or subject to set")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a contact or calendar item permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				return b.DeleteEntity(ctx, id)
			})
		},
	}
}

func newCompareCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <entry-id> <entry-id>",
		Short: "Report whether two identifiers name the same item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := parseID(args[1])
			if err != nil {
				return err
			}
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				same, err := b.CompareEntryIDs(ctx, a, c)
				if err != nil {
					return err
				}
				return opts.printer(cmd).record("same", same)
			})
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print change notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBridge(cmd.Context(), func(ctx context.Context, b *host.Bridge) error {
				events, err := b.Subscribe(ctx)
				if err != nil {
					return err
				}
				p := opts.printer(cmd)
				for ev := range events {
					if err := p.record("time", time.Now().Format(time.TimeOnly), "event", ev.Type.String(), "kind", string(ev.Kind), "id", ev.EntryID); err != nil {
						return err
					}
				}
				if !b.Available() {
					return host.ErrUnavailable
				}
				return nil
			})
		},
	}
}
