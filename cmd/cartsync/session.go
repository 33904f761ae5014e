package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/oriys/cartsync/internal/cookie"
	"github.com/oriys/cartsync/internal/engine"
	"github.com/oriys/cartsync/internal/output"
)

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the current session identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine, p *output.Printer) error {
				id := e.Identity()
				return p.PrintSession(output.SessionInfo{
					Kind:      string(id.Kind),
					ID:        id.ID,
					Partition: id.Partition(),
					Online:    e.Online(),
					Queued:    len(e.Queued(ctx)),
				})
			})
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in and merge the guest cart and bookmarks into the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine, p *output.Printer) error {
				if err := e.Login(ctx, args[0]); err != nil {
					return fmt.Errorf("login: %w", err)
				}
				p.Success("Signed in as %s", args[0])
				return p.PrintSnapshot(e.Store().Snapshot())
			})
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and start a fresh guest session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine, p *output.Printer) error {
				if !e.Identity().IsAuthenticated() {
					p.Info("Not signed in")
					return nil
				}
				if err := e.Logout(ctx); err != nil {
					return fmt.Errorf("logout: %w", err)
				}
				p.Success("Signed out")
				return nil
			})
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes, replay the offline queue and pull canonical state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine, p *output.Printer) error {
				if err := e.SyncNow(ctx); err != nil {
					p.Error("%v", err)
					if n := len(e.Queued(ctx)); n > 0 {
						p.Warning("%d operations remain queued", n)
					}
					return err
				}
				p.Success("In sync")
				return p.PrintSnapshot(e.Store().Snapshot())
			})
		},
	}
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List operations waiting in the offline queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine, p *output.Printer) error {
				return p.PrintQueue(e.Queued(ctx))
			})
		},
	}
}

func snapshotCmd() *cobra.Command {
	var cookies bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the full client state, or its cookie projection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine, p *output.Printer) error {
				snap := e.Store().Snapshot()
				if !cookies {
					return p.PrintSnapshot(snap)
				}
				values, err := cookie.Encode(snap)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(values))
				for name := range values {
					names = append(names, name)
				}
				sort.Strings(names)
				w := p.TableWriter()
				fmt.Fprintln(w, p.Colorize(output.Bold, "COOKIE\tBYTES\tVALUE"))
				for _, name := range names {
					fmt.Fprintf(w, "%s\t%d\t%s\n", name, len(name)+1+len(values[name]), values[name])
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&cookies, "cookies", false, "Print the cookie projection")
	return cmd
}
