// ABOUTME: relay-admin "sessions" subcommands: list, show, reset
// ABOUTME: Reset goes through the session manager so it honours per-user locking

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/claude-relay/internal/config"
	"github.com/2389/claude-relay/internal/logging"
	"github.com/2389/claude-relay/internal/session"
	"github.com/2389/claude-relay/internal/store"
)

// openFunc opens the session store and optional locker for a config.
type openFunc func(ctx context.Context, cfg *config.Config) (session.Store, session.Locker, error)

func openFromConfig(ctx context.Context, cfg *config.Config) (session.Store, session.Locker, error) {
	return store.Open(ctx, cfg.Database, logging.NewNop())
}

// sessionsEnv resolves a store for a command. Tests replace open.
type sessionsEnv struct {
	open openFunc
}

func newSessionsCmd() *cobra.Command {
	return newSessionsCmdWith(&sessionsEnv{open: openFromConfig}, loadConfig)
}

func newSessionsCmdWith(env *sessionsEnv, load func(*cobra.Command) (*config.Config, error)) *cobra.Command {
	withManager := func(cmd *cobra.Command, fn func(ctx context.Context, m *session.Manager) error) error {
		cfg, err := load(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		st, locker, err := env.open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening session store: %w", err)
		}
		defer st.Close()

		opts := []session.Option{session.WithLockTTL(cfg.Database.LockTTL)}
		if locker != nil {
			opts = append(opts, session.WithLocker(locker))
		}
		return fn(ctx, session.NewManager(st, opts...))
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage per-user sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every user with an active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *session.Manager) error {
				records, err := m.Store().List(ctx)
				if err != nil {
					return fmt.Errorf("listing sessions: %w", err)
				}
				printRecords(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show one user's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *session.Manager) error {
				userID := args[0]
				token, err := m.Store().Get(ctx, userID)
				out := cmd.OutOrStdout()
				switch {
				case errors.Is(err, session.ErrNotFound):
					fmt.Fprintf(out, "User ID:        %s\n", userID)
					fmt.Fprintf(out, "Active session: No\n")
					return nil
				case err != nil:
					return fmt.Errorf("reading session: %w", err)
				}
				fmt.Fprintf(out, "User ID:        %s\n", userID)
				color.New(color.FgGreen).Fprintf(out, "Active session: Yes\n")
				fmt.Fprintf(out, "Token:          %s\n", token)
				return nil
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset <user-id>...",
		Short: "Clear sessions so the users' next messages start fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *session.Manager) error {
				var errs []error
				for _, userID := range args {
					if _, err := m.Reset(ctx, userID); err != nil {
						errs = append(errs, fmt.Errorf("resetting %s: %w", userID, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared session for %s\n", userID)
				}
				return errors.Join(errs...)
			})
		},
	}

	sessionsCmd.AddCommand(listCmd, showCmd, resetCmd)
	return sessionsCmd
}

func printRecords(w io.Writer, records []session.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No active sessions.")
		return
	}

	color.New(color.FgCyan).Fprintf(w, "%d active session(s)\n\n", len(records))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER ID\tTOKEN\tUPDATED")
	for _, r := range records {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.UserID, r.Token, updated)
	}
	tw.Flush()
}
