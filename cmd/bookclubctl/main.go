// Package main is the operator CLI: migrations, one-off scheduler ticks and reminder runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jidokhae/backend/config"
	"github.com/jidokhae/backend/internal/app"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "bookclubctl",
		Short:         "Operator tooling for the book club backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(segmentCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, wires the service graph and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick (expire deposits, sweep offers, promote waitlists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep := a.Scheduler.Tick(ctx, a.Clock.Now())
				if err := printJSON(cmd, rep); err != nil {
					return err
				}
				if !rep.Success {
					return fmt.Errorf("tick failed")
				}
				return nil
			})
		},
	}
}

func remindCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send meeting reminders for meetings N days out",
		Example: `  bookclubctl remind --days 0
  bookclubctl remind --days 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Segments.SendMeetingReminders(ctx, days, a.Clock.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 1, "days before the meeting (0, 1 or 3)")
	return cmd
}

func segmentCmd() *cobra.Command {
	var segment string
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Send a segment nudge (monthly, onboarding, dormant, eligibility)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Segments.Run(ctx, segment, a.Clock.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	cmd.Flags().StringVarP(&segment, "type", "t", "", "segment name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// tokenCmd mints a bearer token signed with JWT_SECRET, for local testing against a dev server.
func tokenCmd() *cobra.Command {
	var (
		userID   string
		role     string
		nickname string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := issueToken(cfg.JWT.Secret, userID, role, nickname, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&role, "role", "member", "member, admin or super_admin")
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
