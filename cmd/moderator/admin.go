package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/whisper/guardbot/internal/audit"
	"github.com/whisper/guardbot/internal/messaging"
	"github.com/whisper/guardbot/internal/protocol"
	"go.uber.org/zap"
)

func newStockCommand() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Show how many reward codes are left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, _, closeStore, err := rewardStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			ledger, err := newLedger(cmd.Context(), cfg, store, logger)
			if err != nil {
				return err
			}
			pool, err := ledger.Pool(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d codes in pool\n", len(pool))
			if list {
				for _, code := range pool {
					fmt.Fprintln(out, code)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "Also print the pooled codes in issue order")
	return cmd
}

func newActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "Print moderation actions published by running moderators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			natsConfig := messaging.DefaultNATSConfig()
			natsConfig.URL = cfg.NATSURL
			natsConfig.Name = "guardbot-actions"
			nc, err := messaging.NewNATSClient(natsConfig, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			if err := nc.SubscribeActions(func(data []byte) {
				d, err := protocol.ParseDirective(data)
				if err != nil {
					logger.Warn("malformed action", zap.Error(err))
					return
				}
				fmt.Fprintln(out, formatDirective(d))
			}); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
}

// formatDirective renders one action per line for the actions command.
func formatDirective(d protocol.Directive) string {
	parts := []string{d.Type}
	for _, f := range []struct{ key, val string }{
		{"group", d.GroupID},
		{"user", d.UserID},
		{"message", d.MessageID},
		{"text", d.Text},
	} {
		if f.val != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", f.key, f.val))
		}
	}
	return strings.Join(parts, " ")
}

func newKicksCommand() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "kicks <group> <user>",
		Short: "Count recent kicks of a user from the PostgreSQL audit table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.AuditPostgresDSN == "" {
				return errors.New("audit.postgres_dsn is not set")
			}
			db, err := audit.OpenPostgres(cmd.Context(), cfg.AuditPostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := audit.NewPostgresLog(db).CountRecent(cmd.Context(), args[0], args[1], window)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s kicked from group %s %d times in the last %s\n",
				args[1], args[0], n, window)
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "Trailing window to count")
	return cmd
}
