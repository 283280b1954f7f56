package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"tgrelay/internal/auth"
	"tgrelay/internal/config"
	"tgrelay/internal/logging"
	"tgrelay/internal/store/pg"
	"tgrelay/internal/telegram"
)

var (
	cfg    config.CtlConfig
	logger *slog.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Operator tooling for the Telegram CRM relay",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.LoadCtl()
			logger = logging.Init("relayctl", cfg.LogFormat, "info")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newWebhookCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|version|force> [version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DBDSN == "" {
				return errors.New("DB_DSN is required")
			}
			return pg.RunMigrate(logger, cfg.DBDSN, args[0], args[1:])
		},
	}
}

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	var timeout time.Duration
	set := &cobra.Command{
		Use:   "set <url>",
		Short: "Point the bot's webhook at url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client, err := telegram.New(telegram.Options{
				Token:   cfg.BotToken,
				APIBase: cfg.APIEndpoint,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			if err := client.SetWebhook(ctx, args[0], cfg.WebhookSecret); err != nil {
				return err
			}
			logger.Info("webhook registered", "bot", client.Username(), "url", args[0],
				"secret", cfg.WebhookSecret != "")
			return nil
		},
	}
	set.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Bot API request timeout")
	cmd.AddCommand(set)
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Staff API tokens",
	}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Print a signed bearer token for a staff user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			tok, exp, err := auth.GenerateToken(args[0], cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			logger.Info("token issued", "user_id", args[0], "expires_at", exp)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default TOKEN_TTL)")
	cmd.AddCommand(issue)
	return cmd
}
