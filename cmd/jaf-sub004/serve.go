package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/xynehq/jaf-sub004/internal/config"
	"github.com/xynehq/jaf-sub004/internal/httpapi"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Run Engine HTTP boundary",
		Long: `Start the HTTP boundary (spec §6): /chat, /approvals/pending,
/approvals/stream, and /auth/submit, backed by the configured store and
LLM provider. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the deployment configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	server, closeStores, err := buildServer(cfg)
	if err != nil {
		return fmt.Errorf("wire server: %w", err)
	}
	defer func() {
		if err := closeStores(); err != nil {
			slog.Warn("closing store failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopPruning := startPruning(ctx, cfg, server)
	defer stopPruning()

	watcher := config.NewWatcher(configPath, func(_ *config.Config, err error) {
		if err != nil {
			slog.Warn("config reload failed, keeping previous settings", "error", err)
			return
		}
		slog.Info("config reloaded; structural settings (store backend) require a restart to apply")
	}, slog.Default())
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
	}
	defer func() { _ = watcher.Close() }()

	slog.Info("starting Run Engine HTTP boundary", "addr", cfg.Server.BindAddress, "store", cfg.Store.Backend)
	return server.ListenAndServe(ctx, cfg.Server.BindAddress)
}

// startPruning runs a robfig/cron schedule that periodically prunes expired
// approval entries and stale pending-auth registrations (spec §5's TTLs,
// SPEC_FULL.md's cron/v3 wiring for C3/C4). Returns a stop func.
func startPruning(ctx context.Context, cfg *config.Config, server *httpapi.Server) func() {
	responseTTL := cfg.Auth.ResponseTTL
	if responseTTL <= 0 {
		responseTTL = 600 * time.Second
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Cron.PruneSchedule, func() {
		if n, err := server.Approvals.Prune(ctx, responseTTL); err != nil {
			slog.Warn("approval prune failed", "error", err)
		} else if n > 0 {
			slog.Info("pruned expired approvals", "count", n)
			if server.Metrics != nil {
				server.Metrics.RecordPruned("approvals", int(n))
			}
		}
		if server.AuthStore != nil {
			if n, err := server.AuthStore.Prune(ctx, responseTTL); err != nil {
				slog.Warn("auth prune failed", "error", err)
			} else if n > 0 {
				slog.Info("pruned expired auth entries", "count", n)
				if server.Metrics != nil {
					server.Metrics.RecordPruned("auth", int(n))
				}
			}
		}
	})
	if err != nil {
		slog.Warn("failed to schedule pruning", "error", err)
		return func() {}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}
