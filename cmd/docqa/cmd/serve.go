package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/internal/ingest"
	"github.com/Aman-CERP/docqa/internal/output"
)

func newServeCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume index jobs from the queue",
		Long: `Consume index jobs from the durable queue until interrupted.

Each job is {"document_id": N, "content": "...", "metadata": {...}}. A job is
acknowledged once its passages are stored and indexed, and requeued when
anything fails. Lost broker connections are retried every queue.reconnect_delay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip the startup consistency check")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, skipCheck bool) error {
	cfg := loadedConfig
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx, cfg, appOptions{embedder: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !skipCheck {
		if err := reconcileOnStart(ctx, a); err != nil {
			return err
		}
	}

	for _, w := range cfg.Warnings() {
		out.Warningf("%s", w)
		slog.Warn("config_warning", slog.String("warning", w))
	}

	transport := ingest.NewAMQPTransport(amqpConfig(cfg))
	consumer, err := ingest.NewConsumer(transport, a.indexer, ingest.Config{
		ReconnectDelay: cfg.Queue.ReconnectDelay,
		MaxDeliveries:  cfg.Queue.MaxDeliveries,
	})
	if err != nil {
		return err
	}

	out.Statusf("🚀", "consuming %s (Ctrl+C to stop)", transport.Queue())
	slog.Info("serve_started",
		slog.String("queue", transport.Queue()),
		slog.String("queue_type", cfg.Queue.Type),
		slog.String("model", a.embedder.ModelName()),
		slog.Int("max_deliveries", cfg.Queue.MaxDeliveries))

	if err := consumer.Run(ctx); err != nil {
		return err
	}

	if err := a.vector.Flush(); err != nil {
		return fmt.Errorf("failed to flush vector index: %w", err)
	}

	stats := consumer.Stats()
	slog.Info("serve_stopped",
		slog.Int64("acked", stats.Acked),
		slog.Int64("requeued", stats.Requeued),
		slog.Int64("dead_lettered", stats.DeadLettered),
		slog.Int64("reconnects", stats.Reconnects))
	out.Successf("stopped after %d jobs", stats.Acked)
	return nil
}

// reconcileOnStart repairs drift left by a crash between the store and
// vector index writes of an index run.
func reconcileOnStart(ctx context.Context, a *app) error {
	ok, err := a.checker().QuickCheck(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	res, err := a.indexer.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup consistency repair failed: %w", err)
	}
	slog.Info("startup_reconciled",
		slog.Int("issues", res.Issues),
		slog.Int("orphans_deleted", res.OrphansDeleted),
		slog.Int("documents_reindexed", len(res.Reindexed)))
	return nil
}
