package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notenetra/creditscore/internal/api"
	"github.com/notenetra/creditscore/internal/bus"
	"github.com/notenetra/creditscore/internal/cache"
	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/insights"
	"github.com/notenetra/creditscore/internal/metrics"
	"github.com/notenetra/creditscore/internal/repository"
	"github.com/notenetra/creditscore/internal/service"
	"github.com/notenetra/creditscore/internal/worker"
)

func newServeCommand(loadConfig func() (*domain.Config, error)) *cobra.Command {
	var insightsTenant string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring API and the re-scoring worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg.Logging, os.Stdout))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, cfg, insightsTenant)
		},
	}

	cmd.Flags().StringVar(&insightsTenant, "insights-tenant", "", "tenant whose stored insight rules are loaded at startup")

	return cmd
}

func runServe(ctx context.Context, cfg *domain.Config, insightsTenant string) error {
	slog.Info("starting creditscore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"window_days", cfg.Scoring.WindowDays,
		"history_epoch", cfg.Scoring.HistoryEpoch,
	)

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	insightEngine, err := insights.NewEngine(0)
	if err != nil {
		return fmt.Errorf("failed to initialize insight engine: %w", err)
	}
	defer insightEngine.Close()

	var scoringMetrics *metrics.ScoringMetrics
	if cfg.Metrics.Enabled {
		scoringMetrics = metrics.Scoring(metrics.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Environment: cfg.Metrics.Environment,
		})
	}

	svc, err := service.New(cfg.Scoring, service.Options{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Insights: insightEngine,
		Metrics:  scoringMetrics,
		ScoreTTL: cfg.Cache.ScoreTTL,
	})
	if err != nil {
		return fmt.Errorf("invalid scoring configuration: %w", err)
	}

	n, err := svc.ReloadInsights(ctx, insightsTenant)
	if err != nil {
		return fmt.Errorf("failed to load insight rules: %w", err)
	}
	slog.Info("insight engine initialized", "rules_count", n)

	// Re-scoring worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		workerCfg := worker.ConfigFrom(cfg.Worker)
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started",
				"tenant_count", len(workerCfg.TenantIDs),
				"record_history", workerCfg.RecordHistory,
			)
		}
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, Version)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("creditscore is ready", "addr", srv.Addr())
	printBanner(cfg, srv.Addr(), Version)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server failed", "error", err)
		}
	}
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("creditscore shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, addr, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               CREDITSCORE                 ║")
	fmt.Println("  ║    Cash-flow credit for small merchants   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s\n", addr)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                             - Score a supplied ledger")
	fmt.Println("    POST /merchants/{id}/transactions       - Append to a merchant ledger")
	fmt.Println("    GET  /merchants/{id}/transactions       - List ledger records")
	fmt.Println("    GET  /merchants/{id}/score              - Score the stored ledger")
	fmt.Println("    POST /merchants/{id}/score/history      - Record the epoch score")
	fmt.Println("    GET  /merchants/{id}/score/history      - Score history and trend")
	fmt.Println("    GET  /insights/rules                    - List insight rules")
	fmt.Println("    POST /insights/rules                    - Create an insight rule")
	fmt.Println("    POST /insights/rules/reload             - Hot-reload insight rules")
	fmt.Println("    GET  /config/scoring                    - Effective scoring config")
	fmt.Println("    GET  /health, /ready, /metrics          - Ops")
	fmt.Println()
}
