package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator"
	"github.com/mindhatch/thinking-mcp/internal/orchestrator/cache"
	"github.com/mindhatch/thinking-mcp/internal/orchestrator/config"
	"github.com/mindhatch/thinking-mcp/internal/orchestrator/retry"
	"github.com/mindhatch/thinking-mcp/internal/server"
	"github.com/mindhatch/thinking-mcp/internal/storage/memory"
	"github.com/mindhatch/thinking-mcp/internal/techniques"
)

const serverVersion = "0.1.0"

var (
	version = flag.Bool("version", false, "Print version and exit")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("Thinking MCP Orchestrator v" + serverVersion)
		os.Exit(0)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting Thinking MCP Orchestrator",
		"version", serverVersion,
		"debug", *debug,
		"max_parallelism", cfg.MaxParallelism,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire the orchestration engine
	registry := techniques.NewRegistry()
	store := memory.NewSessionStore()
	index := orchestrator.NewSessionIndex()
	bus := orchestrator.NewEventBus()
	analyzer := orchestrator.NewDependencyAnalyzer(logger)
	planner := orchestrator.NewPlanGenerator(analyzer, registry, cfg.MaxParallelism, logger)
	synchronizer := orchestrator.NewSynchronizer(cfg.Sync, orchestrator.SystemClock, bus, index, logger)
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  cfg.Retry.Multiplier,
	}
	monitor := orchestrator.NewTimeoutMonitor(cfg.Monitor, policy, orchestrator.SystemClock, bus, logger)
	outputCache := cache.New(cfg.CacheTTL)
	defer outputCache.Close()
	executor := orchestrator.NewConvergenceExecutor(store, synchronizer, outputCache, logger)

	mcpServer := server.NewMCPServer(
		server.Config{Name: "thinking-orchestrator", Version: serverVersion},
		planner, store, index, synchronizer, monitor, executor, logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mcpServer.ServeWithLogger(logger)
	})
	g.Go(func() error {
		runCleanupLoop(ctx, store, synchronizer, cfg, logger)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// runCleanupLoop periodically removes stale sessions and clears shared
// contexts whose groups are no longer active.
func runCleanupLoop(ctx context.Context, store *memory.SessionStore, synchronizer *orchestrator.Synchronizer, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := store.CleanupStale(ctx, cfg.SessionMaxAge)
			if err != nil {
				logger.Error("Session cleanup failed", "error", err)
				continue
			}
			cleared := synchronizer.CleanupInactiveGroups(store.ActiveGroupIDs())
			if removed > 0 || cleared > 0 {
				logger.Info("Cleanup pass",
					"sessions_removed", removed,
					"contexts_cleared", cleared,
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
