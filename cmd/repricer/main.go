// Repricer - Rule-based marketplace price automation.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/repricer/internal/api"
	"github.com/opensource-finance/repricer/internal/bus"
	"github.com/opensource-finance/repricer/internal/cache"
	"github.com/opensource-finance/repricer/internal/config"
	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/repository"
	"github.com/opensource-finance/repricer/internal/rules"
	"github.com/opensource-finance/repricer/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// breakerTimeout is how long the catalog breaker stays open before probing.
const breakerTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("REPRICER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting repricer",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"buybox_policy", cfg.Engine.BuyboxPolicy,
		"max_workers", cfg.Engine.MaxWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	var catalog domain.ProductCatalog = repo
	if cfg.Repository.BreakerFailures > 0 {
		catalog = repository.NewBreakerCatalog(repo, uint32(cfg.Repository.BreakerFailures), breakerTimeout)
		slog.Info("catalog circuit breaker enabled", "failures", cfg.Repository.BreakerFailures)
	}

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	var competitorFeed domain.CompetitorFeed = repo
	deps := api.Deps{Repo: repo}
	if cacheImpl != nil {
		defer cacheImpl.Close()
		cached := cache.NewCachedFeed(repo, cacheImpl, cfg.Cache.FeedTTL)
		competitorFeed = cached
		deps.Cache = cacheImpl
		deps.Invalidator = cached
		slog.Info("cache initialized", "type", cfg.Cache.Type, "feed_ttl", cfg.Cache.FeedTTL)
	} else {
		slog.Info("cache disabled")
	}
	deps.Feed = competitorFeed

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	deps.Bus = busImpl
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule engine
	engine, err := rules.NewEngine(rules.Deps{
		Catalog: catalog,
		Feed:    competitorFeed,
		Rules:   repo,
		Logs:    repo,
		Bus:     busImpl,
	}, cfg.Engine)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	deps.Engine = engine
	slog.Info("rule engine initialized")

	// Trigger worker
	var triggerWorker *worker.Worker
	if cfg.Worker.Enabled {
		sellerIDs := cfg.Worker.SellerIDs
		if len(sellerIDs) == 0 && cfg.DefaultSellerID != "" {
			sellerIDs = []string{cfg.DefaultSellerID}
		}

		triggerWorker = worker.NewWorker(busImpl, repo, engine)
		if err := triggerWorker.Start(worker.Config{
			SellerIDs:  sellerIDs,
			RunTimeout: cfg.Engine.RunTimeout,
		}); err != nil {
			slog.Error("failed to start trigger worker", "error", err)
			triggerWorker = nil
		} else {
			slog.Info("trigger worker started", "seller_count", len(sellerIDs))
		}
	}

	// Server
	srv := api.NewServer(cfg, deps, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("repricer is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming triggers before the server goes away.
	if triggerWorker != nil {
		if err := triggerWorker.Stop(); err != nil {
			slog.Error("failed to stop trigger worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("repricer shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  REPRICER - rule-based price automation")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rules                       - List rules")
	fmt.Println("    POST /rules                       - Create a rule")
	fmt.Println("    PUT  /rules/{id}/status           - Activate, pause or draft a rule")
	fmt.Println("    POST /rules/{id}/simulate         - Preview a rule")
	fmt.Println("    POST /rules/{id}/execute          - Run a rule now")
	fmt.Println("    POST /runs                        - Run every active rule")
	fmt.Println("    GET  /logs                        - Execution history")
	fmt.Println("    POST /competitor-prices/import    - Import competitor CSV")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
