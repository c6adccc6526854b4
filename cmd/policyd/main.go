// SPDX-License-Identifier: MIT

// Command policyd runs the device policy control plane: an HTTP server over
// the lifecycle engine, circuit breaker and canary rollout controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/finfleet/policyd/internal/api"
	"github.com/finfleet/policyd/internal/config"
	"github.com/finfleet/policyd/internal/engine"
	"github.com/finfleet/policyd/internal/log"
	"github.com/finfleet/policyd/internal/resilience"
	"github.com/finfleet/policyd/internal/rollout"
	"github.com/finfleet/policyd/internal/store"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   "info",
		Service: "policyd",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	log.SetLevel(cfg.LogLevel)

	repo, err := store.Open(cfg.Store, cfg.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("backend", cfg.Store).
			Msg("failed to open repository")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("repository close failed")
		}
	}()

	breaker := resilience.NewLockBreaker(resilience.LockBreakerConfig{
		MaxLocksInWindow: cfg.Breaker.MaxLocks,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	controller := rollout.NewController(rollout.Config{
		ErrorRateThreshold:     cfg.Rollout.ErrorRateThreshold,
		HeartbeatLossThreshold: cfg.Rollout.HeartbeatLossThreshold,
	})
	eng := engine.New(repo, breaker)

	_, router := api.New(eng, controller, api.Config{
		Version:          version,
		EnableMetrics:    true,
		EnableLogging:    true,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimitRPM:     cfg.RateLimit.RPM,
	})

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("listen", cfg.Listen).
			Str("backend", cfg.Store).
			Int("breaker_max_locks", cfg.Breaker.MaxLocks).
			Msg("policyd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}
