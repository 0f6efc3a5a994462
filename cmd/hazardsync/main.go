package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hazard-sync/internal/adapter/feed"
	"github.com/couchcryptid/hazard-sync/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/hazard-sync/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-sync/internal/adapter/mapbox"
	"github.com/couchcryptid/hazard-sync/internal/config"
	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/engine"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/observability"
	"github.com/couchcryptid/hazard-sync/internal/pipeline"
)

// readiness is ready when every checker is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	// Local overrides only; a missing file is fine.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	providers := make(map[domain.Source]domain.Provider, len(cfg.Sources))
	for _, src := range domain.Sources {
		sc := cfg.Sources[src]
		if !sc.Enabled() {
			logger.Info("data source disabled", "source", string(src))
			continue
		}
		providers[src] = feed.NewClient(src, sc.FeedURL, sc.FeedToken, sc.FetchTimeout, logger)
		logger.Info("data source enabled", "source", string(src), "ttl", sc.TTL, "per_minute", sc.PerMinute)
	}

	// Route planning is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	var planner domain.RoutePlanner
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		planner = mapbox.NewCachedPlanner(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox routing enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox routing disabled")
	}

	writer := kafkaadapter.NewWriter(cfg, logger)
	reader := kafkaadapter.NewReader(cfg, logger)

	eng := engine.New(engine.FromConfig(cfg), loop.New(clockwork.NewRealClock()), providers, planner, writer, logger, metrics)
	p := pipeline.New(reader, pipeline.NewParser(), eng, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness{eng, p}, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The engine outlives the HTTP server so in-flight handlers can drain.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine error", "error", err)
		}
	}()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start position pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	stopEngine()
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Warn("engine did not stop before shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
