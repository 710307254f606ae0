package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jaennil/tilekit/internal/controller"
	v1 "github.com/jaennil/tilekit/internal/infrastructure/http/v1"
	"github.com/jaennil/tilekit/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/tilekit/internal/scheduler"
	"github.com/jaennil/tilekit/internal/source"
	"github.com/jaennil/tilekit/internal/tile"
	"github.com/jaennil/tilekit/internal/viewport"
	"github.com/jaennil/tilekit/pkg/config"
	"github.com/jaennil/tilekit/pkg/logger"
	"github.com/jaennil/tilekit/pkg/telemetry"
)

// Run wires the engine together and drives the tick loop until a
// shutdown signal arrives. The engine is an explicit long-lived
// instance handed to its consumers; there is no ambient global.
func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger.Level)

	l.Info("starting tilekit", "config", cfg)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
	}

	// Tile source: Redis-backed store when enabled, HTTP otherwise.
	var fetcher source.Fetcher
	var locator controller.Locator
	if cfg.Redis.Enabled {
		redisSource, err := source.NewRedisSource(source.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			l.Fatal("failed to initialize redis tile source", "error", err)
		}
		defer redisSource.Close()
		fetcher = redisSource
		locator = source.RedisLocator
	} else {
		fetcher = source.NewHTTPSource(cfg.Source.FetchTimeout, cfg.Source.UserAgent, cfg.Source.Referer, l)
		template := cfg.Source.TileURLTemplate
		locator = func(a tile.Address) string {
			return source.URLFromTemplate(template, a)
		}
	}

	cache, err := scheduler.OpenDiskCache(cfg.Engine.CacheDir, cfg.Engine.CacheBudgetBytes, l)
	if err != nil {
		l.Fatal("failed to open disk cache", "error", err)
	}

	index, err := scheduler.OpenIndex(cfg.Engine.IndexPath, l)
	if err != nil {
		l.Fatal("failed to open cache index", "error", err)
	}

	sched, err := scheduler.New(cfg.Engine.ConcurrencyLimit, fetcher, cache, index, l)
	if err != nil {
		l.Fatal("failed to initialize scheduler", "error", err)
	}

	slots := viewport.NewSlotTable(cfg.Map.FadeDuration)

	sink := func(a tile.Address, data []byte) {
		l.Debug("tile ready", "tile", a, "size", len(data))
	}

	ctrl := controller.New(controller.Config{
		ZoomHysteresisUp:   cfg.Engine.ZoomHysteresisUp,
		ZoomHysteresisDown: cfg.Engine.ZoomHysteresisDown,
		ViewWidthPx:        cfg.Map.ViewWidthPx,
		ViewHeightPx:       cfg.Map.ViewHeightPx,
	}, sched, slots, locator, sink, l)

	ctrl.SetCenter(cfg.Map.CenterLon, cfg.Map.CenterLat)
	ctrl.SetZoom(cfg.Map.Zoom)

	// Debug surface: cached tiles, health, prometheus metrics.
	validate := validator.New()
	h := handler.NewHandler(validate, cfg.Engine.CacheDir)
	router := v1.NewRouter(h, l, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.Server.ReadTimeout,
		WriteTimeout: cfg.HTTP.Server.WriteTimeout,
		IdleTimeout:  cfg.HTTP.Server.IdleTimeout,
	}

	go func() {
		l.Info("starting http server", "port", cfg.HTTP.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("failed to start server", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// The tick loop is the single goroutine that mutates viewport
	// state, job tables and cache bookkeeping.
	ticker := time.NewTicker(cfg.Engine.TickInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			if err := ctrl.Tick(ctx); err != nil {
				l.Error("tick failed", "error", err)
			}
		case <-quit:
			break loop
		}
	}

	l.Info("shutting down...")
	cancel()

	if err := sched.Close(); err != nil {
		l.Error("failed to persist cache index", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("http server shutdown failed", "error", err)
	}

	l.Info("application shutdown completed")
}
