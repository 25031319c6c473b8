package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-forecast/internal/app"
	"github.com/kjstillabower/weather-forecast/internal/cache"
	"github.com/kjstillabower/weather-forecast/internal/config"
	httphandler "github.com/kjstillabower/weather-forecast/internal/http"
	"github.com/kjstillabower/weather-forecast/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.MarkStarted(time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("dependencies", zap.Error(err))
	}
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitBreakerFailures),
		zap.Duration("timeout", cfg.CircuitBreakerTimeout))

	startWarmer(ctx, cfg, deps, logger)
	srv := newServer(cfg, deps, logger)

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httphandler.Shutdown(shutdownCtx, srv, 100*time.Millisecond, logger); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	if err := deps.Close(); err != nil {
		logger.Error("close dependencies", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newServer wires the HTTP surface: health thresholds and dependency checks, the forecast
// rate limiter, and the router with its middleware chain.
func newServer(cfg *config.Config, deps *app.App, logger *zap.Logger) *http.Server {
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedErrorPct:    cfg.DegradedErrorPct,
		APIKeyCheckInterval: time.Minute,
		Checks:              deps.Checks,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(deps.Forecasts, deps.Settings, cfg.DefaultCity, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)
	return httphandler.NewServer(":"+cfg.ServerPort, router, cfg.RequestTimeout)
}

// startWarmer prefetches the tracked cities once, then refreshes them every WarmInterval
// until ctx is done.
func startWarmer(ctx context.Context, cfg *config.Config, deps *app.App, logger *zap.Logger) {
	if len(cfg.TrackedCities) == 0 {
		return
	}
	observability.SetTrackedCities(cfg.TrackedCities)

	warmer := cache.NewCacheWarmer(deps.Forecasts, units.System(cfg.DefaultUnits), logger)
	warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := warmer.Warm(warmCtx, cfg.TrackedCities); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
	warmCancel()
	if cfg.WarmInterval <= 0 {
		return
	}
	go func() {
		if err := warmer.WarmPeriodic(ctx, cfg.TrackedCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
}
