// Package app wires configuration into the forecast client, cache, unit store and
// services shared by the HTTP server and the terminal client.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/cache"
	"github.com/kjstillabower/weather-forecast/internal/circuitbreaker"
	"github.com/kjstillabower/weather-forecast/internal/client"
	"github.com/kjstillabower/weather-forecast/internal/config"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/service"
	"github.com/kjstillabower/weather-forecast/internal/settings"
	"github.com/kjstillabower/weather-forecast/internal/storage"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// Name is used for the per-user data directory.
const Name = "weather-forecast"

// App holds the wired dependencies. Close releases the cache and store.
type App struct {
	Client    *client.OpenWeatherClient
	Cache     cache.Cache
	Store     storage.UnitStore
	Forecasts *service.ForecastService
	Settings  *settings.Service

	// Checks are dependency probes for the health endpoint, keyed by name.
	Checks map[string]func(ctx context.Context) error

	closers []io.Closer
}

// New builds every dependency from cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Checks: make(map[string]func(ctx context.Context) error)}

	c, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Client = c

	fc, err := NewCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Cache = fc
	if cl, ok := fc.(io.Closer); ok {
		a.closers = append(a.closers, cl)
	}
	if p, ok := fc.(cache.Pinger); ok {
		a.Checks["cache"] = p.Ping
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	store, err := storage.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open unit store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store)
	a.Checks["store"] = store.Ping
	logger.Info("unit store", zap.String("driver", cfg.StoreDriver))

	a.Forecasts = service.NewForecastService(c, fc, service.Options{
		TTL:        cfg.CacheTTL,
		Backend:    cfg.CacheBackend,
		ServeStale: cfg.CacheServeStale,
	})
	a.Settings = settings.New(store, units.System(cfg.DefaultUnits), logger)
	return a, nil
}

// NewClient builds the forecast client with retries and a circuit breaker.
func NewClient(cfg *config.Config, logger *zap.Logger) (*client.OpenWeatherClient, error) {
	c, err := client.NewOpenWeatherClientWithOptions(cfg.WeatherAPIKey, cfg.WeatherAPIURL, client.Options{
		Timeout:        cfg.WeatherAPITimeout,
		Days:           cfg.ForecastDays,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("forecast client: %w", err)
	}
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailures,
		SuccessThreshold: cfg.CircuitBreakerSuccesses,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        "weather_api",
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}))
	return c, nil
}

// NewCache opens the configured cache backend.
func NewCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		return mc, nil
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil
	case "bolt":
		if dir := filepath.Dir(cfg.BoltPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("bolt cache dir: %w", err)
			}
		}
		bc, err := cache.NewBoltCache(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("bolt cache: %w", err)
		}
		return bc, nil
	default:
		return cache.NewInMemoryCache(cfg.CacheStaleFor), nil
	}
}

// Close releases resources in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// DataDir returns the per-user directory for the CLI's database, cache and log
// (~/.config/weather-forecast on Linux), creating it if needed.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config directory: %w", err)
	}
	dir := filepath.Join(base, Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}
