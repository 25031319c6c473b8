//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/weather-forecast/internal/app"
	"github.com/kjstillabower/weather-forecast/internal/config"
)

const defaultForecastURL = "https://api.openweathermap.org/data/2.5/forecast/daily"

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // in_memory, memcached, redis or bolt
	MemcachedAddr string
	RedisURL      string
	StoreDriver   string // sqlite or postgres
	StoreDSN      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        envOr("WEATHER_API_URL", defaultForecastURL),
		CacheBackend:  envOr("INTEGRATION_CACHE_BACKEND", "in_memory"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisURL:      envOr("REDIS_URL", "redis://localhost:6379/0"),
		StoreDriver:   envOr("INTEGRATION_STORE_DRIVER", "sqlite"),
		StoreDSN:      os.Getenv("STORE_DSN"),
	}
}

// Config turns cfg into an application config. SQLite and bolt files go under t.TempDir().
func (cfg IntegrationTestConfig) Config(t *testing.T) *config.Config {
	dir := t.TempDir()
	dsn := cfg.StoreDSN
	if cfg.StoreDriver == "sqlite" || dsn == "" {
		dsn = filepath.Join(dir, "weather.db")
	}
	return &config.Config{
		WeatherAPIKey:         cfg.APIKey,
		WeatherAPIURL:         cfg.APIURL,
		WeatherAPITimeout:     5 * time.Second,
		ForecastDays:          7,
		RetryAttempts:         2,
		RetryBaseDelay:        100 * time.Millisecond,
		RetryMaxDelay:         time.Second,
		CacheBackend:          cfg.CacheBackend,
		CacheTTL:              5 * time.Minute,
		CacheServeStale:       true,
		CacheStaleFor:         time.Hour,
		MemcachedAddrs:        cfg.MemcachedAddr,
		MemcachedTimeout:      500 * time.Millisecond,
		MemcachedMaxIdleConns: 2,
		RedisURL:              cfg.RedisURL,
		BoltPath:              filepath.Join(dir, "forecast.bolt"),
		StoreDriver:           cfg.StoreDriver,
		StoreDSN:              dsn,
		CircuitBreakerTimeout: 30 * time.Second,
	}
}

// SetupIntegrationApp wires the full dependency graph against the live API.
// If the configured cache backend is unreachable the in-memory cache is used instead.
func SetupIntegrationApp(t *testing.T, cfg IntegrationTestConfig) *app.App {
	t.Helper()
	ctx := context.Background()
	appCfg := cfg.Config(t)

	a, err := app.New(ctx, appCfg, nil)
	if err != nil && appCfg.CacheBackend != "in_memory" {
		t.Logf("%s cache not available (%v), using in-memory cache", appCfg.CacheBackend, err)
		appCfg.CacheBackend = "in_memory"
		a, err = app.New(ctx, appCfg, nil)
	}
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
