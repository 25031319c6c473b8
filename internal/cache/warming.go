package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// ForecastRefresher is implemented by the service layer. Refresh skips the cache lookup,
// fetches from the upstream and stores the result.
type ForecastRefresher interface {
	Refresh(ctx context.Context, city string, system units.System) (models.Forecast, error)
}

// CacheWarmer prefetches forecasts for a list of tracked cities.
type CacheWarmer struct {
	fetcher ForecastRefresher
	system  units.System
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that fetches in the given unit system.
func NewCacheWarmer(fetcher ForecastRefresher, system units.System, logger *zap.Logger) *CacheWarmer {
	if system == "" {
		system = units.Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, system: system, logger: logger}
}

// Warm refetches every city concurrently, whether or not it is cached. Failures are joined into the returned error.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)), zap.String("units", string(w.system)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if _, err := w.fetcher.Refresh(ctx, city, w.system); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city, err))
				mu.Unlock()
			}
		}(city)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, cities []string, interval time.Duration) error {
	if err := w.Warm(ctx, cities); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cities); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
