package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-forecast/internal/cache"
	"github.com/kjstillabower/weather-forecast/internal/client"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// ErrEmptyCity is returned when no city name is given.
var ErrEmptyCity = errors.New("city is required")

// Options configures a ForecastService.
type Options struct {
	// TTL is how long a fetched forecast stays fresh in the cache.
	TTL time.Duration
	// Backend labels cache hit/miss metrics (in_memory, memcached, redis, bolt).
	Backend string
	// ServeStale returns the last known forecast, marked Stale, when the upstream fails.
	ServeStale bool
	// Now is the clock used to age cached forecasts. Defaults to time.Now.
	Now func() time.Time
}

// ForecastService orchestrates forecast retrieval using cache-aside with upstream
// fallback. Concurrent misses for the same key share one upstream call.
type ForecastService struct {
	client client.ForecastClient
	cache  cache.Cache
	opts   Options
	group  singleflight.Group
}

// NewForecastService creates a ForecastService. A zero TTL defaults to ten minutes.
func NewForecastService(c client.ForecastClient, fc cache.Cache, opts Options) *ForecastService {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.Backend == "" {
		opts.Backend = "in_memory"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ForecastService{client: c, cache: fc, opts: opts}
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFrom(ctx); l != nil {
		return l
	}
	return zap.NewNop()
}

// GetForecast returns the forecast for city in system. Lookup order: fresh cache entry,
// the other unit system's fresh entry converted, upstream, then (if enabled) a stale entry.
func (s *ForecastService) GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return models.Forecast{}, ErrEmptyCity
	}
	if system == "" {
		system = units.Default
	}
	start := time.Now()
	logger := loggerFrom(ctx).With(zap.String("city", city), zap.String("units", string(system)))
	observability.RecordForecastQuery(city, string(system))

	key := cache.Key(system, city)
	if f, ok := s.lookup(ctx, key, logger); ok {
		observability.CacheHitsTotal.WithLabelValues(s.opts.Backend).Inc()
		logger.Debug("forecast served", zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return f, nil
	}
	if f, ok := s.lookup(ctx, cache.Key(system.Toggle(), city), logger); ok {
		// The converted copy expires with its source so a fetch is never fresh past its TTL.
		if left := s.freshFor(f); left > 0 {
			observability.CacheHitsTotal.WithLabelValues(s.opts.Backend).Inc()
			converted := units.ConvertForecast(f, system)
			s.store(ctx, key, converted, left, logger)
			logger.Debug("forecast served", zap.Bool("cached", true), zap.Bool("converted", true))
			return converted, nil
		}
	}
	observability.CacheMissesTotal.WithLabelValues(s.opts.Backend).Inc()
	logger.Debug("cache miss, fetching upstream")
	return s.fetch(ctx, city, system, start, true, logger)
}

// Refresh fetches city from the upstream regardless of what is cached and stores the result.
// Upstream failures are returned, never masked by a stale entry.
// The cache warmer uses it so tracked cities are renewed before they expire.
func (s *ForecastService) Refresh(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return models.Forecast{}, ErrEmptyCity
	}
	if system == "" {
		system = units.Default
	}
	logger := loggerFrom(ctx).With(zap.String("city", city), zap.String("units", string(system)))
	logger.Debug("refreshing forecast")
	return s.fetch(ctx, city, system, time.Now(), false, logger)
}

// fetch calls the upstream once per key at a time. allowStale permits the stale fallback on failure.
func (s *ForecastService) fetch(ctx context.Context, city string, system units.System, start time.Time, allowStale bool, logger *zap.Logger) (models.Forecast, error) {
	key := cache.Key(system, city)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others; the client timeout bounds it.
		fetchCtx := context.WithoutCancel(ctx)
		f, err := s.client.GetForecast(fetchCtx, city, system)
		if err != nil {
			return models.Forecast{}, err
		}
		s.store(fetchCtx, key, f, s.opts.TTL, logger)
		return f, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return models.Forecast{}, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		observability.CoalescedRequestsTotal.Inc()
	}
	if res.Err != nil {
		if stale, ok := s.stale(ctx, key); ok && allowStale {
			logger.Info("serving stale forecast", zap.Error(res.Err), zap.Time("fetchedAt", stale.FetchedAt))
			return stale, nil
		}
		return models.Forecast{}, fmt.Errorf("fetch forecast for %s: %w", city, res.Err)
	}
	logger.Debug("forecast served", zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return res.Val.(models.Forecast), nil
}

func (s *ForecastService) lookup(ctx context.Context, key string, logger *zap.Logger) (models.Forecast, bool) {
	f, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return models.Forecast{}, false
	}
	return f, ok
}

// freshFor is how long f stays fresh, measured from when it was fetched.
func (s *ForecastService) freshFor(f models.Forecast) time.Duration {
	if f.FetchedAt.IsZero() {
		return 0
	}
	return f.FetchedAt.Add(s.opts.TTL).Sub(s.opts.Now())
}

func (s *ForecastService) store(ctx context.Context, key string, f models.Forecast, ttl time.Duration, logger *zap.Logger) {
	if err := s.cache.Set(ctx, key, f, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *ForecastService) stale(ctx context.Context, key string) (models.Forecast, bool) {
	if !s.opts.ServeStale {
		return models.Forecast{}, false
	}
	sr, ok := s.cache.(cache.StaleReader)
	if !ok {
		return models.Forecast{}, false
	}
	f, ok, err := sr.GetStale(ctx, key)
	if err != nil || !ok {
		return models.Forecast{}, false
	}
	f.Stale = true
	return f, true
}

// ValidateAPIKey delegates to the client.
func (s *ForecastService) ValidateAPIKey(ctx context.Context) error {
	return s.client.ValidateAPIKey(ctx)
}
