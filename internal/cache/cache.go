package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// Cache defines the interface for forecast caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.Forecast, bool, error)
	Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error
}

// StaleReader is implemented by backends that retain entries past their TTL.
// GetStale ignores expiry and is used to serve the last known forecast when the upstream fails.
type StaleReader interface {
	GetStale(ctx context.Context, key string) (models.Forecast, bool, error)
}

// Pinger is implemented by backends with a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Key builds the cache key for a city in a unit system. City names are case-insensitive.
func Key(system units.System, city string) string {
	return string(system) + ":" + strings.ToLower(strings.TrimSpace(city))
}

// InMemoryCache implements Cache using a map guarded by a mutex.
// Expired entries are kept for staleFor so GetStale can return them, then pruned on Set.
type InMemoryCache struct {
	mu       sync.Mutex
	data     map[string]cacheEntry
	staleFor time.Duration
	now      func() time.Time
}

type cacheEntry struct {
	value     models.Forecast
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache that keeps expired entries for staleFor.
func NewInMemoryCache(staleFor time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:     make(map[string]cacheEntry),
		staleFor: staleFor,
		now:      time.Now,
	}
}

// Get returns (data, true, nil) on hit and (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expiresAt) {
		return models.Forecast{}, false, nil
	}
	return entry.value, true, nil
}

// GetStale returns the entry regardless of expiry while it is inside the stale window.
func (c *InMemoryCache) GetStale(ctx context.Context, key string) (models.Forecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expiresAt.Add(c.staleFor)) {
		return models.Forecast{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores the forecast with the given TTL and prunes entries past the stale window.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.data {
		if now.After(e.expiresAt.Add(c.staleFor)) {
			delete(c.data, k)
		}
	}
	c.data[key] = cacheEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Len reports the number of retained entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
