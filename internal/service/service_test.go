package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-forecast/internal/cache"
	"github.com/kjstillabower/weather-forecast/internal/client"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

type mockForecastClient struct {
	forecast    models.Forecast
	err         error
	validateErr error
	calls       atomic.Int32
	delay       time.Duration
}

func (m *mockForecastClient) GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return models.Forecast{}, m.err
	}
	f := m.forecast
	f.City.Name = city
	f.Unit = string(system)
	return f, nil
}

func (m *mockForecastClient) ValidateAPIKey(ctx context.Context) error {
	return m.validateErr
}

type mockCache struct {
	mu     sync.Mutex
	data   map[string]models.Forecast
	ttls   map[string]time.Duration
	stale  map[string]models.Forecast
	getErr error
	setErr error
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string]models.Forecast{}, ttls: map[string]time.Duration{}, stale: map[string]models.Forecast{}}
}

func (m *mockCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.Forecast{}, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string) (models.Forecast, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.stale[key]
	return v, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func sampleForecast() models.Forecast {
	return models.Forecast{
		City: models.City{Country: "EG"},
		Entries: []models.ForecastEntry{
			{Dt: 1709647200, Temp: models.Temperature{Day: 20}, Speed: 5},
		},
	}
}

func TestForecastService_CacheMissThenHit(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	fc := newMockCache()
	svc := NewForecastService(c, fc, Options{TTL: time.Minute})
	ctx := context.Background()

	got, err := svc.GetForecast(ctx, "Cairo", units.Metric)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got.City.Name != "Cairo" || got.Unit != "metric" {
		t.Errorf("GetForecast() = %+v", got)
	}
	if _, ok := fc.data["metric:cairo"]; !ok {
		t.Error("forecast not stored under metric:cairo")
	}

	if _, err := svc.GetForecast(ctx, "  CAIRO ", units.Metric); err != nil {
		t.Fatalf("second GetForecast() error = %v", err)
	}
	if c.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", c.calls.Load())
	}
}

func TestForecastService_DefaultsToImperial(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	svc := NewForecastService(c, newMockCache(), Options{})

	got, err := svc.GetForecast(context.Background(), "Cairo", "")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got.Unit != "imperial" {
		t.Errorf("Unit = %q, want imperial", got.Unit)
	}
}

func TestForecastService_EmptyCity(t *testing.T) {
	svc := NewForecastService(&mockForecastClient{}, newMockCache(), Options{})
	if _, err := svc.GetForecast(context.Background(), "   ", units.Metric); !errors.Is(err, ErrEmptyCity) {
		t.Errorf("error = %v, want ErrEmptyCity", err)
	}
}

func TestForecastService_ConvertsOtherUnitSystem(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	fc := newMockCache()
	cached := sampleForecast()
	cached.City.Name = "Cairo"
	cached.Unit = "metric"
	cached.FetchedAt = time.Now()
	fc.data[cache.Key(units.Metric, "Cairo")] = cached

	svc := NewForecastService(c, fc, Options{})
	got, err := svc.GetForecast(context.Background(), "Cairo", units.Imperial)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if c.calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", c.calls.Load())
	}
	if got.Unit != "imperial" || got.Entries[0].Temp.Day != 68 {
		t.Errorf("converted = unit %q temp %v, want imperial 68", got.Unit, got.Entries[0].Temp.Day)
	}
	if _, ok := fc.data["imperial:cairo"]; !ok {
		t.Error("converted forecast not stored")
	}
	if ttl := fc.ttls["imperial:cairo"]; ttl <= 0 || ttl > 10*time.Minute {
		t.Errorf("converted ttl = %v, want the source's remaining time", ttl)
	}
}

// clockCache expires entries against a test clock.
type clockCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]clockEntry
}

type clockEntry struct {
	value     models.Forecast
	expiresAt time.Time
}

func (c *clockCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return models.Forecast{}, false, nil
	}
	return e.value, true, nil
}

func (c *clockCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = clockEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

type clockClient struct {
	now   func() time.Time
	calls atomic.Int32
}

func (c *clockClient) GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	c.calls.Add(1)
	f := sampleForecast()
	f.City.Name = city
	f.Unit = string(system)
	f.FetchedAt = c.now()
	return f, nil
}

func (c *clockClient) ValidateAPIKey(ctx context.Context) error { return nil }

func TestForecastService_ConvertedCopyExpiresWithSource(t *testing.T) {
	t0 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	now := t0
	clock := func() time.Time { return now }
	c := &clockClient{now: clock}
	fc := &clockCache{now: clock, entries: map[string]clockEntry{}}
	const ttl = 10 * time.Minute
	svc := NewForecastService(c, fc, Options{TTL: ttl, Now: clock})
	ctx := context.Background()

	systems := []units.System{units.Metric, units.Imperial}
	for i := 0; i < 12; i++ {
		got, err := svc.GetForecast(ctx, "Cairo", systems[i%2])
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if age := now.Sub(got.FetchedAt); age >= ttl {
			t.Fatalf("request %d at +%v served a forecast %v old", i, now.Sub(t0), age)
		}
		now = now.Add(9 * time.Minute)
	}
	// 12 requests over 108 minutes need a new fetch at least every ten minutes.
	if n := c.calls.Load(); n < 6 {
		t.Errorf("upstream calls = %d, want at least 6", n)
	}
}

func TestForecastService_ExpiredSourceNotConverted(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	fc := newMockCache()
	old := sampleForecast()
	old.Unit = "metric"
	old.FetchedAt = time.Now().Add(-time.Hour)
	fc.data[cache.Key(units.Metric, "Cairo")] = old

	svc := NewForecastService(c, fc, Options{TTL: 10 * time.Minute})
	if _, err := svc.GetForecast(context.Background(), "Cairo", units.Imperial); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if c.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", c.calls.Load())
	}
}

func TestForecastService_RefreshBypassesCache(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	fc := newMockCache()
	svc := NewForecastService(c, fc, Options{TTL: time.Hour})
	ctx := context.Background()

	if _, err := svc.GetForecast(ctx, "Cairo", units.Metric); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Refresh(ctx, "Cairo", units.Metric); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	if c.calls.Load() != 3 {
		t.Errorf("upstream calls = %d, want 3", c.calls.Load())
	}
	if fc.ttls["metric:cairo"] != time.Hour {
		t.Errorf("stored ttl = %v, want 1h", fc.ttls["metric:cairo"])
	}
	c.err = client.ErrUpstreamFailure
	svc.opts.ServeStale = true
	if _, err := svc.Refresh(ctx, "Cairo", units.Metric); !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("Refresh() with upstream down = %v, want ErrUpstreamFailure", err)
	}
	if _, err := svc.Refresh(ctx, " ", units.Metric); !errors.Is(err, ErrEmptyCity) {
		t.Errorf("Refresh(blank) error = %v, want ErrEmptyCity", err)
	}
}

func TestForecastService_UpstreamError(t *testing.T) {
	c := &mockForecastClient{err: client.ErrCityNotFound}
	svc := NewForecastService(c, newMockCache(), Options{ServeStale: true})

	_, err := svc.GetForecast(context.Background(), "Atlantis", units.Metric)
	if !errors.Is(err, client.ErrCityNotFound) {
		t.Fatalf("error = %v, want ErrCityNotFound", err)
	}
}

func TestForecastService_ServesStaleOnUpstreamFailure(t *testing.T) {
	c := &mockForecastClient{err: client.ErrUpstreamFailure}
	fc := newMockCache()
	old := sampleForecast()
	old.City.Name = "Cairo"
	fc.stale["metric:cairo"] = old

	tests := []struct {
		name       string
		serveStale bool
		wantErr    bool
	}{
		{"enabled", true, false},
		{"disabled", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewForecastService(c, fc, Options{ServeStale: tt.serveStale})
			got, err := svc.GetForecast(context.Background(), "Cairo", units.Metric)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Stale {
				t.Error("Stale = false, want true")
			}
		})
	}
}

func TestForecastService_CacheErrorsFallThrough(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	fc := newMockCache()
	fc.getErr = errors.New("connection refused")
	fc.setErr = errors.New("connection refused")
	svc := NewForecastService(c, fc, Options{})

	if _, err := svc.GetForecast(context.Background(), "Cairo", units.Metric); err != nil {
		t.Fatalf("GetForecast() error = %v, want nil when cache is down", err)
	}
	if c.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", c.calls.Load())
	}
}

func TestForecastService_CoalescesConcurrentMisses(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast(), delay: 50 * time.Millisecond}
	svc := NewForecastService(c, newMockCache(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetForecast(context.Background(), "Cairo", units.Metric); err != nil {
				t.Errorf("GetForecast() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if n := c.calls.Load(); n >= 10 {
		t.Errorf("upstream calls = %d, want coalesced below 10", n)
	}
}

func TestForecastService_CallerCancellation(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast(), delay: 100 * time.Millisecond}
	svc := NewForecastService(c, newMockCache(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := svc.GetForecast(ctx, "Cairo", units.Metric); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestForecastService_ValidateAPIKey(t *testing.T) {
	svc := NewForecastService(&mockForecastClient{validateErr: client.ErrInvalidAPIKey}, newMockCache(), Options{})
	if err := svc.ValidateAPIKey(context.Background()); !errors.Is(err, client.ErrInvalidAPIKey) {
		t.Errorf("ValidateAPIKey() = %v", err)
	}
}

func TestCacheWarmer_RefetchesCachedCities(t *testing.T) {
	c := &mockForecastClient{forecast: sampleForecast()}
	svc := NewForecastService(c, cache.NewInMemoryCache(time.Hour), Options{TTL: time.Hour})
	warmer := cache.NewCacheWarmer(svc, units.Metric, nil)
	cities := []string{"Cairo", "Lisbon"}

	for pass := 0; pass < 3; pass++ {
		if err := warmer.Warm(context.Background(), cities); err != nil {
			t.Fatalf("Warm() pass %d error = %v", pass, err)
		}
	}
	if got := c.calls.Load(); got != 6 {
		t.Errorf("upstream calls = %d, want 6", got)
	}

	// Readers are still served from what the warmer stored.
	if _, err := svc.GetForecast(context.Background(), "Lisbon", units.Metric); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got := c.calls.Load(); got != 6 {
		t.Errorf("upstream calls after read = %d, want 6", got)
	}
}
