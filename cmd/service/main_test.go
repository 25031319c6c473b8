package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/app"
	"github.com/kjstillabower/weather-forecast/internal/config"
)

const forecastBody = `{
  "city": {"id": 360630, "name": "Cairo", "country": "EG", "timezone": 7200},
  "cnt": 1,
  "list": [
    {"dt": 1709647200, "temp": {"day": 24.6, "min": 14.1, "max": 26.3},
     "pressure": 1014, "humidity": 33,
     "weather": [{"id": 800, "main": "Clear", "description": "sky is clear", "icon": "01d"}],
     "speed": 4.2}
  ]
}`

// upstream records the units and city of every forecast request it answers.
type upstream struct {
	mu       sync.Mutex
	requests []string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u.mu.Lock()
	u.requests = append(u.requests, q.Get("q")+"/"+q.Get("units"))
	u.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(forecastBody))
}

func (u *upstream) seen() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.requests...)
}

func setupService(t *testing.T, mutate func(*config.Config)) (*app.App, *config.Config, *upstream) {
	t.Helper()
	up := &upstream{}
	api := httptest.NewServer(up)
	t.Cleanup(api.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		ServerPort:        "0",
		WeatherAPIKey:     "test-api-key-12345",
		WeatherAPIURL:     api.URL + "/data/2.5/forecast/daily",
		WeatherAPITimeout: time.Second,
		ForecastDays:      7,
		RetryAttempts:     1,
		RequestTimeout:    2 * time.Second,
		CacheBackend:      "in_memory",
		CacheTTL:          time.Minute,
		CacheStaleFor:     time.Hour,
		StoreDriver:       "sqlite",
		StoreDSN:          filepath.Join(dir, "weather.db"),
		DegradedWindow:    time.Minute,
		DegradedErrorPct:  50,
		DefaultCity:       "Cairo",
		DefaultUnits:      "imperial",
	}
	if mutate != nil {
		mutate(cfg)
	}
	deps, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })
	return deps, cfg, up
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewServer_Routes(t *testing.T) {
	deps, cfg, up := setupService(t, nil)
	srv := newServer(cfg, deps, zap.NewNop())
	if srv.Addr != ":0" {
		t.Errorf("Addr = %q, want :0", srv.Addr)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"forecast by path", http.MethodGet, "/forecast/Cairo", "", http.StatusOK, `"title":"Cairo, EG"`},
		{"forecast default city", http.MethodGet, "/forecast", "", http.StatusOK, `"units":"imperial"`},
		{"invalid units", http.MethodGet, "/forecast/Cairo?units=kelvin", "", http.StatusBadRequest, "INVALID_UNITS"},
		{"list units", http.MethodGet, "/settings/units", "", http.StatusOK, `"current":"imperial"`},
		{"save units", http.MethodPut, "/settings/units", `{"unit":"metric"}`, http.StatusOK, "Metric (C)"},
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"status"`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "httpRequestsTotal"},
		{"unknown route", http.MethodGet, "/alerts/Cairo", "", http.StatusNotFound, ""},
		{"wrong method", http.MethodPost, "/forecast/Cairo", "", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, srv.Handler, tt.method, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("%s %s = %d, want %d: %s", tt.method, tt.path, w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("%s %s body missing %q: %s", tt.method, tt.path, tt.wantBody, w.Body.String())
			}
		})
	}

	// The saved metric preference now drives the response units. The fresh imperial entry
	// is converted, so the upstream sees a single Cairo request.
	w := serve(t, srv.Handler, http.MethodGet, "/forecast/Cairo", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"units":"metric"`) {
		t.Fatalf("forecast after save = %d %s, want metric", w.Code, w.Body.String())
	}
	var forecasts []string
	for _, r := range up.seen() {
		if strings.HasPrefix(r, "Cairo/") {
			forecasts = append(forecasts, r)
		}
	}
	if len(forecasts) != 1 || forecasts[0] != "Cairo/imperial" {
		t.Errorf("upstream forecast requests = %v, want one imperial", forecasts)
	}
}

func TestNewServer_RateLimitsForecasts(t *testing.T) {
	deps, cfg, _ := setupService(t, func(c *config.Config) {
		c.RateLimitRPS = 1
		c.RateLimitBurst = 1
	})
	h := newServer(cfg, deps, zap.NewNop()).Handler

	if w := serve(t, h, http.MethodGet, "/forecast/Cairo", ""); w.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/forecast/Cairo", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/settings/units", ""); w.Code != http.StatusOK {
		t.Errorf("settings while limited = %d, want 200", w.Code)
	}
}

func TestStartWarmer(t *testing.T) {
	deps, cfg, up := setupService(t, func(c *config.Config) {
		c.TrackedCities = []string{"Cairo", "Lisbon"}
		c.DefaultUnits = "metric"
	})

	startWarmer(context.Background(), cfg, deps, zap.NewNop())
	startWarmer(context.Background(), cfg, deps, zap.NewNop())

	seen := up.seen()
	if len(seen) != 4 {
		t.Fatalf("upstream requests = %v, want both cities fetched on each pass", seen)
	}
	for _, r := range seen {
		if !strings.HasSuffix(r, "/metric") {
			t.Errorf("warm request %q, want the configured metric units", r)
		}
	}

	before := len(up.seen())
	h := newServer(cfg, deps, zap.NewNop()).Handler
	if w := serve(t, h, http.MethodGet, "/forecast/Lisbon", ""); w.Code != http.StatusOK {
		t.Fatalf("forecast = %d", w.Code)
	}
	if len(up.seen()) != before {
		t.Error("warmed city fetched again instead of served from cache")
	}
}
