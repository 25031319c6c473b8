package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-forecast/internal/client"
	"github.com/kjstillabower/weather-forecast/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/settings"
	"github.com/kjstillabower/weather-forecast/internal/storage"
	"github.com/kjstillabower/weather-forecast/internal/traffic"
	"github.com/kjstillabower/weather-forecast/internal/units"
	"github.com/kjstillabower/weather-forecast/internal/view"
)

type fakeForecasts struct {
	mu          sync.Mutex
	err         error
	validateErr error
	validations int
	block       bool // wait for ctx.Done() before answering
	lastCity    string
	lastSystem  units.System
}

func (f *fakeForecasts) GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	f.mu.Lock()
	f.lastCity, f.lastSystem = city, system
	err, block := f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return models.Forecast{}, ctx.Err()
	}
	if err != nil {
		return models.Forecast{}, err
	}
	return sampleForecast(city, system), nil
}

func (f *fakeForecasts) ValidateAPIKey(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++
	return f.validateErr
}

func sampleForecast(city string, system units.System) models.Forecast {
	temp, wind := 25.0, 4.166666
	if system == units.Imperial {
		temp, wind = 77, 9.32
	}
	return models.Forecast{
		City:      models.City{Name: city, Country: "EG", Timezone: 7200},
		Unit:      string(system),
		FetchedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Entries: []models.ForecastEntry{
			{
				Dt:       1709632800, // 2024-03-05 10:00 UTC
				Temp:     models.Temperature{Day: temp, Min: temp - 5, Max: temp + 3},
				Pressure: 1012,
				Humidity: 40,
				Speed:    wind,
				Weather:  []models.Condition{{ID: 800, Main: "Clear", Description: "clear sky"}},
			},
			{
				Dt:       1709719200,
				Temp:     models.Temperature{Day: temp},
				Weather:  []models.Condition{{ID: 501, Main: "Rain", Description: "moderate rain"}},
				Humidity: 80,
			},
		},
	}
}

func newSettings(t *testing.T) *settings.Service {
	t.Helper()
	store, err := storage.NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return settings.New(store, units.Imperial, nil)
}

func newTestRouter(t *testing.T, f *fakeForecasts, health *HealthConfig, logger *zap.Logger) (http.Handler, *settings.Service) {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := newSettings(t)
	h := NewHandler(f, s, "Cairo", health, logger)
	return NewRouter(h, logger, nil, time.Second), s
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, w.Body.String())
	}
	return e
}

func TestHandler_GetForecast_Success(t *testing.T) {
	traffic.Reset()
	f := &fakeForecasts{}
	router, _ := newTestRouter(t, f, nil, nil)

	w := do(t, router, http.MethodGet, "/forecast/London?units=metric", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got view.Forecast
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title != "London, EG" || got.Units != "metric" {
		t.Errorf("title/units = %q/%q", got.Title, got.Units)
	}
	if got.Today == nil {
		t.Fatal("Today = nil")
	}
	if got.Today.Temp != "25°C" || got.Today.Wind != "15 km/h" || got.Today.Category != "Clear Sky" {
		t.Errorf("today = %+v", *got.Today)
	}
	if got.Today.Date != "Tue, Mar 5" {
		t.Errorf("date = %q, want Tue, Mar 5", got.Today.Date)
	}
	if len(got.Days) != 2 || got.Days[1].Category != "Rain" {
		t.Errorf("days = %+v", got.Days)
	}
	if c := traffic.Window(time.Minute); c.Successes != 1 {
		t.Errorf("traffic successes = %d, want 1", c.Successes)
	}
}

func TestHandler_GetForecast_CitySources(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCity string
	}{
		{"path", "/forecast/Paris", "Paris"},
		{"query", "/forecast?city=New%20York", "New York"},
		{"default", "/forecast", "Cairo"},
		{"trimmed", "/forecast?city=%20Rome%20", "Rome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeForecasts{}
			router, _ := newTestRouter(t, f, nil, nil)
			w := do(t, router, http.MethodGet, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
			}
			if f.lastCity != tt.wantCity {
				t.Errorf("city = %q, want %q", f.lastCity, tt.wantCity)
			}
		})
	}
}

func TestHandler_GetForecast_UnitsFromPreference(t *testing.T) {
	f := &fakeForecasts{}
	router, s := newTestRouter(t, f, nil, nil)

	do(t, router, http.MethodGet, "/forecast/Cairo", "")
	if f.lastSystem != units.Imperial {
		t.Errorf("empty table: system = %q, want imperial", f.lastSystem)
	}

	if _, err := s.Save(context.Background(), units.Metric); err != nil {
		t.Fatalf("Save: %v", err)
	}
	do(t, router, http.MethodGet, "/forecast/Cairo", "")
	if f.lastSystem != units.Metric {
		t.Errorf("after save: system = %q, want metric", f.lastSystem)
	}

	do(t, router, http.MethodGet, "/forecast/Cairo?units=imperial", "")
	if f.lastSystem != units.Imperial {
		t.Errorf("query override: system = %q, want imperial", f.lastSystem)
	}
}

func TestHandler_GetForecast_ConfiguredDefaultUnits(t *testing.T) {
	store, err := storage.NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	f := &fakeForecasts{}
	h := NewHandler(f, settings.New(store, units.Metric, nil), "Cairo", nil, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), nil, time.Second)

	do(t, router, http.MethodGet, "/forecast/Cairo", "")
	if f.lastSystem != units.Metric {
		t.Errorf("empty table: system = %q, want the configured metric", f.lastSystem)
	}

	w := do(t, router, http.MethodGet, "/settings/units", "")
	var body unitsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Current != "metric" || body.Toggle != "Celsius ºC" {
		t.Errorf("GET /settings/units = %+v, want metric", body)
	}
}

func TestHandler_GetForecast_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		block    bool
		wantCode int
		wantErr  string
	}{
		{"invalid city chars", "/forecast?city=Cai%3Bro", nil, false, http.StatusBadRequest, "INVALID_CITY"},
		{"city too long", "/forecast/" + strings.Repeat("a", 86), nil, false, http.StatusBadRequest, "INVALID_CITY"},
		{"invalid units", "/forecast/Cairo?units=kelvin", nil, false, http.StatusBadRequest, "INVALID_UNITS"},
		{"city not found", "/forecast/Atlantis", client.ErrCityNotFound, false, http.StatusNotFound, "CITY_NOT_FOUND"},
		{"upstream failure", "/forecast/Cairo", client.ErrUpstreamFailure, false, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"invalid key", "/forecast/Cairo", client.ErrInvalidAPIKey, false, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"timeout", "/forecast/Cairo", nil, true, http.StatusGatewayTimeout, "TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeForecasts{err: tt.err, block: tt.block}
			s := newSettings(t)
			h := NewHandler(f, s, "Cairo", nil, zap.NewNop())
			router := NewRouter(h, zap.NewNop(), nil, 30*time.Millisecond)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Correlation-ID", "corr-1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body.String())
			}
			e := decodeError(t, w)
			if e.Error.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Error.Code, tt.wantErr)
			}
			if e.Error.RequestID != "corr-1" {
				t.Errorf("requestId = %q, want corr-1", e.Error.RequestID)
			}
		})
	}
}

func TestHandler_GetForecast_UpstreamErrorCountsTowardErrorRate(t *testing.T) {
	traffic.Reset()
	router, _ := newTestRouter(t, &fakeForecasts{err: client.ErrUpstreamFailure}, nil, nil)
	do(t, router, http.MethodGet, "/forecast/Cairo", "")

	router2, _ := newTestRouter(t, &fakeForecasts{err: client.ErrCityNotFound}, nil, nil)
	do(t, router2, http.MethodGet, "/forecast/Atlantis", "")

	c := traffic.Window(time.Minute)
	if c.Errors != 1 || c.Successes != 1 {
		t.Errorf("counts = %+v, want 1 error and 1 success", c)
	}
}

func TestHandler_Settings_CRUD(t *testing.T) {
	router, _ := newTestRouter(t, &fakeForecasts{}, nil, nil)

	w := do(t, router, http.MethodGet, "/settings/units", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list unitsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Units) != 0 || list.Current != "imperial" || list.Toggle != units.Imperial.ToggleLabel() {
		t.Errorf("empty list = %+v", list)
	}

	w = do(t, router, http.MethodPost, "/settings/units", `{"unit":"Metric"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("insert status = %d; body %s", w.Code, w.Body.String())
	}
	var created models.UnitPreference
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.Unit != "Metric" {
		t.Errorf("created = %+v", created)
	}

	w = do(t, router, http.MethodPut, "/settings/units/"+itoa(created.ID), `{"unit":"Imperial"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/settings/units", "")
	list = unitsResponse{}
	_ = json.NewDecoder(w.Body).Decode(&list)
	if len(list.Units) != 1 || list.Current != "imperial" || list.Choice != "Imperial" {
		t.Errorf("after update = %+v", list)
	}

	w = do(t, router, http.MethodDelete, "/settings/units/"+itoa(created.ID), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/settings/units/"+itoa(created.ID), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestHandler_SaveUnits_ReplacesTable(t *testing.T) {
	router, s := newTestRouter(t, &fakeForecasts{}, nil, nil)
	ctx := context.Background()
	for _, u := range []string{"Imperial", "Imperial"} {
		if _, err := s.Insert(ctx, models.UnitPreference{Unit: u}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	w := do(t, router, http.MethodPut, "/settings/units", `{"unit":"metric"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d; body %s", w.Code, w.Body.String())
	}
	list, err := s.Units(ctx)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	if len(list) != 1 || list[0].Unit != "Metric" {
		t.Errorf("units = %+v, want single Metric row", list)
	}
	if got := s.Current(ctx); got != units.Metric {
		t.Errorf("Current = %q, want metric", got)
	}

	w = do(t, router, http.MethodDelete, "/settings/units", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete all status = %d", w.Code)
	}
	if got := s.Current(ctx); got != units.Imperial {
		t.Errorf("Current after clear = %q, want imperial", got)
	}
}

func TestHandler_Settings_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"save not json", http.MethodPut, "/settings/units", `metric`, http.StatusBadRequest, "INVALID_BODY"},
		{"save unknown unit", http.MethodPut, "/settings/units", `{"unit":"kelvin"}`, http.StatusBadRequest, "INVALID_UNIT"},
		{"insert empty unit", http.MethodPost, "/settings/units", `{"unit":"  "}`, http.StatusBadRequest, "INVALID_UNIT"},
		{"update missing row", http.MethodPut, "/settings/units/99", `{"unit":"Metric"}`, http.StatusNotFound, "NOT_FOUND"},
		{"update zero id", http.MethodPut, "/settings/units/0", `{"unit":"Metric"}`, http.StatusBadRequest, "INVALID_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &fakeForecasts{}, nil, nil)
			w := do(t, router, tt.method, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body.String())
			}
			if e := decodeError(t, w); e.Error.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestHandler_GetHealth(t *testing.T) {
	traffic.Reset()
	lifecycle.MarkStarted(time.Now().Add(-time.Hour))
	router, _ := newTestRouter(t, &fakeForecasts{}, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
		Checks: map[string]func(context.Context) error{
			"store": func(context.Context) error { return nil },
		},
	}, nil)

	w := do(t, router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
		Uptime string            `json:"uptime"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" || body.Checks["store"] != "healthy" || body.Checks["weatherApi"] != "healthy" {
		t.Errorf("body = %+v", body)
	}
	if body.Uptime == "" || body.Uptime == "0s" {
		t.Errorf("uptime = %q", body.Uptime)
	}
}

func TestHandler_GetHealth_Priority(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	tests := []struct {
		name         string
		shutting     bool
		validateErr  error
		check        func(context.Context) error
		errors       int
		wantStatus   string
		wantCode     int
		wantAPICheck string
	}{
		{"shutting down wins", true, client.ErrInvalidAPIKey, failing, 5, "shutting-down", http.StatusServiceUnavailable, "healthy"},
		{"invalid key", false, client.ErrInvalidAPIKey, failing, 5, "degraded", http.StatusServiceUnavailable, "unhealthy"},
		{"dependency down", false, nil, failing, 0, "degraded", http.StatusServiceUnavailable, "healthy"},
		{"error rate", false, nil, nil, 3, "degraded", http.StatusServiceUnavailable, "unhealthy"},
		{"healthy", false, nil, nil, 0, "healthy", http.StatusOK, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traffic.Reset()
			lifecycle.SetShuttingDown(tt.shutting)
			defer lifecycle.SetShuttingDown(false)

			traffic.RecordSuccess()
			for i := 0; i < tt.errors; i++ {
				traffic.RecordError()
			}
			cfg := &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}
			if tt.check != nil {
				cfg.Checks = map[string]func(context.Context) error{"cache": tt.check}
			}
			router, _ := newTestRouter(t, &fakeForecasts{validateErr: tt.validateErr}, cfg, nil)

			w := do(t, router, http.MethodGet, "/health", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Checks["weatherApi"] != tt.wantAPICheck {
				t.Errorf("weatherApi check = %q, want %q", body.Checks["weatherApi"], tt.wantAPICheck)
			}
		})
	}
}

func TestHandler_GetHealth_CachesAPIKeyCheck(t *testing.T) {
	f := &fakeForecasts{}
	router, _ := newTestRouter(t, f, &HealthConfig{APIKeyCheckInterval: time.Hour}, nil)
	for i := 0; i < 3; i++ {
		do(t, router, http.MethodGet, "/health", "")
	}
	if f.validations != 1 {
		t.Errorf("validations = %d, want 1", f.validations)
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	traffic.Reset()
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	s := newSettings(t)
	h := NewHandler(&fakeForecasts{}, s, "Cairo", &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, logger)

	traffic.RecordSuccess()
	traffic.RecordSuccess()
	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("first call logged %d entries, want 0", logs.Len())
	}

	// 2 of 4 requests failed: 50% meets the threshold.
	traffic.RecordError()
	traffic.RecordError()
	w = httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second status = %d, want 503", w.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "error_rate_breach" {
		t.Errorf("fields = %v", fields)
	}

	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if logs.Len() != 1 {
		t.Errorf("unchanged status logged again; total = %d", logs.Len())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
