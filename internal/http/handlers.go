package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/client"
	"github.com/kjstillabower/weather-forecast/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/service"
	"github.com/kjstillabower/weather-forecast/internal/storage"
	"github.com/kjstillabower/weather-forecast/internal/traffic"
	"github.com/kjstillabower/weather-forecast/internal/units"
	"github.com/kjstillabower/weather-forecast/internal/validation"
	"github.com/kjstillabower/weather-forecast/internal/view"
)

// ForecastService is the forecast lookup the handlers depend on.
type ForecastService interface {
	GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error)
	ValidateAPIKey(ctx context.Context) error
}

// SettingsService is the unit preference surface the handlers depend on.
type SettingsService interface {
	Units(ctx context.Context) ([]models.UnitPreference, error)
	Current(ctx context.Context) units.System
	Default() units.System
	Insert(ctx context.Context, p models.UnitPreference) (models.UnitPreference, error)
	Update(ctx context.Context, p models.UnitPreference) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	Save(ctx context.Context, system units.System) (models.UnitPreference, error)
}

// HealthConfig holds thresholds and dependency probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// APIKeyCheckInterval caches the upstream key check; zero checks on every call.
	APIKeyCheckInterval time.Duration
	// Checks are reported by name (e.g. "store", "cache"); a failing check marks the service degraded.
	Checks map[string]func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts   ForecastService
	settings    SettingsService
	defaultCity string
	health      *HealthConfig
	logger      *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string

	keyMu      sync.Mutex
	keyChecked time.Time
	keyErr     error
}

// NewHandler returns a new Handler. defaultCity serves GET /forecast without a city.
func NewHandler(forecasts ForecastService, settings SettingsService, defaultCity string, health *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if health == nil {
		health = &HealthConfig{}
	}
	return &Handler{
		forecasts:   forecasts,
		settings:    settings,
		defaultCity: defaultCity,
		health:      health,
		logger:      logger,
	}
}

// GetForecast handles GET /forecast/{city} and GET /forecast?city=. The units query
// parameter is optional; the stored preference applies when it is absent.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	raw, ok := mux.Vars(r)["city"]
	if !ok {
		raw = r.URL.Query().Get("city")
		if raw == "" {
			raw = h.defaultCity
		}
	}
	city, err := validation.ValidateCity(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	var system units.System
	if q := r.URL.Query().Get("units"); q != "" {
		if system, err = units.ParseChoice(q); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
			return
		}
	} else {
		system = h.settings.Current(r.Context())
	}

	f, err := h.forecasts.GetForecast(r.Context(), city, system)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyCity):
			writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
			return
		case errors.Is(err, client.ErrCityNotFound):
			traffic.RecordSuccess()
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "city not found: "+city)
			return
		}
		traffic.RecordError()
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, view.Build(f))
}

type unitsResponse struct {
	Units   []models.UnitPreference `json:"units"`
	Current string                  `json:"current"`
	Choice  string                  `json:"choice"`
	Toggle  string                  `json:"toggleLabel"`
}

// ListUnits handles GET /settings/units.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	list, err := h.settings.Units(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	current := units.FromPreferences(list, h.settings.Default())
	writeJSON(w, http.StatusOK, unitsResponse{
		Units:   list,
		Current: string(current),
		Choice:  current.Choice(),
		Toggle:  current.ToggleLabel(),
	})
}

type unitRequest struct {
	ID   int64  `json:"id"`
	Unit string `json:"unit"`
}

func decodeUnit(w http.ResponseWriter, r *http.Request) (unitRequest, bool) {
	var body unitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON {\"unit\": \"...\"}")
		return unitRequest{}, false
	}
	return body, true
}

// SaveUnits handles PUT /settings/units: the body's unit becomes the only stored preference.
func (h *Handler) SaveUnits(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeUnit(w, r)
	if !ok {
		return
	}
	system, err := units.ParseChoice(body.Unit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNIT", "unit must be metric or imperial")
		return
	}
	p, err := h.settings.Save(r.Context(), system)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// InsertUnit handles POST /settings/units. An id in the body replaces that row.
func (h *Handler) InsertUnit(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeUnit(w, r)
	if !ok {
		return
	}
	p, err := h.settings.Insert(r.Context(), models.UnitPreference{ID: body.ID, Unit: body.Unit})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateUnit handles PUT /settings/units/{id}.
func (h *Handler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := decodeUnit(w, r)
	if !ok {
		return
	}
	p := models.UnitPreference{ID: id, Unit: body.Unit}
	if err := h.settings.Update(r.Context(), p); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteUnit handles DELETE /settings/units/{id}.
func (h *Handler) DeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.settings.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllUnits handles DELETE /settings/units.
func (h *Handler) DeleteAllUnits(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.DeleteAll(r.Context()); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	failed := false
	for name, check := range h.health.Checks {
		if err := check(r.Context()); err != nil {
			checks[name] = "unhealthy"
			failed = true
			h.logger.Debug("health check failed", zap.String("check", name), zap.Error(err))
		} else {
			checks[name] = "healthy"
		}
	}

	result := h.computeHealthStatus(r.Context(), failed)
	if result.reason == "api_key_invalid" || result.reason == "error_rate_breach" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-forecast",
		"version":   "dev",
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > API key invalid >
// dependency check failed > error rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context, checkFailed bool) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.validateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if checkFailed {
		return healthResult{"degraded", http.StatusServiceUnavailable, "dependency_unhealthy"}
	}
	if h.health.DegradedWindow > 0 && h.health.DegradedErrorPct > 0 {
		c := traffic.Window(h.health.DegradedWindow)
		if c.Successes+c.Errors > 0 && c.ErrorPct() >= float64(h.health.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) validateAPIKey(ctx context.Context) error {
	h.keyMu.Lock()
	defer h.keyMu.Unlock()
	if h.health.APIKeyCheckInterval > 0 && !h.keyChecked.IsZero() && time.Since(h.keyChecked) < h.health.APIKeyCheckInterval {
		return h.keyErr
	}
	h.keyErr = h.forecasts.ValidateAPIKey(ctx)
	h.keyChecked = time.Now()
	return h.keyErr
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps forecast failures: timeouts to 504, everything else to 503.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if logger := observability.LoggerFrom(r.Context()); logger != nil {
		logger.Debug("upstream error", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Timed out fetching forecast")
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast")
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyUnit):
		writeError(w, r, http.StatusBadRequest, "INVALID_UNIT", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		if logger := observability.LoggerFrom(r.Context()); logger != nil {
			logger.Error("unit store failure", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Unable to access unit preferences")
	}
}
