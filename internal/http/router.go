package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-forecast/internal/observability"
)

// NewRouter mounts the forecast, settings, health and metrics routes. Rate limiting and
// the request timeout apply to the forecast routes only.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	forecast := router.PathPrefix("/forecast").Subrouter()
	forecast.Use(RateLimitMiddleware(limiter))
	forecast.Use(TimeoutMiddleware(requestTimeout))
	forecast.HandleFunc("", h.GetForecast).Methods(http.MethodGet)
	forecast.HandleFunc("/{city}", h.GetForecast).Methods(http.MethodGet)

	settings := router.PathPrefix("/settings/units").Subrouter()
	settings.HandleFunc("", h.ListUnits).Methods(http.MethodGet)
	settings.HandleFunc("", h.SaveUnits).Methods(http.MethodPut)
	settings.HandleFunc("", h.InsertUnit).Methods(http.MethodPost)
	settings.HandleFunc("", h.DeleteAllUnits).Methods(http.MethodDelete)
	settings.HandleFunc("/{id:[0-9]+}", h.UpdateUnit).Methods(http.MethodPut)
	settings.HandleFunc("/{id:[0-9]+}", h.DeleteUnit).Methods(http.MethodDelete)

	return router
}
