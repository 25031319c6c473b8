package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/lifecycle"
)

// inFlight counts requests inside MetricsMiddleware. A forecast handler can outlive its
// connection when the upstream call is detached, so shutdown waits on this as well.
var inFlight atomic.Int64

// InFlightCount returns the number of requests currently being served.
func InFlightCount() int64 {
	return inFlight.Load()
}

// NewServer builds the http.Server for router. The write timeout leaves room for a forecast
// request that runs up to requestTimeout.
func NewServer(addr string, router http.Handler, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
	}
}

// Shutdown drains srv: /health reports shutting-down, the listener closes, then it polls
// every interval until no request is in flight or ctx is done.
func Shutdown(ctx context.Context, srv *http.Server, interval time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	lifecycle.SetShuttingDown(true)

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", InFlightCount()))
	if err := waitForIdle(ctx, interval); err != nil {
		errs = append(errs, fmt.Errorf("%d requests still in flight: %w", InFlightCount(), err))
	}
	return errors.Join(errs...)
}

func waitForIdle(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for InFlightCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
