package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-forecast/internal/circuitbreaker"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// ForecastClient fetches forecasts from the upstream weather API.
type ForecastClient interface {
	GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// Options tunes an OpenWeatherClient. Zero values take the defaults from NewOpenWeatherClient.
type Options struct {
	Timeout        time.Duration
	Days           int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// OpenWeatherClient calls the OpenWeatherMap daily forecast endpoint.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	opts    Options
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient returns a client with 7 days, 3 attempts, 100ms..2s backoff.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithOptions(apiKey, apiURL, Options{Timeout: timeout})
}

func NewOpenWeatherClientWithOptions(apiKey, apiURL string, opts Options) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", apiURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}

	return &OpenWeatherClient{
		apiKey: apiKey,
		apiURL: apiURL,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// SetCircuitBreaker routes every upstream attempt through cb.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type forecastResponse struct {
	City struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Coord struct {
			Lon float64 `json:"lon"`
			Lat float64 `json:"lat"`
		} `json:"coord"`
		Country    string `json:"country"`
		Population int64  `json:"population"`
		Timezone   int    `json:"timezone"`
	} `json:"city"`
	List []struct {
		Dt      int64 `json:"dt"`
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
		Temp    struct {
			Day   float64 `json:"day"`
			Min   float64 `json:"min"`
			Max   float64 `json:"max"`
			Night float64 `json:"night"`
			Eve   float64 `json:"eve"`
			Morn  float64 `json:"morn"`
		} `json:"temp"`
		FeelsLike struct {
			Day   float64 `json:"day"`
			Night float64 `json:"night"`
			Eve   float64 `json:"eve"`
			Morn  float64 `json:"morn"`
		} `json:"feels_like"`
		Pressure float64 `json:"pressure"`
		Humidity int     `json:"humidity"`
		Weather  []struct {
			ID          int    `json:"id"`
			Main        string `json:"main"`
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
		Speed  float64 `json:"speed"`
		Deg    int     `json:"deg"`
		Gust   float64 `json:"gust"`
		Clouds int     `json:"clouds"`
		Pop    float64 `json:"pop"`
	} `json:"list"`
}

// GetForecast fetches the daily forecast for city in the given unit system,
// retrying rate-limit, 5xx and timeout failures with jittered exponential backoff.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	var lastErr error

	for attempt := 0; attempt < c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return models.Forecast{}, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		var result models.Forecast
		call := func() error {
			var err error
			result, err = c.callAPI(ctx, city, system)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return models.Forecast{}, err
		}
	}

	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return models.Forecast{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, city string, system units.System) (models.Forecast, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city, system, c.opts.Days)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Forecast{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Forecast{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Forecast{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := errorForStatus(resp.StatusCode); err != nil {
		return models.Forecast{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Forecast{}, fmt.Errorf("parse response: %w", err)
	}

	return mapResponse(apiResp, city, system), nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	switch CategorizeError(err) {
	case ErrorCategoryTimeout, ErrorCategoryNetwork:
		return true
	}
	return false
}

func (c *OpenWeatherClient) backoff(attempt int) time.Duration {
	delay := float64(c.opts.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.opts.RetryMaxDelay) {
		delay = float64(c.opts.RetryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string, system units.System, days int) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("q", city)
	params.Set("units", string(system))
	params.Set("cnt", strconv.Itoa(days))
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func errorForStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return ErrCityNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
	return nil
}

func mapResponse(r forecastResponse, city string, system units.System) models.Forecast {
	name := r.City.Name
	if name == "" {
		name = city
	}
	f := models.Forecast{
		City: models.City{
			ID:         r.City.ID,
			Name:       name,
			Country:    r.City.Country,
			Population: r.City.Population,
			Timezone:   r.City.Timezone,
			Coord:      models.Coord{Lat: r.City.Coord.Lat, Lon: r.City.Coord.Lon},
		},
		Unit:      string(system),
		Entries:   make([]models.ForecastEntry, 0, len(r.List)),
		FetchedAt: time.Now(),
	}
	for _, item := range r.List {
		e := models.ForecastEntry{
			Dt:        item.Dt,
			Sunrise:   item.Sunrise,
			Sunset:    item.Sunset,
			Temp:      models.Temperature(item.Temp),
			FeelsLike: models.FeelsLike(item.FeelsLike),
			Pressure:  item.Pressure,
			Humidity:  item.Humidity,
			Speed:     item.Speed,
			Deg:       item.Deg,
			Gust:      item.Gust,
			Clouds:    item.Clouds,
			Pop:       item.Pop,
		}
		for _, w := range item.Weather {
			e.Weather = append(e.Weather, models.Condition(w))
		}
		f.Entries = append(f.Entries, e)
	}
	return f
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes a one-day request for a well-known city and reports a rejected key.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London", units.Metric, 1)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
