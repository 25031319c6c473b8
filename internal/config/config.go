package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned when neither WEATHER_API_KEY nor secrets.yaml supplies a key.
var ErrMissingAPIKey = errors.New("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")

// Config holds configuration loaded from YAML, then overridden by environment variables.
// Only variables that are set override the file; env tags carry no defaults.
type Config struct {
	ServerPort string `env:"SERVER_PORT"`

	WeatherAPIKey     string        `env:"WEATHER_API_KEY"`
	WeatherAPIURL     string        `env:"WEATHER_API_URL"`
	WeatherAPITimeout time.Duration `env:"WEATHER_API_TIMEOUT"`
	ForecastDays      int           `env:"FORECAST_DAYS"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	CacheBackend    string        `env:"CACHE_BACKEND"` // in_memory, memcached, redis, bolt
	CacheTTL        time.Duration `env:"CACHE_TTL"`
	CacheServeStale bool          `env:"CACHE_SERVE_STALE"`
	CacheStaleFor   time.Duration `env:"CACHE_STALE_FOR"`

	MemcachedAddrs        string        `env:"MEMCACHED_ADDRS"`
	MemcachedTimeout      time.Duration `env:"MEMCACHED_TIMEOUT"`
	MemcachedMaxIdleConns int           `env:"MEMCACHED_MAX_IDLE_CONNS"`
	RedisURL              string        `env:"REDIS_URL"`
	BoltPath              string        `env:"BOLT_PATH"`

	StoreDriver string `env:"STORE_DRIVER"` // sqlite, postgres
	StoreDSN    string `env:"STORE_DSN"`

	RetryAttempts           int           `env:"RETRY_ATTEMPTS"`
	RetryBaseDelay          time.Duration `env:"RETRY_BASE_DELAY"`
	RetryMaxDelay           time.Duration `env:"RETRY_MAX_DELAY"`
	RateLimitRPS            int           `env:"RATE_LIMIT_RPS"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST"`
	CircuitBreakerFailures  int           `env:"CIRCUIT_BREAKER_FAILURES"`
	CircuitBreakerSuccesses int           `env:"CIRCUIT_BREAKER_SUCCESSES"`
	CircuitBreakerTimeout   time.Duration `env:"CIRCUIT_BREAKER_TIMEOUT"`

	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT"`
	DegradedWindow   time.Duration `env:"DEGRADED_WINDOW"`
	DegradedErrorPct int           `env:"DEGRADED_ERROR_PCT"`

	DefaultCity   string        `env:"DEFAULT_CITY"`
	DefaultUnits  string        `env:"DEFAULT_UNITS"`
	TrackedCities []string      `env:"TRACKED_CITIES" envSeparator:","`
	WarmInterval  time.Duration `env:"WARM_INTERVAL"`
	LogFile       string        `env:"LOG_FILE"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		Days    int    `yaml:"days"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend    string `yaml:"backend"`
		TTL        string `yaml:"ttl"`
		ServeStale *bool  `yaml:"serve_stale"`
		StaleFor   string `yaml:"stale_for"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
		Bolt struct {
			Path string `yaml:"path"`
		} `yaml:"bolt"`
	} `yaml:"cache"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		CircuitBreakerFailures  int    `yaml:"circuit_breaker_failures"`
		CircuitBreakerSuccesses int    `yaml:"circuit_breaker_successes"`
		CircuitBreakerTimeout   string `yaml:"circuit_breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Forecast struct {
		DefaultCity   string   `yaml:"default_city"`
		DefaultUnits  string   `yaml:"default_units"`
		TrackedCities []string `yaml:"tracked_cities"`
		WarmInterval  string   `yaml:"warm_interval"`
	} `yaml:"forecast"`

	Log struct {
		File string `yaml:"file"`
	} `yaml:"log"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml relative to
// the working directory, then applies environment overrides. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(filepath.Join(cwd, "config"), false)
}

// LoadDir loads from dir. With optional set, a missing {ENV_NAME}.yaml yields defaults
// instead of an error; the CLI uses this so it runs outside the project tree.
func LoadDir(dir string, optional bool) (*Config, error) {
	envName := os.Getenv("ENV_NAME")
	if envName == "" {
		envName = "dev"
	}

	var fc fileConfig
	configPath := filepath.Join(dir, envName+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err) && optional:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)

	secretsData, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else {
		var sec secretsFile
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
		cfg.WeatherAPIKey = sec.WeatherAPIKey
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	normalize(cfg)

	if cfg.WeatherAPIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{
		ServerPort:        fc.Server.Port,
		WeatherAPIURL:     fc.WeatherAPI.URL,
		WeatherAPITimeout: parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second),
		ForecastDays:      fc.WeatherAPI.Days,

		RequestTimeout: parseDuration(fc.Request.Timeout, 5*time.Second),

		CacheBackend:  fc.Cache.Backend,
		CacheTTL:      parseDuration(fc.Cache.TTL, 10*time.Minute),
		CacheStaleFor: parseDuration(fc.Cache.StaleFor, 24*time.Hour),

		MemcachedAddrs:        fc.Cache.Memcached.Addrs,
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: fc.Cache.Memcached.MaxIdleConns,
		RedisURL:              fc.Cache.Redis.URL,
		BoltPath:              fc.Cache.Bolt.Path,

		StoreDriver: fc.Store.Driver,
		StoreDSN:    fc.Store.DSN,

		RetryAttempts:           fc.Reliability.RetryMaxAttempts,
		RetryBaseDelay:          parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond),
		RetryMaxDelay:           parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second),
		RateLimitRPS:            fc.Reliability.RateLimitRPS,
		RateLimitBurst:          fc.Reliability.RateLimitBurst,
		CircuitBreakerFailures:  fc.Reliability.CircuitBreakerFailures,
		CircuitBreakerSuccesses: fc.Reliability.CircuitBreakerSuccesses,
		CircuitBreakerTimeout:   parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second),

		ShutdownTimeout:  parseDuration(fc.Shutdown.Timeout, 30*time.Second),
		DegradedWindow:   parseDuration(fc.Health.DegradedWindow, 60*time.Second),
		DegradedErrorPct: fc.Health.DegradedErrorPct,

		DefaultCity:   fc.Forecast.DefaultCity,
		DefaultUnits:  fc.Forecast.DefaultUnits,
		TrackedCities: fc.Forecast.TrackedCities,
		WarmInterval:  parseDuration(fc.Forecast.WarmInterval, 8*time.Minute),
		LogFile:       fc.Log.File,
	}
	cfg.CacheServeStale = true
	if fc.Cache.ServeStale != nil {
		cfg.CacheServeStale = *fc.Cache.ServeStale
	}
	return cfg
}

// normalize fills defaults for values left empty by both the file and the environment.
func normalize(cfg *Config) {
	setDefault := func(s *string, def string) {
		*s = strings.TrimSpace(*s)
		if *s == "" {
			*s = def
		}
	}
	setDefaultInt := func(n *int, def int) {
		if *n <= 0 {
			*n = def
		}
	}

	setDefault(&cfg.ServerPort, "8080")
	setDefault(&cfg.WeatherAPIURL, "https://api.openweathermap.org/data/2.5/forecast/daily")
	setDefaultInt(&cfg.ForecastDays, 7)
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	setDefault(&cfg.CacheBackend, "in_memory")
	setDefault(&cfg.MemcachedAddrs, "localhost:11211")
	setDefaultInt(&cfg.MemcachedMaxIdleConns, 2)
	setDefault(&cfg.RedisURL, "redis://localhost:6379/0")
	setDefault(&cfg.BoltPath, "forecast-cache.bolt")
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	setDefault(&cfg.StoreDriver, "sqlite")
	setDefault(&cfg.StoreDSN, "weather.db")
	setDefaultInt(&cfg.RetryAttempts, 3)
	setDefaultInt(&cfg.RateLimitRPS, 100)
	setDefaultInt(&cfg.RateLimitBurst, 250)
	setDefaultInt(&cfg.CircuitBreakerFailures, 5)
	setDefaultInt(&cfg.CircuitBreakerSuccesses, 2)
	setDefaultInt(&cfg.DegradedErrorPct, 5)
	setDefault(&cfg.DefaultCity, "Cairo")
	cfg.DefaultUnits = strings.ToLower(cfg.DefaultUnits)
	setDefault(&cfg.DefaultUnits, "imperial")
}

// parseDuration parses s, returning defaultVal when s is empty, invalid or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero returns defaultVal on empty or invalid input; non-positive values pass through.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints. RequestTimeout is raised above WeatherAPITimeout if needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis", "bolt":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached, redis or bolt, got %q", cfg.CacheBackend)
	}
	switch cfg.StoreDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", cfg.StoreDriver)
	}
	switch cfg.DefaultUnits {
	case "metric", "imperial":
	default:
		return fmt.Errorf("forecast.default_units must be metric or imperial, got %q", cfg.DefaultUnits)
	}
	if cfg.ForecastDays > 16 {
		return fmt.Errorf("weather_api.days must be at most 16, got %d", cfg.ForecastDays)
	}
	return nil
}
