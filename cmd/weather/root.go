package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/app"
	"github.com/kjstillabower/weather-forecast/internal/config"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/tui"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "weather [city]",
	Short: "Weather forecast in your terminal",
	Long: `weather shows the daily forecast for a city using OpenWeatherMap.

Without a subcommand it opens the interactive screens: a forecast view with
today's conditions and the coming days, a settings screen for the measurement
unit, and a city search. The unit choice is stored in a local database and
shared with the HTTP service when both point at the same store.

Relative database, cache and log paths resolve under the user config
directory (~/.config/weather-forecast on Linux).`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App, cfg *config.Config, logger *zap.Logger) error {
			city := cfg.DefaultCity
			if len(args) == 1 {
				city = args[0]
			}
			return tui.Run(ctx, a.Forecasts, a.Settings, city, logger)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "config", "directory holding {ENV_NAME}.yaml and secrets.yaml")
}

// withApp loads configuration, opens the file logger and dependencies, runs fn and
// closes everything afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App, cfg *config.Config, logger *zap.Logger) error) error {
	cfg, err := config.LoadDir(configDir, true)
	if err != nil {
		return err
	}
	if err := resolvePaths(cfg); err != nil {
		return err
	}

	logger, err := observability.NewFileLogger(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = observability.FlushTelemetry(context.Background(), logger) }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close dependencies", zap.Error(err))
		}
	}()
	return fn(ctx, a, cfg, logger)
}

// resolvePaths anchors relative sqlite, bolt and log paths in the per-user data directory.
func resolvePaths(cfg *config.Config) error {
	dir, err := app.DataDir()
	if err != nil {
		return err
	}
	anchor := func(p *string, def string) {
		if *p == "" {
			*p = def
		}
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	if cfg.StoreDriver == "sqlite" && cfg.StoreDSN != ":memory:" {
		anchor(&cfg.StoreDSN, "weather.db")
	}
	anchor(&cfg.BoltPath, "forecast-cache.bolt")
	anchor(&cfg.LogFile, "weather.log")
	return nil
}
