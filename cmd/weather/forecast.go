package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/app"
	"github.com/kjstillabower/weather-forecast/internal/config"
	"github.com/kjstillabower/weather-forecast/internal/units"
	"github.com/kjstillabower/weather-forecast/internal/validation"
	"github.com/kjstillabower/weather-forecast/internal/view"
)

var (
	forecastUnits string
	forecastJSON  bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast [city]",
	Short: "Print the forecast for a city and exit",
	Long: `Print the daily forecast for a city. The stored unit preference is used
unless --units is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App, cfg *config.Config, logger *zap.Logger) error {
			raw := cfg.DefaultCity
			if len(args) == 1 {
				raw = args[0]
			}
			city, err := validation.ValidateCity(raw)
			if err != nil {
				return err
			}

			system := a.Settings.Current(ctx)
			if forecastUnits != "" {
				if system, err = units.ParseChoice(forecastUnits); err != nil {
					return fmt.Errorf("--units must be metric or imperial")
				}
			}

			f, err := a.Forecasts.GetForecast(ctx, city, system)
			if err != nil {
				return err
			}
			v := view.Build(f)
			if forecastJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			printForecast(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(forecastCmd)
	forecastCmd.Flags().StringVar(&forecastUnits, "units", "", "metric or imperial (default: stored preference)")
	forecastCmd.Flags().BoolVar(&forecastJSON, "json", false, "print the forecast as JSON")
}

func printForecast(w io.Writer, v view.Forecast) {
	fmt.Fprintln(w, v.Title)
	if v.Stale {
		fmt.Fprintln(w, "(last saved forecast; the weather service is unavailable)")
	}
	if v.Today != nil {
		d := v.Today
		fmt.Fprintf(w, "\nToday, %s  %s %s  %s  %s\n", d.Date, d.Glyph, d.Category, d.Temp, d.Description)
		fmt.Fprintf(w, "Pressure %s  Humidity %s  Wind %s\n\n", d.Pressure, d.Humidity, d.Wind)
	}
	for i, d := range v.Days {
		if i == 0 {
			continue
		}
		fmt.Fprintf(w, "%-12s %s %-14s %6s  %s / %s\n", d.Date, d.Glyph, d.Category, d.Temp, d.TempMin, d.TempMax)
	}
}
