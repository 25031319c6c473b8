// Package units holds the metric/imperial measurement systems: parsing the stored
// preference, display symbols, and conversions between the two.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjstillabower/weather-forecast/internal/models"
)

// System is a measurement system understood by the weather API's units parameter.
type System string

const (
	Metric   System = "metric"
	Imperial System = "imperial"
)

// Default is used when no preference has been saved.
const Default = Imperial

// Labels stored in the preference table by the settings screen.
const (
	ImperialChoice = "Imperial (F)"
	MetricChoice   = "Metric (C)"
)

// ErrUnknownSystem is returned when a string names neither system.
var ErrUnknownSystem = errors.New("unknown unit system")

// ParseChoice reads a stored preference or user input. Only the first word counts, so
// "Imperial (F)", "imperial" and "IMPERIAL" all parse to Imperial.
func ParseChoice(s string) (System, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty", ErrUnknownSystem)
	}
	switch strings.ToLower(fields[0]) {
	case "imperial", "fahrenheit", "f", "°f":
		return Imperial, nil
	case "metric", "celsius", "c", "°c":
		return Metric, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSystem, s)
}

// FromPreferences returns the system of the first stored record, or fallback when the
// table is empty or unreadable. An unknown fallback means Default.
func FromPreferences(prefs []models.UnitPreference, fallback System) System {
	if fallback != Metric && fallback != Imperial {
		fallback = Default
	}
	if len(prefs) == 0 {
		return fallback
	}
	s, err := ParseChoice(prefs[0].Unit)
	if err != nil {
		return fallback
	}
	return s
}

// Choice is the label persisted for s.
func (s System) Choice() string {
	if s == Metric {
		return MetricChoice
	}
	return ImperialChoice
}

// IsImperial reports whether s is Imperial.
func (s System) IsImperial() bool { return s == Imperial }

// Toggle returns the other system.
func (s System) Toggle() System {
	if s == Imperial {
		return Metric
	}
	return Imperial
}

// TemperatureSymbol is the suffix for temperatures in s.
func (s System) TemperatureSymbol() string {
	if s == Imperial {
		return "°F"
	}
	return "°C"
}

// WindSymbol is the suffix for wind speeds in s.
func (s System) WindSymbol() string {
	if s == Imperial {
		return "mph"
	}
	return "km/h"
}

// ToggleLabel is the settings toggle text for s.
func (s System) ToggleLabel() string {
	if s == Imperial {
		return "Fahrenheit ºF"
	}
	return "Celsius ºC"
}

func CelsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

func FahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

func MetersPerSecondToKmh(ms float64) float64 { return ms * 3.6 }

func MphToKmh(mph float64) float64 { return mph * 1.609344 }

func KmhToMph(kmh float64) float64 { return kmh / 1.609344 }

// DisplayWind converts an API wind speed to the unit named by WindSymbol.
// The API reports m/s for metric and mph for imperial.
func DisplayWind(speed float64, s System) float64 {
	if s == Metric {
		return MetersPerSecondToKmh(speed)
	}
	return speed
}

// ConvertForecast returns a copy of f expressed in the target system.
// Forecasts already in the target system, or with an unknown unit, are returned unchanged.
// Values are not rounded; display code rounds.
func ConvertForecast(f models.Forecast, to System) models.Forecast {
	from := System(f.Unit)
	if from == to || (from != Metric && from != Imperial) {
		return f
	}
	temp := FahrenheitToCelsius
	wind := func(mph float64) float64 { return MphToKmh(mph) / 3.6 }
	if to == Imperial {
		temp = CelsiusToFahrenheit
		wind = func(ms float64) float64 { return KmhToMph(MetersPerSecondToKmh(ms)) }
	}

	out := f
	out.Unit = string(to)
	out.Entries = make([]models.ForecastEntry, len(f.Entries))
	for i, e := range f.Entries {
		e.Temp = models.Temperature{
			Day: temp(e.Temp.Day), Min: temp(e.Temp.Min), Max: temp(e.Temp.Max),
			Night: temp(e.Temp.Night), Eve: temp(e.Temp.Eve), Morn: temp(e.Temp.Morn),
		}
		e.FeelsLike = models.FeelsLike{
			Day: temp(e.FeelsLike.Day), Night: temp(e.FeelsLike.Night),
			Eve: temp(e.FeelsLike.Eve), Morn: temp(e.FeelsLike.Morn),
		}
		e.Speed = wind(e.Speed)
		e.Gust = wind(e.Gust)
		out.Entries[i] = e
	}
	return out
}
