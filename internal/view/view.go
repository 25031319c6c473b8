// Package view turns a forecast into display-ready values shared by the HTTP and
// terminal surfaces: formatted dates, categories, rounded readings and unit labels.
package view

import (
	"time"

	"github.com/kjstillabower/weather-forecast/internal/conditions"
	"github.com/kjstillabower/weather-forecast/internal/format"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// Day is one forecast entry ready for display.
type Day struct {
	Date        string `json:"date"`
	Code        int    `json:"weatherCode"`
	Category    string `json:"category"`
	Icon        string `json:"icon"`
	Glyph       string `json:"-"`
	Description string `json:"description"`
	Temp        string `json:"temp"`
	TempMin     string `json:"tempMin"`
	TempMax     string `json:"tempMax"`
	FeelsLike   string `json:"feelsLike"`
	Pressure    string `json:"pressure"`
	Humidity    string `json:"humidity"`
	Wind        string `json:"wind"`
}

// Forecast is a whole forecast ready for display. Today is nil for an empty forecast.
type Forecast struct {
	Title      string    `json:"title"`
	City       string    `json:"city"`
	Country    string    `json:"country"`
	Units      string    `json:"units"`
	TempSymbol string    `json:"temperatureUnit"`
	WindSymbol string    `json:"windUnit"`
	Stale      bool      `json:"stale"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Today      *Day      `json:"today"`
	Days       []Day     `json:"days"`
}

// Build renders f. Dates use the city's own UTC offset.
func Build(f models.Forecast) Forecast {
	system := units.System(f.Unit)
	if system != units.Metric && system != units.Imperial {
		system = units.Default
	}
	loc := format.CityLocation(f.City.Timezone)

	out := Forecast{
		Title:      f.Title(),
		City:       f.City.Name,
		Country:    f.City.Country,
		Units:      string(system),
		TempSymbol: system.TemperatureSymbol(),
		WindSymbol: system.WindSymbol(),
		Stale:      f.Stale,
		FetchedAt:  f.FetchedAt,
		Days:       make([]Day, 0, len(f.Entries)),
	}
	for _, e := range f.Entries {
		out.Days = append(out.Days, BuildDay(e, system, loc))
	}
	if len(out.Days) > 0 {
		today := out.Days[0]
		out.Today = &today
	}
	return out
}

// BuildDay renders a single entry.
func BuildDay(e models.ForecastEntry, system units.System, loc *time.Location) Day {
	cat := conditions.FromEntry(e)
	return Day{
		Date:        format.Date(e.Dt, loc),
		Code:        e.Code(),
		Category:    cat.Name,
		Icon:        cat.Icon,
		Glyph:       cat.Glyph(),
		Description: e.Description(),
		Temp:        format.Decimals(e.Temp.Day) + system.TemperatureSymbol(),
		TempMin:     format.Decimals(e.Temp.Min) + system.TemperatureSymbol(),
		TempMax:     format.Decimals(e.Temp.Max) + system.TemperatureSymbol(),
		FeelsLike:   format.Decimals(e.FeelsLike.Day) + system.TemperatureSymbol(),
		Pressure:    format.Decimals(e.Pressure) + " hPa",
		Humidity:    format.Decimals(float64(e.Humidity)) + "%",
		Wind:        format.Decimals(units.DisplayWind(e.Speed, system)) + " " + system.WindSymbol(),
	}
}
