package models

import (
	"errors"
	"strings"
	"time"
)

// Coord is a city's geographic position.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// City describes the location a forecast was issued for.
type City struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Country    string `json:"country"`
	Population int64  `json:"population,omitempty"`
	Timezone   int    `json:"timezone"` // offset from UTC in seconds
	Coord      Coord  `json:"coord"`
}

// Temperature holds the per-period temperatures of one forecast day.
type Temperature struct {
	Day   float64 `json:"day"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Night float64 `json:"night"`
	Eve   float64 `json:"eve"`
	Morn  float64 `json:"morn"`
}

// FeelsLike holds the apparent temperatures of one forecast day.
type FeelsLike struct {
	Day   float64 `json:"day"`
	Night float64 `json:"night"`
	Eve   float64 `json:"eve"`
	Morn  float64 `json:"morn"`
}

// Condition is one weather condition reported for an entry. ID is the upstream weather code.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// ForecastEntry is one timestamped observation within a forecast.
type ForecastEntry struct {
	Dt        int64       `json:"dt"`
	Sunrise   int64       `json:"sunrise"`
	Sunset    int64       `json:"sunset"`
	Temp      Temperature `json:"temp"`
	FeelsLike FeelsLike   `json:"feelsLike"`
	Pressure  float64     `json:"pressure"`
	Humidity  int         `json:"humidity"`
	Weather   []Condition `json:"weather"`
	Speed     float64     `json:"speed"`
	Deg       int         `json:"deg"`
	Gust      float64     `json:"gust"`
	Clouds    int         `json:"clouds"`
	Pop       float64     `json:"pop"`
}

// ClearSkyCode is used when an entry carries no condition.
const ClearSkyCode = 800

// Code returns the first condition's weather code, or ClearSkyCode when there is none.
func (e ForecastEntry) Code() int {
	if len(e.Weather) == 0 {
		return ClearSkyCode
	}
	return e.Weather[0].ID
}

// Description returns the first condition's description ("" when there is none).
func (e ForecastEntry) Description() string {
	if len(e.Weather) == 0 {
		return ""
	}
	if e.Weather[0].Description != "" {
		return e.Weather[0].Description
	}
	return e.Weather[0].Main
}

// Forecast is a city's forecast in one unit system.
type Forecast struct {
	City      City            `json:"city"`
	Unit      string          `json:"unit"`
	Entries   []ForecastEntry `json:"list"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Stale     bool            `json:"stale,omitempty"`
}

// Current returns the first entry. ok is false for an empty forecast.
func (f Forecast) Current() (ForecastEntry, bool) {
	if len(f.Entries) == 0 {
		return ForecastEntry{}, false
	}
	return f.Entries[0], true
}

// Title is the "City, Country" heading shown above a forecast.
func (f Forecast) Title() string {
	if f.City.Country == "" {
		return f.City.Name
	}
	return f.City.Name + ", " + f.City.Country
}

// ErrEmptyUnit is returned for a preference record without a unit.
var ErrEmptyUnit = errors.New("unit is required")

// UnitPreference is the persisted measurement-unit choice. ID is assigned by the store.
type UnitPreference struct {
	ID   int64  `json:"id"`
	Unit string `json:"unit"`
}

// Validate reports whether the record can be stored.
func (p UnitPreference) Validate() error {
	if strings.TrimSpace(p.Unit) == "" {
		return ErrEmptyUnit
	}
	return nil
}
