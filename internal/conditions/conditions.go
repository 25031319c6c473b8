// Package conditions classifies OpenWeatherMap condition codes into the display
// categories used by the forecast screens.
package conditions

import "github.com/kjstillabower/weather-forecast/internal/models"

// Category is a display bucket for a weather code. Icon names a glyph set entry.
type Category struct {
	Name string
	Icon string
}

var (
	ClearSky     = Category{"Clear Sky", "sunny"}
	MainlyClear  = Category{"Mainly Clear", "cloudy"}
	PartlyCloudy = Category{"Partly Cloudy", "cloudy"}
	Overcast     = Category{"Overcast", "cloudy"}
	Drizzle      = Category{"Drizzle", "rainshower"}
	Rain         = Category{"Rain", "rainy"}
	RainShowers  = Category{"Rain Showers", "rainshower"}
	Thunderstorm = Category{"Thunderstorm", "thunder"}
	Snow         = Category{"Snow", "snowy"}
	HeavySnow    = Category{"Heavy Snow", "heavysnow"}
	Fog          = Category{"Fog", "very_cloudy"}
)

// FromCode maps a weather code to its category. Unknown codes are ClearSky.
func FromCode(code int) Category {
	switch {
	case code >= 200 && code <= 232:
		return Thunderstorm
	case code >= 300 && code <= 321:
		return Drizzle
	case code >= 500 && code <= 504:
		return Rain
	case code == 511:
		return Snow
	case code >= 520 && code <= 531:
		return RainShowers
	case code >= 600 && code <= 601:
		return Snow
	case code == 602:
		return HeavySnow
	case code >= 611 && code <= 622:
		return Snow
	case code >= 701 && code <= 781:
		return Fog
	case code == 800:
		return ClearSky
	case code == 801:
		return MainlyClear
	case code == 802:
		return PartlyCloudy
	case code == 803, code == 804:
		return Overcast
	}
	return ClearSky
}

// FromEntry classifies an entry by its first condition.
func FromEntry(e models.ForecastEntry) Category {
	return FromCode(e.Code())
}

// Glyph returns a one-cell terminal symbol for the category's icon.
func (c Category) Glyph() string {
	switch c.Icon {
	case "sunny":
		return "☀"
	case "cloudy", "very_cloudy":
		return "☁"
	case "rainshower", "rainy":
		return "☂"
	case "thunder":
		return "⚡"
	case "snowy", "heavysnow":
		return "❄"
	}
	return "?"
}
