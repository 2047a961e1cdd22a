package weather

import (
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Location is a resolved place: coordinates plus the IANA zone they fall in.
// Key is the normalized city key and the only identity used by caches and stores.
type Location struct {
	Query     string  `json:"query"`
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// DailyForecast is one day of a multi-day forecast.
type DailyForecast struct {
	Date        string    `json:"date"` // YYYY-MM-DD in the location's zone
	TempMinC    float64   `json:"tempMinC"`
	TempMaxC    float64   `json:"tempMaxC"`
	PrecipMM    float64   `json:"precipMm"`
	WindSpeedMS float64   `json:"windSpeedMs"`
	HumidityPct float64   `json:"humidityPercent"`
	WeatherCode int       `json:"weatherCode"`
	Condition   Condition `json:"condition"`
}

// Forecast is the payload cached per location and rendered for users.
// Days are ordered by date ascending; index i is day i.
type Forecast struct {
	Location  Location        `json:"location"`
	Provider  string          `json:"provider"`
	Timezone  string          `json:"timezone"`
	Days      []DailyForecast `json:"days"`
	FetchedAt time.Time       `json:"fetchedAt"` // always UTC
}

// Truncate returns a copy of f holding at most n days.
func (f Forecast) Truncate(n int) Forecast {
	if n <= 0 || n >= len(f.Days) {
		return f
	}
	days := make([]DailyForecast, n)
	copy(days, f.Days[:n])
	f.Days = days
	return f
}

// Lookup is one interactive forecast request made by a user.
type Lookup struct {
	UserID int64     `json:"userId"`
	City   string    `json:"city"`
	At     time.Time `json:"at"`
}
