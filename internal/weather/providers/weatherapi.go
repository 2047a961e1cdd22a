package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-forecast-bot/internal/common"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// WeatherAPIProvider implements weather.ForecastProvider for WeatherAPI.com.
// It serves as the fallback when Open-Meteo is unavailable.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, retry RetryConfig, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/forecast.json",
		httpCfg: HTTPClientConfig{Client: client, Retry: retry},
		circuit: newBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error) {
	if p.apiKey == "" {
		return weather.Forecast{}, fmt.Errorf("weatherapi api key is not configured")
	}
	if days <= 0 {
		return weather.Forecast{}, fmt.Errorf("days must be greater than zero")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "lat,lon".
		values.Set("q", fmt.Sprintf("%s,%s", formatCoord(loc.Latitude), formatCoord(loc.Longitude)))
		values.Set("days", strconv.Itoa(days))
		values.Set("aqi", "no")
		values.Set("alerts", "no")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.name, "forecast", buildRequest)
	if err != nil {
		return weather.Forecast{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Location struct {
			TzID string `json:"tz_id"`
		} `json:"location"`
		Forecast struct {
			ForecastDay []struct {
				Date string `json:"date"`
				Day  struct {
					MaxTempC    float64 `json:"maxtemp_c"`
					MinTempC    float64 `json:"mintemp_c"`
					TotalPrecip float64 `json:"totalprecip_mm"`
					MaxWindKph  float64 `json:"maxwind_kph"`
					AvgHumidity float64 `json:"avghumidity"`
					Condition   struct {
						Text string `json:"text"`
						Code int    `json:"code"`
					} `json:"condition"`
				} `json:"day"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Forecast{}, fmt.Errorf("weatherapi: decode: %w", err)
	}
	if len(payload.Forecast.ForecastDay) == 0 {
		return weather.Forecast{}, fmt.Errorf("weatherapi: empty forecast for %s", loc.Key)
	}

	out := weather.Forecast{
		Location: loc,
		Provider: p.name,
		Timezone: payload.Location.TzID,
	}
	for i, fd := range payload.Forecast.ForecastDay {
		if i >= days {
			break
		}
		out.Days = append(out.Days, weather.DailyForecast{
			Date:     fd.Date,
			TempMinC: fd.Day.MinTempC,
			TempMaxC: fd.Day.MaxTempC,
			PrecipMM: fd.Day.TotalPrecip,
			// Convert wind from kph to m/s (approx).
			WindSpeedMS: fd.Day.MaxWindKph / 3.6,
			HumidityPct: fd.Day.AvgHumidity,
			WeatherCode: fd.Day.Condition.Code,
			Condition:   mapWeatherAPICondition(fd.Day.Condition.Text),
		})
	}
	return out, nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	text = strings.ToLower(text)
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
