package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

const openMeteoDaily = "temperature_2m_max,temperature_2m_min,precipitation_sum,wind_speed_10m_max,relative_humidity_2m_max,weather_code"

// OpenMeteoProvider implements weather.ForecastProvider and
// weather.TimezoneLookup for Open-Meteo. No API key is required.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, retry RetryConfig) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: HTTPClientConfig{Client: client, Retry: retry},
		circuit: newBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type openMeteoResponse struct {
	Timezone string `json:"timezone"`
	Daily    struct {
		Time        []string  `json:"time"`
		TempMax     []float64 `json:"temperature_2m_max"`
		TempMin     []float64 `json:"temperature_2m_min"`
		Precip      []float64 `json:"precipitation_sum"`
		WindMax     []float64 `json:"wind_speed_10m_max"`
		HumidityMax []float64 `json:"relative_humidity_2m_max"`
		WeatherCode []int     `json:"weather_code"`
	} `json:"daily"`
}

func (p *OpenMeteoProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error) {
	if days <= 0 {
		return weather.Forecast{}, fmt.Errorf("days must be greater than zero")
	}

	tz := loc.Timezone
	if tz == "" {
		tz = "auto"
	}

	values := url.Values{}
	values.Set("latitude", formatCoord(loc.Latitude))
	values.Set("longitude", formatCoord(loc.Longitude))
	values.Set("daily", openMeteoDaily)
	values.Set("timezone", tz)
	values.Set("forecast_days", strconv.Itoa(days))
	values.Set("wind_speed_unit", "ms")

	var payload openMeteoResponse
	if err := p.get(ctx, "forecast", values, &payload); err != nil {
		return weather.Forecast{}, err
	}

	d := payload.Daily
	n := minLen(len(d.Time), len(d.TempMax), len(d.TempMin), len(d.Precip), len(d.WindMax), len(d.HumidityMax), len(d.WeatherCode))
	if n == 0 {
		return weather.Forecast{}, fmt.Errorf("openmeteo: empty daily forecast for %s", loc.Key)
	}
	if n > days {
		n = days
	}

	out := weather.Forecast{
		Location: loc,
		Provider: p.name,
		Timezone: payload.Timezone,
		Days:     make([]weather.DailyForecast, 0, n),
	}
	for i := 0; i < n; i++ {
		out.Days = append(out.Days, weather.DailyForecast{
			Date:        d.Time[i],
			TempMinC:    d.TempMin[i],
			TempMaxC:    d.TempMax[i],
			PrecipMM:    d.Precip[i],
			WindSpeedMS: d.WindMax[i],
			HumidityPct: d.HumidityMax[i],
			WeatherCode: d.WeatherCode[i],
			Condition:   weather.ConditionFromWMO(d.WeatherCode[i]),
		})
	}
	return out, nil
}

// LookupTimezone asks Open-Meteo to auto-detect the zone of a coordinate pair.
func (p *OpenMeteoProvider) LookupTimezone(ctx context.Context, lat, lon float64) (string, error) {
	values := url.Values{}
	values.Set("latitude", formatCoord(lat))
	values.Set("longitude", formatCoord(lon))
	values.Set("timezone", "auto")
	values.Set("forecast_days", "1")

	var payload struct {
		Timezone string `json:"timezone"`
	}
	if err := p.get(ctx, "timezone", values, &payload); err != nil {
		return "", err
	}
	if payload.Timezone == "" || strings.EqualFold(payload.Timezone, "GMT") {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(payload.Timezone); err != nil {
		return "", fmt.Errorf("openmeteo returned unknown zone %q: %w", payload.Timezone, err)
	}
	return payload.Timezone, nil
}

func (p *OpenMeteoProvider) get(ctx context.Context, op string, values url.Values, dst any) error {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.name, op, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("openmeteo %s: decode: %w", op, err)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func minLen(lens ...int) int {
	if len(lens) == 0 {
		return 0
	}
	m := lens[0]
	for _, l := range lens[1:] {
		if l < m {
			m = l
		}
	}
	return m
}
