package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// OpenWeatherGeocoder implements weather.Geocoder for the OpenWeatherMap
// direct geocoding API. The zone is resolved through a TimezoneLookup.
type OpenWeatherGeocoder struct {
	name     string
	apiKey   string
	baseURL  string
	language string
	zones    weather.TimezoneLookup
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewOpenWeatherGeocoder(client *http.Client, retry RetryConfig, apiKey, language string, zones weather.TimezoneLookup) *OpenWeatherGeocoder {
	return &OpenWeatherGeocoder{
		name:     "openweathermap",
		apiKey:   apiKey,
		baseURL:  "https://api.openweathermap.org/geo/1.0/direct",
		language: language,
		zones:    zones,
		httpCfg:  HTTPClientConfig{Client: client, Retry: retry},
		circuit:  newBreaker("openweather"),
	}
}

func (g *OpenWeatherGeocoder) Name() string {
	return g.name
}

func (g *OpenWeatherGeocoder) Geocode(ctx context.Context, name string) (weather.Location, error) {
	if g.apiKey == "" {
		return weather.Location{}, fmt.Errorf("openweather api key is not configured")
	}
	if name == "" {
		return weather.Location{}, weather.ErrCityNotFound
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", g.apiKey)
		values.Set("q", name)
		values.Set("limit", "1")

		u := fmt.Sprintf("%s?%s", g.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, g.httpCfg, g.circuit, g.name, "geocode", buildRequest)
	if err != nil {
		return weather.Location{}, err
	}
	defer resp.Body.Close()

	var payload []struct {
		Name       string            `json:"name"`
		LocalNames map[string]string `json:"local_names"`
		Lat        float64           `json:"lat"`
		Lon        float64           `json:"lon"`
		Country    string            `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Location{}, fmt.Errorf("%s: decode: %w", g.name, err)
	}
	if len(payload) == 0 {
		return weather.Location{}, weather.ErrCityNotFound
	}

	r := payload[0]
	display := r.Name
	if local, ok := r.LocalNames[g.language]; ok && local != "" {
		display = local
	}

	tz, err := g.zones.LookupTimezone(ctx, r.Lat, r.Lon)
	if err != nil {
		return weather.Location{}, fmt.Errorf("%s: timezone: %w", g.name, err)
	}

	return weather.Location{
		Query:     name,
		Name:      display,
		Country:   r.Country,
		Latitude:  r.Lat,
		Longitude: r.Lon,
		Timezone:  tz,
	}, nil
}
