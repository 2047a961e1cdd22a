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

// OpenMeteoGeocoder implements weather.Geocoder using the Open-Meteo
// geocoding API. Language is an optional hint ("ru", "en"); empty means none.
type OpenMeteoGeocoder struct {
	name     string
	baseURL  string
	language string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewOpenMeteoGeocoder(client *http.Client, retry RetryConfig, language string) *OpenMeteoGeocoder {
	name := "openmeteo-geo"
	if language != "" {
		name += "-" + language
	}
	return &OpenMeteoGeocoder{
		name:     name,
		baseURL:  "https://geocoding-api.open-meteo.com/v1/search",
		language: language,
		httpCfg:  HTTPClientConfig{Client: client, Retry: retry},
		circuit:  newBreaker(name),
	}
}

func (g *OpenMeteoGeocoder) Name() string {
	return g.name
}

func (g *OpenMeteoGeocoder) Geocode(ctx context.Context, name string) (weather.Location, error) {
	if name == "" {
		return weather.Location{}, weather.ErrCityNotFound
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("name", name)
		values.Set("count", "1")
		values.Set("format", "json")
		if g.language != "" {
			values.Set("language", g.language)
		}

		u := fmt.Sprintf("%s?%s", g.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, g.httpCfg, g.circuit, g.name, "geocode", buildRequest)
	if err != nil {
		return weather.Location{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Timezone  string  `json:"timezone"`
			Country   string  `json:"country"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Location{}, fmt.Errorf("%s: decode: %w", g.name, err)
	}

	if len(payload.Results) == 0 {
		return weather.Location{}, weather.ErrCityNotFound
	}

	r := payload.Results[0]
	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return weather.Location{
		Query:     name,
		Name:      r.Name,
		Country:   r.Country,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Timezone:  tz,
	}, nil
}
