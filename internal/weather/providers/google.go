package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-forecast-bot/internal/metrics"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// GoogleGeocoder implements weather.Geocoder on top of the Google Geocoding
// API. Google returns coordinates only, so the zone is resolved separately.
type GoogleGeocoder struct {
	name    string
	zones   weather.TimezoneLookup
	geocode func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogleGeocoder configures the geocoder package with apiKey.
func NewGoogleGeocoder(apiKey string, zones weather.TimezoneLookup) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{
		name:    "google",
		zones:   zones,
		geocode: geocoder.Geocoding,
	}
}

func (g *GoogleGeocoder) Name() string {
	return g.name
}

// googleNoResults is the error text the geocoder package uses for a
// ZERO_RESULTS status; every other error is a failed request.
const googleNoResults = "No results found."

type googleResult struct {
	loc geocoder.Location
	err error
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, name string) (weather.Location, error) {
	if name == "" {
		return weather.Location{}, weather.ErrCityNotFound
	}

	// The geocoder package has no context support; bound it from outside.
	done := make(chan googleResult, 1)
	start := time.Now()
	go func() {
		defer func() {
			// The package indexes an empty result list on unknown statuses.
			if p := recover(); p != nil {
				done <- googleResult{err: fmt.Errorf("geocoder panic: %v", p)}
			}
		}()
		loc, err := g.geocode(geocoder.Address{City: name})
		done <- googleResult{loc: loc, err: err}
	}()

	var res googleResult
	select {
	case <-ctx.Done():
		metrics.ObserveUpstream(g.name, "geocode", start, ctx.Err())
		return weather.Location{}, &weather.UpstreamError{Provider: g.name, Op: "geocode", Err: ctx.Err()}
	case res = <-done:
	}
	metrics.ObserveUpstream(g.name, "geocode", start, res.err)

	if res.err != nil {
		if res.err.Error() == googleNoResults {
			return weather.Location{}, fmt.Errorf("%s: %w", g.name, weather.ErrCityNotFound)
		}
		return weather.Location{}, &weather.UpstreamError{Provider: g.name, Op: "geocode", Err: res.err}
	}
	if res.loc.Latitude == 0 && res.loc.Longitude == 0 {
		return weather.Location{}, weather.ErrCityNotFound
	}

	tz, err := g.zones.LookupTimezone(ctx, res.loc.Latitude, res.loc.Longitude)
	if err != nil {
		return weather.Location{}, fmt.Errorf("%s: timezone: %w", g.name, err)
	}

	return weather.Location{
		Query:     name,
		Name:      name,
		Latitude:  res.loc.Latitude,
		Longitude: res.loc.Longitude,
		Timezone:  tz,
	}, nil
}
