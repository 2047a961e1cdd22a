package weather

import "context"

// Geocoder resolves a city name to a Location.
// Implementations return ErrCityNotFound for a definitive empty answer and an
// *UpstreamError when the provider could not be reached.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, name string) (Location, error)
}

// ForecastProvider fetches a multi-day daily forecast for resolved coordinates.
type ForecastProvider interface {
	Name() string
	FetchForecast(ctx context.Context, loc Location, days int) (Forecast, error)
}

// Resolver turns free text into a Location (implemented by geo.Resolver).
type Resolver interface {
	Resolve(ctx context.Context, query string) (Location, error)
}

// ForecastSource returns forecasts for resolved locations (implemented by cache.ForecastCache).
type ForecastSource interface {
	Get(ctx context.Context, loc Location) (Forecast, error)
}

// LookupRecorder persists interactive lookups for the per-user history.
type LookupRecorder interface {
	RecordLookup(ctx context.Context, l Lookup, keep int) error
}

// TimezoneLookup resolves the IANA zone for a coordinate pair.
type TimezoneLookup interface {
	LookupTimezone(ctx context.Context, lat, lon float64) (string, error)
}
