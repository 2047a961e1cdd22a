package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// Fallback tries forecast providers in order; the first success wins.
type Fallback struct {
	providers []weather.ForecastProvider
}

func NewFallback(providers ...weather.ForecastProvider) *Fallback {
	return &Fallback{providers: providers}
}

func (f *Fallback) Name() string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ",")
}

func (f *Fallback) FetchForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error) {
	if len(f.providers) == 0 {
		return weather.Forecast{}, weather.ErrNoProviders
	}

	var errs []error
	for _, p := range f.providers {
		fc, err := p.FetchForecast(ctx, loc, days)
		if err == nil {
			return fc, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return weather.Forecast{}, errors.Join(errs...)
}
