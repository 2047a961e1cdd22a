package weather

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service answers forecast requests by resolving the city and reading
// through the forecast cache. It is shared by the chat handlers, the HTTP
// API and the notification scheduler.
type Service struct {
	resolver     Resolver
	forecasts    ForecastSource
	recorder     LookupRecorder
	historyLimit int
	log          *zap.Logger
	now          func() time.Time
}

// NewService creates a new Service. recorder may be nil to disable history.
func NewService(resolver Resolver, forecasts ForecastSource, recorder LookupRecorder, historyLimit int, log *zap.Logger) *Service {
	return &Service{
		resolver:     resolver,
		forecasts:    forecasts,
		recorder:     recorder,
		historyLimit: historyLimit,
		log:          log,
		now:          time.Now,
	}
}

// ForecastForCity resolves query and returns its (possibly cached) forecast.
func (s *Service) ForecastForCity(ctx context.Context, query string) (Forecast, error) {
	if s.resolver == nil || s.forecasts == nil {
		return Forecast{}, ErrNoProviders
	}

	loc, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return Forecast{}, fmt.Errorf("resolve %q: %w", query, err)
	}

	f, err := s.forecasts.Get(ctx, loc)
	if err != nil {
		return Forecast{}, fmt.Errorf("forecast for %s: %w", loc.Key, err)
	}
	return f, nil
}

// Lookup serves an interactive request from userID and records it in the
// user's history. History failures are logged and never fail the lookup.
func (s *Service) Lookup(ctx context.Context, userID int64, query string) (Forecast, error) {
	f, err := s.ForecastForCity(ctx, query)
	if err != nil {
		return Forecast{}, err
	}

	if s.recorder != nil {
		city := f.Location.Name
		if city == "" {
			city = f.Location.Key
		}
		l := Lookup{UserID: userID, City: city, At: s.now().UTC()}
		if err := s.recorder.RecordLookup(ctx, l, s.historyLimit); err != nil {
			s.log.Warn("record lookup failed", zap.Error(err), zap.Int64("userID", userID))
		}
	}
	return f, nil
}
