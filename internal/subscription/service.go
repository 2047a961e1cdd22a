package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// DefaultLocalTime is used when a user picks a city before a time.
const DefaultLocalTime = "08:00"

// ErrNoCity is returned when a time is set before any city.
var ErrNoCity = errors.New("city is not set")

// Service owns subscription mutations. Every mutation re-derives the UTC
// trigger from the zone's current rules before it is persisted.
type Service struct {
	repo         store.SubscriptionRepo
	resolver     weather.Resolver
	defaultLocal string
	log          *zap.Logger
	now          func() time.Time

	// serializes read-modify-write cycles; never held across geocoding
	mu sync.Mutex
}

// NewService stores defaultLocal in HH:MM form; an empty or invalid value
// falls back to DefaultLocalTime.
func NewService(repo store.SubscriptionRepo, resolver weather.Resolver, defaultLocal string, log *zap.Logger) *Service {
	log = log.Named("subscriptions")
	clock := DefaultLocalTime
	if defaultLocal != "" {
		if c, err := domain.NormalizeClock(defaultLocal); err == nil {
			clock = c
		} else {
			log.Warn("invalid default local time, using "+DefaultLocalTime, zap.String("value", defaultLocal))
		}
	}
	return &Service{
		repo:         repo,
		resolver:     resolver,
		defaultLocal: clock,
		log:          log,
		now:          time.Now,
	}
}

// Get returns the subscription of userID or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, userID int64) (domain.Subscription, error) {
	return s.repo.Get(ctx, userID)
}

// List returns every subscription.
func (s *Service) List(ctx context.Context) ([]domain.Subscription, error) {
	return s.repo.List(ctx)
}

// SetCity resolves query and stores it as the user's city, creating an
// enabled subscription at the default local time if none exists.
func (s *Service) SetCity(ctx context.Context, userID int64, query string) (domain.Subscription, weather.Location, error) {
	loc, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return domain.Subscription{}, weather.Location{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.repo.Get(ctx, userID)
	created := errors.Is(err, store.ErrNotFound)
	switch {
	case created:
		sub = domain.Subscription{
			UserID:    userID,
			LocalTime: s.defaultLocal,
			Enabled:   true,
		}
	case err != nil:
		return domain.Subscription{}, weather.Location{}, err
	}

	trigger, err := domain.ComputeTrigger(s.now(), loc.Timezone, sub.LocalTime)
	if err != nil {
		return domain.Subscription{}, weather.Location{}, err
	}
	sub.City = loc.Key
	sub.TriggerUTC = trigger.UTC
	if created {
		sub.TimezoneOffsetMinutesAtCreation = trigger.Offset
	}

	if err := s.repo.Upsert(ctx, sub); err != nil {
		return domain.Subscription{}, weather.Location{}, err
	}
	s.log.Info("city set",
		zap.Int64("userID", userID),
		zap.String("city", sub.City),
		zap.String("timezone", loc.Timezone),
		zap.String("triggerUTC", sub.TriggerUTC),
		zap.Time("next", trigger.At),
	)
	return sub, loc, nil
}

// SetLocalTime stores a new HH:MM notification time for an existing subscription.
func (s *Service) SetLocalTime(ctx context.Context, userID int64, localTime string) (domain.Subscription, error) {
	clock, err := domain.NormalizeClock(localTime)
	if err != nil {
		return domain.Subscription{}, err
	}

	return s.update(ctx, userID, func(sub *domain.Subscription, loc weather.Location) error {
		trigger, err := domain.ComputeTrigger(s.now(), loc.Timezone, clock)
		if err != nil {
			return err
		}
		sub.LocalTime = clock
		sub.TriggerUTC = trigger.UTC
		return nil
	})
}

// SetEnabled switches daily delivery on or off. Enabling re-derives the
// trigger; disabling never needs the city's zone.
func (s *Service) SetEnabled(ctx context.Context, userID int64, enabled bool) (domain.Subscription, error) {
	if !enabled {
		return s.disable(ctx, userID)
	}
	return s.update(ctx, userID, func(sub *domain.Subscription, loc weather.Location) error {
		trigger, err := domain.ComputeTrigger(s.now(), loc.Timezone, sub.LocalTime)
		if err != nil {
			return err
		}
		sub.Enabled = true
		sub.TriggerUTC = trigger.UTC
		return nil
	})
}

func (s *Service) disable(ctx context.Context, userID int64) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.repo.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Subscription{}, ErrNoCity
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	if !sub.Enabled {
		return sub, nil
	}

	sub.Enabled = false
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return domain.Subscription{}, err
	}
	s.log.Info("subscription disabled", zap.Int64("userID", userID))
	return sub, nil
}

// Delete removes the subscription of userID.
func (s *Service) Delete(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(ctx, userID)
}

// ListDue returns subscriptions due at the minute containing now.
func (s *Service) ListDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	now = now.UTC()
	return s.repo.ListDue(ctx, domain.FormatClock(domain.MinuteOfDay(now)), now)
}

// MarkFired records a delivery for the UTC date of firedAt and moves the
// trigger to the next local occurrence. It returns false when the date was
// already recorded.
func (s *Service) MarkFired(ctx context.Context, userID int64, firedAt time.Time) (bool, error) {
	sub, err := s.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}

	next := ""
	if loc, err := s.resolver.Resolve(ctx, sub.City); err == nil {
		// One minute past the due instant so that today's occurrence is skipped.
		if trigger, err := domain.ComputeTrigger(firedAt.Add(time.Minute), loc.Timezone, sub.LocalTime); err == nil {
			next = trigger.UTC
		}
	} else {
		s.log.Warn("keeping trigger, city not resolved", zap.Int64("userID", userID), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if cur.City != sub.City || cur.LocalTime != sub.LocalTime {
		// Changed while resolving; the mutation already derived a fresh trigger.
		next = ""
	}
	return s.repo.MarkFired(ctx, userID, firedAt, next)
}

// RefreshTriggers recomputes every subscription's trigger from its zone's
// current rules. Failures are logged per subscription and counted.
func (s *Service) RefreshTriggers(ctx context.Context, now time.Time) (updated int, err error) {
	subs, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	var failed int
	for _, snapshot := range subs {
		loc, err := s.resolver.Resolve(ctx, snapshot.City)
		if err != nil {
			failed++
			s.log.Warn("refresh: resolve failed", zap.Int64("userID", snapshot.UserID), zap.String("city", snapshot.City), zap.Error(err))
			continue
		}

		changed, err := s.refreshOne(ctx, snapshot.UserID, snapshot.City, loc, now)
		if err != nil {
			failed++
			s.log.Warn("refresh failed", zap.Int64("userID", snapshot.UserID), zap.Error(err))
			continue
		}
		if changed {
			updated++
		}
	}
	if failed > 0 {
		return updated, fmt.Errorf("refresh triggers: %d of %d failed", failed, len(subs))
	}
	return updated, nil
}

func (s *Service) refreshOne(ctx context.Context, userID int64, city string, loc weather.Location, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if sub.City != city {
		// City changed since the snapshot; SetCity already derived the trigger.
		return false, nil
	}

	// Before today's occurrence has fired it is still the next one; afterwards
	// the next one is tomorrow's.
	from := now
	if sub.FiredOn(now) {
		from = domain.UTCDate(now).AddDate(0, 0, 1)
	}
	trigger, err := domain.ComputeTrigger(from, loc.Timezone, sub.LocalTime)
	if err != nil {
		return false, err
	}
	if trigger.UTC == sub.TriggerUTC {
		return false, nil
	}
	sub.TriggerUTC = trigger.UTC
	return true, s.repo.Upsert(ctx, sub)
}

// update applies fn to the stored subscription. The city is resolved outside
// the lock; if the city changes meanwhile the cycle is retried.
func (s *Service) update(ctx context.Context, userID int64, fn func(sub *domain.Subscription, loc weather.Location) error) (domain.Subscription, error) {
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		sub, err := s.repo.Get(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Subscription{}, ErrNoCity
		}
		if err != nil {
			return domain.Subscription{}, err
		}

		loc, err := s.resolver.Resolve(ctx, sub.City)
		if err != nil {
			return domain.Subscription{}, err
		}

		done, res, err := s.apply(ctx, userID, sub.City, loc, fn)
		if err != nil || done {
			return res, err
		}
	}
	return domain.Subscription{}, fmt.Errorf("subscription %d changed concurrently", userID)
}

func (s *Service) apply(ctx context.Context, userID int64, city string, loc weather.Location, fn func(sub *domain.Subscription, loc weather.Location) error) (bool, domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.repo.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return true, domain.Subscription{}, ErrNoCity
	}
	if err != nil {
		return true, domain.Subscription{}, err
	}
	if sub.City != city {
		return false, domain.Subscription{}, nil
	}

	if err := fn(&sub, loc); err != nil {
		return true, domain.Subscription{}, err
	}
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return true, domain.Subscription{}, err
	}
	s.log.Info("subscription updated",
		zap.Int64("userID", userID),
		zap.String("localTime", sub.LocalTime),
		zap.String("triggerUTC", sub.TriggerUTC),
		zap.Bool("enabled", sub.Enabled),
	)
	return true, sub, nil
}
