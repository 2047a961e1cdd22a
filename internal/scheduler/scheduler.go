package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/metrics"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// Sender delivers rendered text to a user.
type Sender interface {
	Send(ctx context.Context, userID int64, text string) error
}

// Subscriptions is the part of subscription.Service the scheduler drives.
type Subscriptions interface {
	ListDue(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	MarkFired(ctx context.Context, userID int64, firedAt time.Time) (bool, error)
	RefreshTriggers(ctx context.Context, now time.Time) (int, error)
}

// Forecaster returns the forecast for a normalized city key.
type Forecaster interface {
	ForecastForCity(ctx context.Context, city string) (weather.Forecast, error)
}

// Config holds scheduler timings. Zero values pick defaults.
type Config struct {
	WakeInterval   time.Duration
	FireAttempts   int
	FireRetryDelay time.Duration
	FireTimeout    time.Duration // per forecast attempt
	MaxCatchUp     time.Duration // skipped time replayed after a pause
}

func (c Config) withDefaults() Config {
	if c.WakeInterval <= 0 {
		c.WakeInterval = time.Minute
	}
	if c.FireAttempts <= 0 {
		c.FireAttempts = 3
	}
	if c.FireRetryDelay < 0 {
		c.FireRetryDelay = 0
	}
	if c.FireTimeout <= 0 {
		c.FireTimeout = 30 * time.Second
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = 5 * time.Minute
	}
	return c
}

// Scheduler wakes once a minute, finds due subscriptions and delivers their
// forecasts. The underlying gocron scheduler also runs auxiliary jobs.
type Scheduler struct {
	cron      *gocron.Scheduler
	subs      Subscriptions
	forecasts Forecaster
	sender    Sender
	render    func(weather.Forecast) string
	cfg       Config
	log       *zap.Logger
	now       func() time.Time

	// fires run on baseCtx so that Stop can abort them
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	lastMinute time.Time

	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// New creates a new Scheduler.
func New(subs Subscriptions, forecasts Forecaster, sender Sender, render func(weather.Forecast) string, cfg Config, log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		subs:      subs,
		forecasts: forecasts,
		sender:    sender,
		render:    render,
		cfg:       cfg.withDefaults(),
		log:       log.Named("scheduler"),
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
		inflight:  make(map[int64]struct{}),
	}
}

// Start schedules the wake job at the next minute boundary and starts the
// underlying scheduler.
func (s *Scheduler) Start() error {
	first := s.now().UTC().Truncate(time.Minute).Add(time.Minute)

	_, err := s.cron.Every(s.cfg.WakeInterval).
		StartAt(first).
		SingletonMode().
		Tag("wake").
		Do(func() {
			ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.WakeInterval)
			defer cancel()
			s.Wake(ctx)
		})
	if err != nil {
		return fmt.Errorf("schedule wake job: %w", err)
	}

	s.cron.StartAsync()
	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.WakeInterval),
		zap.Time("firstWake", first),
	)
	return nil
}

// Every registers an auxiliary job on the shared scheduler.
func (s *Scheduler) Every(interval time.Duration, tag string, fn func(ctx context.Context)) error {
	_, err := s.cron.Every(interval).SingletonMode().Tag(tag).Do(func() {
		fn(s.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s job: %w", tag, err)
	}
	return nil
}

// Stop stops the scheduler, cancels running deliveries and waits for them.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every dispatched delivery has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Wake runs one scheduling cycle. Deliveries are dispatched asynchronously;
// use Wait to block on them.
func (s *Scheduler) Wake(ctx context.Context) {
	log := s.log.With(zap.String("wake", uuid.NewString()))
	now := s.now().UTC()
	minute := now.Truncate(time.Minute)
	metrics.SchedulerWakes.Inc()

	s.mu.Lock()
	prev := s.lastMinute
	if minute.After(prev) {
		s.lastMinute = minute
	}
	s.mu.Unlock()

	if prev.IsZero() || !domain.UTCDate(minute).Equal(domain.UTCDate(prev)) {
		n, err := s.subs.RefreshTriggers(ctx, now)
		if err != nil {
			log.Error("refresh triggers", zap.Error(err), zap.Int("updated", n))
		} else {
			log.Info("triggers refreshed", zap.Int("updated", n))
		}
	}

	for _, m := range s.minutesToCheck(prev, minute) {
		due, err := s.subs.ListDue(ctx, m)
		if err != nil {
			log.Error("list due", zap.Error(err), zap.Time("minute", m))
			continue
		}
		if len(due) > 0 {
			log.Info("subscriptions due", zap.Time("minute", m), zap.Int("count", len(due)))
		}
		for _, sub := range due {
			s.dispatch(sub, m, log)
		}
	}
}

// minutesToCheck returns the minutes to evaluate at this wake: the current
// one plus any skipped since the previous wake, bounded by MaxCatchUp.
func (s *Scheduler) minutesToCheck(prev, minute time.Time) []time.Time {
	if prev.IsZero() || !minute.After(prev) {
		return []time.Time{minute}
	}
	start := prev.Add(time.Minute)
	if earliest := minute.Add(-s.cfg.MaxCatchUp); start.Before(earliest) {
		start = earliest
	}
	var out []time.Time
	for m := start; !m.After(minute); m = m.Add(time.Minute) {
		out = append(out, m)
	}
	return out
}

func (s *Scheduler) dispatch(sub domain.Subscription, due time.Time, log *zap.Logger) {
	s.inflightMu.Lock()
	if _, busy := s.inflight[sub.UserID]; busy {
		s.inflightMu.Unlock()
		log.Debug("delivery already in flight", zap.Int64("userID", sub.UserID))
		return
	}
	s.inflight[sub.UserID] = struct{}{}
	s.inflightMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, sub.UserID)
			s.inflightMu.Unlock()
		}()
		s.fire(s.baseCtx, sub, due, log.With(zap.Int64("userID", sub.UserID), zap.String("city", sub.City)))
	}()
}

// fire fetches, renders and delivers one forecast, then records the day.
func (s *Scheduler) fire(ctx context.Context, sub domain.Subscription, due time.Time, log *zap.Logger) {
	f, err := s.fetch(ctx, sub.City, log)
	if err != nil {
		metrics.Deliveries.WithLabelValues("skipped").Inc()
		log.Error("delivery skipped", zap.Error(fmt.Errorf("%w: %w", weather.ErrFetchFailed, err)))
		return
	}

	if err := s.sender.Send(ctx, sub.UserID, s.render(f)); err != nil {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		log.Error("send failed", zap.Error(err))
		return
	}
	metrics.Deliveries.WithLabelValues("sent").Inc()

	ok, err := s.subs.MarkFired(ctx, sub.UserID, due)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info("subscription removed during delivery")
	case err != nil:
		log.Error("mark fired", zap.Error(err))
	case !ok:
		log.Warn("already marked fired today")
	default:
		log.Info("forecast delivered")
	}
}

func (s *Scheduler) fetch(ctx context.Context, city string, log *zap.Logger) (weather.Forecast, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.FireAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.cfg.FireTimeout)
		f, err := s.forecasts.ForecastForCity(actx, city)
		cancel()
		if err == nil {
			return f, nil
		}
		lastErr = err
		log.Warn("forecast attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == s.cfg.FireAttempts {
			break
		}
		timer := time.NewTimer(s.cfg.FireRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return weather.Forecast{}, ctx.Err()
		case <-timer.C:
		}
	}
	return weather.Forecast{}, lastErr
}

// LogSender is the Sender used when no bot token is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("delivery")}
}

func (l *LogSender) Send(_ context.Context, userID int64, text string) error {
	l.log.Info("forecast", zap.Int64("userID", userID), zap.String("text", text))
	return nil
}
