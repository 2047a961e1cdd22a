package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

type countingProvider struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error) {
	n := p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return weather.Forecast{}, ctx.Err()
		}
	}
	if p.fail.Load() {
		return weather.Forecast{}, &weather.UpstreamError{Provider: "counting", Op: "forecast", Err: errors.New("502")}
	}
	f := weather.Forecast{Location: loc, Provider: "counting"}
	for i := 0; i < days; i++ {
		f.Days = append(f.Days, weather.DailyForecast{TempMaxC: float64(n)})
	}
	return f, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var paris = weather.Location{Key: "париж", Name: "Париж", Timezone: "Europe/Paris"}

func newTestCache(p weather.ForecastProvider, ttl time.Duration) (*ForecastCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 5, 5, 6, 0, 0, 0, time.UTC)}
	c := NewForecastCache(p, NewMemoryEntries(), Options{TTL: ttl, Days: 3}, zap.NewNop())
	c.now = clock.Now
	return c, clock
}

func TestGetServesFromCacheWithinTTL(t *testing.T) {
	p := &countingProvider{}
	c, clock := newTestCache(p, 30*time.Minute)

	first, err := c.Get(context.Background(), paris)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	clock.Advance(29 * time.Minute)
	second, err := c.Get(context.Background(), paris)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if p.calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", p.calls.Load())
	}
	if len(first.Days) != 3 || !second.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("unexpected cached forecast %+v", second)
	}
	if first.FetchedAt.Location() != time.UTC {
		t.Fatal("FetchedAt must be UTC")
	}
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	p := &countingProvider{}
	c, clock := newTestCache(p, 30*time.Minute)

	if _, err := c.Get(context.Background(), paris); err != nil {
		t.Fatalf("get: %v", err)
	}
	// Exactly TTL old is already stale.
	clock.Advance(30 * time.Minute)
	f, err := c.Get(context.Background(), paris)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.calls.Load() != 2 || f.Days[0].TempMaxC != 2 {
		t.Fatalf("expected a fresh fetch, calls=%d", p.calls.Load())
	}
}

func TestGetFailureKeepsPreviousEntry(t *testing.T) {
	p := &countingProvider{}
	entries := NewMemoryEntries()
	c := NewForecastCache(p, entries, Options{TTL: time.Minute, Days: 1}, zap.NewNop())
	clock := &fakeClock{now: time.Date(2025, 5, 5, 6, 0, 0, 0, time.UTC)}
	c.now = clock.Now

	if _, err := c.Get(context.Background(), paris); err != nil {
		t.Fatalf("get: %v", err)
	}
	clock.Advance(2 * time.Minute)
	p.fail.Store(true)

	_, err := c.Get(context.Background(), paris)
	if !errors.Is(err, weather.ErrUpstreamTransport) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	e, ok, _ := entries.Load(context.Background(), paris.Key)
	if !ok || e.Forecast.Days[0].TempMaxC != 1 {
		t.Fatalf("previous entry must stay in place, got %+v ok=%v", e, ok)
	}
}

func TestConcurrentGetsShareOneFetch(t *testing.T) {
	p := &countingProvider{delay: 50 * time.Millisecond}
	c, _ := newTestCache(p, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), paris); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
}

func TestCancelledCallerDoesNotAbortFetch(t *testing.T) {
	p := &countingProvider{delay: 50 * time.Millisecond}
	c, _ := newTestCache(p, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := c.Get(ctx, paris); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The shared fetch completes and fills the cache.
	time.Sleep(100 * time.Millisecond)
	if _, err := c.Get(context.Background(), paris); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
}

func TestClear(t *testing.T) {
	p := &countingProvider{}
	c, _ := newTestCache(p, time.Hour)

	_, _ = c.Get(context.Background(), paris)
	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	_, _ = c.Get(context.Background(), paris)
	if p.calls.Load() != 2 {
		t.Fatalf("expected refetch after clear, got %d calls", p.calls.Load())
	}
}
