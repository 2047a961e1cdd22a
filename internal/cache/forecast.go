package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-forecast-bot/internal/metrics"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// DefaultTTL is how long a fetched forecast stays valid.
const DefaultTTL = 30 * time.Minute

// Entry is one cached forecast. It is valid while now-FetchedAt < TTL.
type Entry struct {
	Key       string           `json:"key"`
	Forecast  weather.Forecast `json:"forecast"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// EntryStore holds cache entries. Implementations must be safe for concurrent use.
type EntryStore interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Save(ctx context.Context, e Entry, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// ForecastCache is a read-through, time-boxed forecast cache keyed by the
// normalized location key. At most one upstream fetch runs per key.
type ForecastCache struct {
	provider     weather.ForecastProvider
	entries      EntryStore
	ttl          time.Duration
	days         int
	fetchTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time

	group singleflight.Group
}

// Options configures a ForecastCache. Zero values pick defaults.
type Options struct {
	TTL          time.Duration
	Days         int
	FetchTimeout time.Duration
}

func NewForecastCache(provider weather.ForecastProvider, entries EntryStore, opts Options, log *zap.Logger) *ForecastCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if entries == nil {
		entries = NewMemoryEntries()
	}
	return &ForecastCache{
		provider:     provider,
		entries:      entries,
		ttl:          opts.TTL,
		days:         opts.Days,
		fetchTimeout: opts.FetchTimeout,
		log:          log.Named("forecast-cache"),
		now:          time.Now,
	}
}

// Get returns the forecast for loc, fetching it when no valid entry exists.
// A failed fetch leaves any previous entry in place and returns the error;
// expired entries are never served.
func (c *ForecastCache) Get(ctx context.Context, loc weather.Location) (weather.Forecast, error) {
	key := loc.Key
	if key == "" {
		key = weather.NormalizeCity(loc.Name)
	}

	if e, ok := c.valid(ctx, key); ok {
		metrics.ForecastCacheTotal.WithLabelValues("hit").Inc()
		return e.Forecast, nil
	}
	metrics.ForecastCacheTotal.WithLabelValues("miss").Inc()

	// The fetch outlives a cancelled caller so that other waiters still get it.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if e, ok := c.valid(ctx, key); ok {
			return e.Forecast, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		f, err := c.provider.FetchForecast(fctx, loc, c.days)
		if err != nil {
			return nil, err
		}
		f.FetchedAt = c.now().UTC()
		f.Location = loc
		f.Location.Key = key

		e := Entry{Key: key, Forecast: f, FetchedAt: f.FetchedAt}
		if err := c.entries.Save(fctx, e, c.ttl); err != nil {
			c.log.Warn("save entry failed", zap.String("key", key), zap.Error(err))
		}
		c.log.Debug("forecast fetched",
			zap.String("key", key),
			zap.String("provider", f.Provider),
			zap.Int("days", len(f.Days)),
		)
		return f, nil
	})

	select {
	case <-ctx.Done():
		return weather.Forecast{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.ForecastCacheTotal.WithLabelValues("shared").Inc()
		}
		if res.Err != nil {
			return weather.Forecast{}, fmt.Errorf("fetch forecast %s: %w", key, res.Err)
		}
		return res.Val.(weather.Forecast), nil
	}
}

// Clear drops every entry.
func (c *ForecastCache) Clear(ctx context.Context) error {
	return c.entries.Clear(ctx)
}

func (c *ForecastCache) valid(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := c.entries.Load(ctx, key)
	if err != nil {
		c.log.Warn("load entry failed", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	return e, c.now().Sub(e.FetchedAt) < c.ttl
}

// MemoryEntries is the in-process EntryStore.
type MemoryEntries struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryEntries() *MemoryEntries {
	return &MemoryEntries{entries: make(map[string]Entry)}
}

func (m *MemoryEntries) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryEntries) Save(_ context.Context, e Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *MemoryEntries) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}
