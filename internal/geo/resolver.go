package geo

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-forecast-bot/internal/metrics"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// maxAttempts is the primary geocoder plus two fallbacks.
const maxAttempts = 3

// Attempt is one step of the resolution chain. RawQuery sends the user's
// input as typed instead of the alias-resolved spelling.
type Attempt struct {
	Geocoder weather.Geocoder
	RawQuery bool
}

// Resolver turns free-text city names into locations. Resolutions are cached
// for the life of the process; Invalidate drops one explicitly.
type Resolver struct {
	chain []Attempt
	log   *zap.Logger

	mu    sync.RWMutex
	cache map[string]weather.Location

	group singleflight.Group
}

// NewResolver builds a resolver over chain. Steps past the third are ignored.
func NewResolver(log *zap.Logger, chain ...Attempt) *Resolver {
	if len(chain) > maxAttempts {
		chain = chain[:maxAttempts]
	}
	return &Resolver{
		chain: chain,
		log:   log.Named("geo"),
		cache: make(map[string]weather.Location),
	}
}

// Resolve returns the location for query, consulting the cache first.
// Concurrent misses for the same key share one upstream resolution.
func (r *Resolver) Resolve(ctx context.Context, query string) (weather.Location, error) {
	key := weather.NormalizeCity(query)
	if key == "" {
		return weather.Location{}, weather.ErrCityNotFound
	}

	if loc, ok := r.cached(key); ok {
		metrics.GeoCacheTotal.WithLabelValues("hit").Inc()
		return loc, nil
	}
	metrics.GeoCacheTotal.WithLabelValues("miss").Inc()

	ch := r.group.DoChan(key, func() (interface{}, error) {
		if loc, ok := r.cached(key); ok {
			return loc, nil
		}
		loc, err := r.lookup(context.WithoutCancel(ctx), query)
		if err != nil {
			return nil, err
		}
		r.store(key, loc)
		return loc, nil
	})

	select {
	case <-ctx.Done():
		return weather.Location{}, &weather.UpstreamError{Provider: "geo", Op: "resolve", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return weather.Location{}, res.Err
		}
		return res.Val.(weather.Location), nil
	}
}

// Invalidate removes the cached resolution for query together with every
// alias that points at the same location. It reports whether anything was removed.
func (r *Resolver) Invalidate(query string) bool {
	key := weather.NormalizeCity(query)

	r.mu.Lock()
	defer r.mu.Unlock()

	loc, ok := r.cache[key]
	if !ok {
		return false
	}
	for k, v := range r.cache {
		if v.Key == loc.Key {
			delete(r.cache, k)
		}
	}
	r.log.Info("resolution invalidated", zap.String("key", key), zap.String("location", loc.Key))
	return true
}

func (r *Resolver) cached(key string) (weather.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.cache[key]
	return loc, ok
}

// store records loc under the query key and under its canonical name key.
func (r *Resolver) store(key string, loc weather.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[key] = loc
	if loc.Key != key {
		r.cache[loc.Key] = loc
	}
}

// lookup walks the chain. A definitive "no match" from any step makes the
// final answer ErrCityNotFound; otherwise the last transport error is returned.
func (r *Resolver) lookup(ctx context.Context, query string) (weather.Location, error) {
	if len(r.chain) == 0 {
		return weather.Location{}, weather.ErrNoProviders
	}

	canonical := weather.CanonicalQuery(query)
	raw := strings.Join(strings.Fields(query), " ")

	var (
		notFound bool
		lastErr  error
	)
	for i, step := range r.chain {
		q := canonical
		if step.RawQuery {
			q = raw
		}

		loc, err := step.Geocoder.Geocode(ctx, q)
		if err == nil {
			loc.Query = query
			loc.Key = weather.NormalizeCity(loc.Name)
			if loc.Key == "" {
				loc.Key = weather.NormalizeCity(canonical)
			}
			r.log.Debug("city resolved",
				zap.String("query", query),
				zap.String("geocoder", step.Geocoder.Name()),
				zap.String("key", loc.Key),
				zap.String("timezone", loc.Timezone),
			)
			return loc, nil
		}

		if errors.Is(err, weather.ErrCityNotFound) {
			notFound = true
		} else {
			lastErr = err
		}
		r.log.Warn("geocoder step failed",
			zap.Int("step", i),
			zap.String("geocoder", step.Geocoder.Name()),
			zap.String("query", q),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	if notFound || lastErr == nil {
		return weather.Location{}, weather.ErrCityNotFound
	}
	var upstream *weather.UpstreamError
	if errors.As(lastErr, &upstream) {
		return weather.Location{}, lastErr
	}
	return weather.Location{}, &weather.UpstreamError{Provider: "geo", Op: "resolve", Err: lastErr}
}
