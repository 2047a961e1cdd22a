package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of Repo.
type MemoryStore struct {
	mu sync.RWMutex

	subs map[int64]domain.Subscription

	// key: user id, value: retained lookups in insertion order
	history map[int64][]weather.Lookup

	// key: user id, value: favorites in insertion order
	favorites map[int64][]Favorite
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:      make(map[int64]domain.Subscription),
		history:   make(map[int64][]weather.Lookup),
		favorites: make(map[int64][]Favorite),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[userID]
	if !ok {
		return domain.Subscription{}, ErrNotFound
	}
	return clone(sub), nil
}

// Upsert stores sub. LastFiredDate never moves backwards.
func (s *MemoryStore) Upsert(_ context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub = clone(sub)
	if prev, ok := s.subs[sub.UserID]; ok && prev.LastFiredDate != nil {
		if sub.LastFiredDate == nil || sub.LastFiredDate.Before(*prev.LastFiredDate) {
			sub.LastFiredDate = prev.LastFiredDate
		}
	}
	s.subs[sub.UserID] = sub
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[userID]; !ok {
		return ErrNotFound
	}
	delete(s.subs, userID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, clone(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) ListDue(_ context.Context, triggerUTC string, today time.Time) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range s.subs {
		if !sub.Enabled || sub.TriggerUTC != triggerUTC || sub.FiredOn(today) {
			continue
		}
		out = append(out, clone(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) MarkFired(_ context.Context, userID int64, day time.Time, nextTrigger string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[userID]
	if !ok {
		return false, ErrNotFound
	}
	if sub.FiredOn(day) {
		return false, nil
	}
	d := domain.UTCDate(day)
	sub.LastFiredDate = &d
	if nextTrigger != "" {
		sub.TriggerUTC = nextTrigger
	}
	s.subs[userID] = sub
	return true, nil
}

// RecordLookup appends a lookup and enforces retention by count.
func (s *MemoryStore) RecordLookup(_ context.Context, l weather.Lookup, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[l.UserID], l)
	if keep > 0 && len(h) > keep {
		over := len(h) - keep
		h = append([]weather.Lookup(nil), h[over:]...)
	}
	s.history[l.UserID] = h
	return nil
}

// History returns the most recent lookups of a user, newest first.
func (s *MemoryStore) History(_ context.Context, userID int64, limit int) ([]weather.Lookup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[userID]
	out := make([]weather.Lookup, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h[i])
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Subscriptions: len(s.subs)}
	for _, sub := range s.subs {
		if sub.Enabled {
			st.Enabled++
		}
	}
	counts := make(map[string]int)
	for _, h := range s.history {
		st.Lookups += len(h)
		for _, l := range h {
			counts[l.City]++
		}
	}
	for city, n := range counts {
		st.TopCities = append(st.TopCities, CityCount{City: city, Count: n})
	}
	sort.Slice(st.TopCities, func(i, j int) bool {
		if st.TopCities[i].Count != st.TopCities[j].Count {
			return st.TopCities[i].Count > st.TopCities[j].Count
		}
		return st.TopCities[i].City < st.TopCities[j].City
	})
	if len(st.TopCities) > topCitiesLimit {
		st.TopCities = st.TopCities[:topCitiesLimit]
	}
	return st, nil
}

func (s *MemoryStore) AddFavorite(_ context.Context, f Favorite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cur := range s.favorites[f.UserID] {
		if cur.City == f.City {
			return false, nil
		}
	}
	s.favorites[f.UserID] = append(s.favorites[f.UserID], f)
	return true, nil
}

func (s *MemoryStore) RemoveFavorite(_ context.Context, userID int64, city string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	favs := s.favorites[userID]
	for i, cur := range favs {
		if cur.City == city {
			s.favorites[userID] = append(favs[:i:i], favs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Favorites(_ context.Context, userID int64) ([]Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	favs := s.favorites[userID]
	out := make([]Favorite, 0, len(favs))
	for i := len(favs) - 1; i >= 0; i-- {
		out = append(out, favs[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(sub domain.Subscription) domain.Subscription {
	if sub.LastFiredDate != nil {
		d := *sub.LastFiredDate
		sub.LastFiredDate = &d
	}
	return sub
}
