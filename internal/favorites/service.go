package favorites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// DefaultLimit caps the number of favorites per user.
const DefaultLimit = 10

// ErrLimitReached is returned when a user already has the maximum number of favorites.
var ErrLimitReached = errors.New("favorites limit reached")

// Service manages favorite cities. Cities are resolved before they are
// stored, so a favorite always names a place the geocoders know.
type Service struct {
	repo     store.FavoritesRepo
	resolver weather.Resolver
	limit    int
	log      *zap.Logger
	now      func() time.Time

	// serializes the count check with the insert
	mu sync.Mutex
}

func NewService(repo store.FavoritesRepo, resolver weather.Resolver, limit int, log *zap.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		limit:    limit,
		log:      log.Named("favorites"),
		now:      time.Now,
	}
}

// Add resolves query and stores it as a favorite of userID. The bool is false
// when the city was already a favorite.
func (s *Service) Add(ctx context.Context, userID int64, query string) (store.Favorite, bool, error) {
	loc, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return store.Favorite{}, false, err
	}

	f := store.Favorite{
		UserID:  userID,
		City:    loc.Key,
		Name:    loc.Name,
		AddedAt: s.now().UTC(),
	}
	if f.Name == "" {
		f.Name = loc.Key
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Favorites(ctx, userID)
	if err != nil {
		return store.Favorite{}, false, err
	}
	for _, c := range cur {
		if c.City == f.City {
			return c, false, nil
		}
	}
	if len(cur) >= s.limit {
		return store.Favorite{}, false, fmt.Errorf("%w (%d)", ErrLimitReached, s.limit)
	}

	added, err := s.repo.AddFavorite(ctx, f)
	if err != nil {
		return store.Favorite{}, false, err
	}
	if added {
		s.log.Info("favorite added", zap.Int64("userID", userID), zap.String("city", f.City))
	}
	return f, added, nil
}

// Remove drops a favorite. The query is matched on its normalized key first,
// so removal works without a geocoder; otherwise it is resolved and the
// location key is tried.
func (s *Service) Remove(ctx context.Context, userID int64, query string) (bool, error) {
	key := weather.NormalizeCity(query)
	if key == "" {
		return false, weather.ErrCityNotFound
	}

	removed, err := s.repo.RemoveFavorite(ctx, userID, key)
	if err != nil || removed {
		return removed, err
	}

	loc, err := s.resolver.Resolve(ctx, query)
	if errors.Is(err, weather.ErrCityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if loc.Key == key {
		return false, nil
	}
	return s.repo.RemoveFavorite(ctx, userID, loc.Key)
}

// List returns the favorites of userID, most recently added first.
func (s *Service) List(ctx context.Context, userID int64) ([]store.Favorite, error) {
	return s.repo.Favorites(ctx, userID)
}
