package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

var (
	// ErrNotFound is returned when no subscription exists for a user.
	ErrNotFound = errors.New("subscription not found")
	// ErrPersistence wraps every storage read/write failure.
	ErrPersistence = errors.New("persistence failure")
)

// SubscriptionRepo stores one subscription per user.
type SubscriptionRepo interface {
	Get(ctx context.Context, userID int64) (domain.Subscription, error)
	Upsert(ctx context.Context, s domain.Subscription) error
	Delete(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]domain.Subscription, error)
	// ListDue returns enabled subscriptions whose trigger equals triggerUTC
	// and which have not fired on the UTC date of today.
	ListDue(ctx context.Context, triggerUTC string, today time.Time) ([]domain.Subscription, error)
	// MarkFired advances LastFiredDate to day and stores nextTrigger. It is a
	// no-op returning false when LastFiredDate is already day or later.
	MarkFired(ctx context.Context, userID int64, day time.Time, nextTrigger string) (bool, error)
}

// HistoryRepo stores interactive lookups.
type HistoryRepo interface {
	RecordLookup(ctx context.Context, l weather.Lookup, keep int) error
	History(ctx context.Context, userID int64, limit int) ([]weather.Lookup, error)
	Stats(ctx context.Context) (Stats, error)
}

// Favorite is a city a user keeps for quick lookups. City is the normalized
// key and identifies the favorite; Name is the display spelling.
type Favorite struct {
	UserID  int64     `json:"userId"`
	City    string    `json:"city"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"addedAt"`
}

// FavoritesRepo stores favorite cities per user.
type FavoritesRepo interface {
	// AddFavorite stores f and reports false when the city is already present.
	AddFavorite(ctx context.Context, f Favorite) (bool, error)
	// RemoveFavorite reports whether a favorite with that key existed.
	RemoveFavorite(ctx context.Context, userID int64, city string) (bool, error)
	// Favorites lists a user's favorites, most recently added first.
	Favorites(ctx context.Context, userID int64) ([]Favorite, error)
}

// Repo is the full storage surface used by the application.
type Repo interface {
	SubscriptionRepo
	HistoryRepo
	FavoritesRepo
	Close() error
}

// CityCount is a city with its number of lookups.
type CityCount struct {
	City  string `json:"city"`
	Count int    `json:"count"`
}

// Stats summarizes stored data.
type Stats struct {
	Subscriptions int         `json:"subscriptions"`
	Enabled       int         `json:"enabled"`
	Lookups       int         `json:"lookups"`
	TopCities     []CityCount `json:"topCities"`
}

const topCitiesLimit = 10

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
