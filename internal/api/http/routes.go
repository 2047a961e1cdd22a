package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/favorites"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/subscription"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

var validate = validator.New()

// ForecastService answers forecast requests.
type ForecastService interface {
	ForecastForCity(ctx context.Context, query string) (weather.Forecast, error)
}

// SubscriptionService manages subscriptions.
type SubscriptionService interface {
	Get(ctx context.Context, userID int64) (domain.Subscription, error)
	SetCity(ctx context.Context, userID int64, query string) (domain.Subscription, weather.Location, error)
	SetLocalTime(ctx context.Context, userID int64, localTime string) (domain.Subscription, error)
	SetEnabled(ctx context.Context, userID int64, enabled bool) (domain.Subscription, error)
	Delete(ctx context.Context, userID int64) error
}

// FavoritesService manages favorite cities.
type FavoritesService interface {
	Add(ctx context.Context, userID int64, query string) (store.Favorite, bool, error)
	Remove(ctx context.Context, userID int64, query string) (bool, error)
	List(ctx context.Context, userID int64) ([]store.Favorite, error)
}

// CacheAdmin clears the forecast cache.
type CacheAdmin interface {
	Clear(ctx context.Context) error
}

// GeoAdmin drops cached city resolutions.
type GeoAdmin interface {
	Invalidate(query string) bool
}

// Deps are the services behind the API. MaxDays bounds the days parameter.
// AdminToken guards the stats and cache routes; when empty they are refused.
type Deps struct {
	Forecasts     ForecastService
	Subscriptions SubscriptionService
	Favorites     FavoritesService
	History       store.HistoryRepo
	Cache         CacheAdmin
	Geo           GeoAdmin
	MaxDays       int
	HistoryLimit  int
	AdminToken    string
}

// AdminTokenHeader carries the admin token.
const AdminTokenHeader = "X-Admin-Token"

// adminOnly rejects requests without the configured admin token.
func adminOnly(token string) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup: "header:" + AdminTokenHeader,
		Validator: func(_ *fiber.Ctx, key string) (bool, error) {
			if token == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
		ErrorHandler: func(_ *fiber.Ctx, _ error) error {
			return fiber.NewError(fiber.StatusUnauthorized, "admin token required")
		},
	})
}

// RegisterSystemRoutes adds health and metrics endpoints.
func RegisterSystemRoutes(app *fiber.App, service string, gatherer prometheus.Gatherer) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": service,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/forecast", func(c *fiber.Ctx) error {
		var q forecastQuery
		if err := q.bind(c, d.MaxDays); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		f, err := d.Forecasts.ForecastForCity(c.UserContext(), q.City)
		if err != nil {
			return mapError(err, "failed to fetch forecast")
		}
		f = f.Truncate(q.Days)

		return c.JSON(fiber.Map{
			"location":  f.Location,
			"provider":  f.Provider,
			"fetchedAt": f.FetchedAt,
			"days":      f.Days,
			"summary":   weather.Summarize(f.Days),
		})
	})

	subs := v1.Group("/subscriptions")

	subs.Get("/:userID", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		sub, err := d.Subscriptions.Get(c.UserContext(), userID)
		if err != nil {
			return mapError(err, "failed to read subscription")
		}
		return c.JSON(toView(sub))
	})

	subs.Put("/:userID", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		var req subscriptionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sub, err := req.apply(c.UserContext(), d.Subscriptions, userID)
		if err != nil {
			return mapError(err, "failed to update subscription")
		}
		return c.JSON(toView(sub))
	})

	subs.Delete("/:userID", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		if err := d.Subscriptions.Delete(c.UserContext(), userID); err != nil {
			return mapError(err, "failed to delete subscription")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Get("/users/:userID/history", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		limit := c.QueryInt("limit", d.HistoryLimit)
		if limit < 1 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be positive")
		}
		items, err := d.History.History(c.UserContext(), userID, limit)
		if err != nil {
			return mapError(err, "failed to read history")
		}
		if items == nil {
			items = []weather.Lookup{}
		}
		return c.JSON(fiber.Map{
			"userId":  userID,
			"lookups": items,
		})
	})

	favs := v1.Group("/users/:userID/favorites")

	favs.Get("/", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		items, err := d.Favorites.List(c.UserContext(), userID)
		if err != nil {
			return mapError(err, "failed to read favorites")
		}
		if items == nil {
			items = []store.Favorite{}
		}
		return c.JSON(fiber.Map{
			"userId":    userID,
			"favorites": items,
		})
	})

	favs.Post("/", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		var req favoriteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		f, added, err := d.Favorites.Add(c.UserContext(), userID, req.City)
		if err != nil {
			return mapError(err, "failed to add favorite")
		}
		status := fiber.StatusOK
		if added {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(f)
	})

	favs.Delete("/:city", func(c *fiber.Ctx) error {
		userID, err := parseUserID(c)
		if err != nil {
			return err
		}
		city, err := url.PathUnescape(c.Params("city"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid city")
		}
		removed, err := d.Favorites.Remove(c.UserContext(), userID, city)
		if err != nil {
			return mapError(err, "failed to remove favorite")
		}
		if !removed {
			return fiber.NewError(fiber.StatusNotFound, "city is not a favorite")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin := adminOnly(d.AdminToken)

	v1.Get("/stats", admin, func(c *fiber.Ctx) error {
		st, err := d.History.Stats(c.UserContext())
		if err != nil {
			return mapError(err, "failed to read stats")
		}
		return c.JSON(st)
	})

	v1.Delete("/cache", admin, func(c *fiber.Ctx) error {
		if err := d.Cache.Clear(c.UserContext()); err != nil {
			return mapError(err, "failed to clear cache")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Delete("/geo/:city", admin, func(c *fiber.Ctx) error {
		city, err := url.PathUnescape(c.Params("city"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid city")
		}
		if !d.Geo.Invalidate(city) {
			return fiber.NewError(fiber.StatusNotFound, "no cached resolution for city")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// mapError converts service errors to HTTP errors.
func mapError(err error, fallback string) error {
	switch {
	case errors.Is(err, weather.ErrCityNotFound):
		return fiber.NewError(fiber.StatusNotFound, "city not found")
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "subscription not found")
	case errors.Is(err, subscription.ErrNoCity):
		return fiber.NewError(fiber.StatusConflict, "set a city first")
	case errors.Is(err, domain.ErrInvalidClock):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, favorites.ErrLimitReached):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, weather.ErrUpstreamTransport):
		return fiber.NewError(fiber.StatusBadGateway, "weather provider unavailable")
	case errors.Is(err, weather.ErrNoProviders):
		return fiber.NewError(fiber.StatusServiceUnavailable, "no weather providers configured")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, fallback)
	}
}

// forecastQuery holds query parameters for the forecast endpoint.
type forecastQuery struct {
	City string `validate:"required"`
	Days int    `validate:"required,min=1"`
}

func (q *forecastQuery) bind(c *fiber.Ctx, maxDays int) error {
	q.City = c.Query("city")

	daysStr := c.Query("days")
	if daysStr == "" {
		return errors.New("days query parameter is required")
	}
	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return errors.New("days must be an integer")
	}
	q.Days = days

	if err := validate.Struct(q); err != nil {
		return err
	}
	if maxDays > 0 && q.Days > maxDays {
		return fmt.Errorf("days must be between 1 and %d", maxDays)
	}
	return nil
}

// subscriptionRequest is the body of PUT /subscriptions/:userID.
// Present fields are applied in order: city, localTime, enabled.
type subscriptionRequest struct {
	City      *string `json:"city" validate:"omitempty,min=1"`
	LocalTime *string `json:"localTime" validate:"omitempty,min=3,max=5"`
	Enabled   *bool   `json:"enabled"`
}

func (r subscriptionRequest) apply(ctx context.Context, svc SubscriptionService, userID int64) (domain.Subscription, error) {
	if r.City == nil && r.LocalTime == nil && r.Enabled == nil {
		return svc.Get(ctx, userID)
	}

	var (
		sub domain.Subscription
		err error
	)
	if r.City != nil {
		if sub, _, err = svc.SetCity(ctx, userID, *r.City); err != nil {
			return domain.Subscription{}, err
		}
	}
	if r.LocalTime != nil {
		if sub, err = svc.SetLocalTime(ctx, userID, *r.LocalTime); err != nil {
			return domain.Subscription{}, err
		}
	}
	if r.Enabled != nil {
		if sub, err = svc.SetEnabled(ctx, userID, *r.Enabled); err != nil {
			return domain.Subscription{}, err
		}
	}
	return sub, nil
}

// favoriteRequest is the body of POST /users/:userID/favorites.
type favoriteRequest struct {
	City string `json:"city" validate:"required"`
}

type subscriptionView struct {
	UserID                          int64   `json:"userId"`
	City                            string  `json:"city"`
	LocalTime                       string  `json:"localTime"`
	TimezoneOffsetMinutesAtCreation int     `json:"timezoneOffsetMinutesAtCreation"`
	TriggerUTC                      string  `json:"triggerUtc"`
	Enabled                         bool    `json:"enabled"`
	LastFiredDate                   *string `json:"lastFiredDate"`
}

func toView(s domain.Subscription) subscriptionView {
	v := subscriptionView{
		UserID:                          s.UserID,
		City:                            s.City,
		LocalTime:                       s.LocalTime,
		TimezoneOffsetMinutesAtCreation: s.TimezoneOffsetMinutesAtCreation,
		TriggerUTC:                      s.TriggerUTC,
		Enabled:                         s.Enabled,
	}
	if s.LastFiredDate != nil {
		d := s.LastFiredDate.Format(time.DateOnly)
		v.LastFiredDate = &d
	}
	return v
}

func parseUserID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("userID"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}
	return id, nil
}
