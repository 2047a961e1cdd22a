package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/cache"
	"github.com/i474232898/weather-forecast-bot/internal/favorites"
	"github.com/i474232898/weather-forecast-bot/internal/metrics"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/subscription"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, query string) (weather.Location, error) {
	if weather.NormalizeCity(query) != "париж" {
		return weather.Location{}, weather.ErrCityNotFound
	}
	return weather.Location{Key: "париж", Name: "Париж", Timezone: "Europe/Paris"}, nil
}

type stubSource struct{}

func (stubSource) Get(_ context.Context, loc weather.Location) (weather.Forecast, error) {
	f := weather.Forecast{Location: loc, Provider: "stub"}
	for _, d := range []string{"2025-05-05", "2025-05-06", "2025-05-07"} {
		f.Days = append(f.Days, weather.DailyForecast{Date: d, TempMinC: 10, TempMaxC: 20})
	}
	return f, nil
}

type stubGeo struct{}

func (stubGeo) Invalidate(query string) bool { return weather.NormalizeCity(query) == "париж" }

const testAdminToken = "s3cret"

func newTestApp() *fiber.App {
	app := fiber.New()
	repo := store.NewMemoryStore()
	RegisterRoutes(app, Deps{
		Forecasts:     weather.NewService(stubResolver{}, stubSource{}, nil, 15, zap.NewNop()),
		Subscriptions: subscription.NewService(repo, stubResolver{}, "08:00", zap.NewNop()),
		Favorites:     favorites.NewService(repo, stubResolver{}, 0, zap.NewNop()),
		History:       repo,
		Cache:         cache.NewMemoryEntries(),
		Geo:           stubGeo{},
		MaxDays:       7,
		HistoryLimit:  15,
		AdminToken:    testAdminToken,
	})
	return app
}

func adminRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(AdminTokenHeader, testAdminToken)
	return req
}

// TestForecastDaysValidation verifies that the forecast endpoint enforces the
// expected 1-7 range for the `days` query parameter.
func TestForecastDaysValidation(t *testing.T) {
	app := newTestApp()

	// Missing days parameter should return 400.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/forecast?city=Paris", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Out-of-range days value should also return 400.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/forecast?city=Paris&days=8", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/forecast?city=Paris&days=0", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestForecast(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/forecast?city="+url.QueryEscape("Париж")+"&days=2", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Days []weather.DailyForecast `json:"days"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(body.Days))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/forecast?city=Atlantis&days=2", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/5", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/subscriptions/5", strings.NewReader(`{"localTime":"07:00"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without city, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/subscriptions/5", strings.NewReader(`{"city":"Париж","localTime":"07:00"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, b)
	}
	var view subscriptionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.City != "париж" || view.LocalTime != "07:00" || !view.Enabled {
		t.Fatalf("unexpected subscription %+v", view)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/subscriptions/5", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/abc", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestGeoInvalidate(t *testing.T) {
	app := newTestApp()

	req := adminRequest(http.MethodDelete, "/api/v1/geo/"+url.PathEscape("Париж"))
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req = adminRequest(http.MethodDelete, "/api/v1/geo/nowhere")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSystemRoutes(t *testing.T) {
	app := fiber.New()
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.SchedulerWakes.Inc()
	RegisterSystemRoutes(app, "weather-forecast-bot", reg)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "scheduler_wakes_total") {
		t.Fatalf("unexpected metrics response %d: %s", resp.StatusCode, b)
	}
}

func TestStatsAndCacheAdmin(t *testing.T) {
	app := newTestApp()

	resp, err := app.Test(adminRequest(http.MethodGet, "/api/v1/stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || st.Subscriptions != 0 {
		t.Fatalf("unexpected stats %d %+v", resp.StatusCode, st)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/5/history", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(adminRequest(http.MethodDelete, "/api/v1/cache"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	app := newTestApp()

	for _, tc := range []struct {
		method, target string
	}{
		{http.MethodGet, "/api/v1/stats"},
		{http.MethodDelete, "/api/v1/cache"},
		{http.MethodDelete, "/api/v1/geo/" + url.PathEscape("Париж")},
	} {
		resp, err := app.Test(httptest.NewRequest(tc.method, tc.target, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: expected 401, got %d", tc.method, tc.target, resp.StatusCode)
		}

		req := httptest.NewRequest(tc.method, tc.target, nil)
		req.Header.Set(AdminTokenHeader, "wrong")
		resp, _ = app.Test(req)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s with wrong token: expected 401, got %d", tc.method, tc.target, resp.StatusCode)
		}
	}

	// Public routes stay open.
	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/5/history", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAdminRoutesClosedWithoutConfiguredToken(t *testing.T) {
	app := fiber.New()
	repo := store.NewMemoryStore()
	RegisterRoutes(app, Deps{History: repo, Cache: cache.NewMemoryEntries(), Geo: stubGeo{}})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil)
	req.Header.Set(AdminTokenHeader, "")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestFavorites(t *testing.T) {
	app := newTestApp()

	post := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/5/favorites", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return resp
	}

	if resp := post(`{"city":"Париж"}`); resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, b)
	}
	if resp := post(`{"city":"париж"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for existing favorite, got %d", resp.StatusCode)
	}
	if resp := post(`{"city":"Atlantis"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if resp := post(`{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/5/favorites", nil))
	var body struct {
		Favorites []store.Favorite `json:"favorites"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Favorites) != 1 || body.Favorites[0].City != "париж" || body.Favorites[0].Name != "Париж" {
		t.Fatalf("unexpected favorites %+v", body.Favorites)
	}

	target := "/api/v1/users/5/favorites/" + url.PathEscape("Париж")
	resp, _ = app.Test(httptest.NewRequest(http.MethodDelete, target, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(http.MethodDelete, target, nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
