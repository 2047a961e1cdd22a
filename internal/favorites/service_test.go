package favorites

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

type stubResolver struct {
	locations map[string]weather.Location
	err       error
	calls     int
}

func (r *stubResolver) Resolve(_ context.Context, query string) (weather.Location, error) {
	r.calls++
	if r.err != nil {
		return weather.Location{}, r.err
	}
	loc, ok := r.locations[weather.NormalizeCity(query)]
	if !ok {
		return weather.Location{}, weather.ErrCityNotFound
	}
	return loc, nil
}

func newResolver() *stubResolver {
	return &stubResolver{locations: map[string]weather.Location{
		"москва":          {Key: "москва", Name: "Москва"},
		"moscow":          {Key: "москва", Name: "Москва"},
		"казань":          {Key: "казань", Name: "Казань"},
		"санкт-петербург": {Key: "санкт-петербург", Name: "Санкт-Петербург"},
	}}
}

func TestAdd(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), newResolver(), 0, zap.NewNop())
	ctx := context.Background()

	f, added, err := svc.Add(ctx, 1, "спб")
	if err != nil || !added {
		t.Fatalf("add: added=%v err=%v", added, err)
	}
	if f.City != "санкт-петербург" || f.Name != "Санкт-Петербург" {
		t.Fatalf("unexpected favorite %+v", f)
	}

	// Same place under another spelling is not duplicated.
	if _, added, err := svc.Add(ctx, 1, "Санкт-Петербург"); err != nil || added {
		t.Fatalf("duplicate: added=%v err=%v", added, err)
	}

	if _, _, err := svc.Add(ctx, 1, "Атлантида"); !errors.Is(err, weather.ErrCityNotFound) {
		t.Fatalf("expected ErrCityNotFound, got %v", err)
	}

	favs, err := svc.List(ctx, 1)
	if err != nil || len(favs) != 1 {
		t.Fatalf("list: %+v err=%v", favs, err)
	}
}

func TestAddLimit(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), newResolver(), 2, zap.NewNop())
	ctx := context.Background()

	for _, c := range []string{"Москва", "Казань"} {
		if _, _, err := svc.Add(ctx, 1, c); err != nil {
			t.Fatalf("add %s: %v", c, err)
		}
	}
	if _, _, err := svc.Add(ctx, 1, "СПб"); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	// An existing favorite is still reported at the limit.
	if _, added, err := svc.Add(ctx, 1, "Москва"); err != nil || added {
		t.Fatalf("existing at limit: added=%v err=%v", added, err)
	}
}

func TestRemove(t *testing.T) {
	resolver := newResolver()
	svc := NewService(store.NewMemoryStore(), resolver, 0, zap.NewNop())
	ctx := context.Background()

	if _, _, err := svc.Add(ctx, 1, "Москва"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := svc.Add(ctx, 1, "Казань"); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Key match needs no geocoder.
	resolver.err = &weather.UpstreamError{Provider: "geo", Op: "resolve", Err: context.DeadlineExceeded}
	removed, err := svc.Remove(ctx, 1, " казань ")
	if err != nil || !removed {
		t.Fatalf("remove by key: removed=%v err=%v", removed, err)
	}
	resolver.err = nil

	// Other spellings go through the resolver.
	removed, err = svc.Remove(ctx, 1, "Moscow")
	if err != nil || !removed {
		t.Fatalf("remove by resolution: removed=%v err=%v", removed, err)
	}

	removed, err = svc.Remove(ctx, 1, "Атлантида")
	if err != nil || removed {
		t.Fatalf("remove unknown: removed=%v err=%v", removed, err)
	}

	favs, _ := svc.List(ctx, 1)
	if len(favs) != 0 {
		t.Fatalf("expected no favorites, got %+v", favs)
	}
}
