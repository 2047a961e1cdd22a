package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

func newRepos(t *testing.T) map[string]Repo {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repo{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRepo_GetMissing(t *testing.T) {
	for name, repo := range newRepos(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(context.Background(), 42)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := repo.Delete(context.Background(), 42); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on delete, got %v", err)
			}
		})
	}
}

func TestRepo_UpsertRoundTrip(t *testing.T) {
	for name, repo := range newRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fired := day(2025, time.May, 5)
			in := domain.Subscription{
				UserID:                          7,
				City:                            "москва",
				LocalTime:                       "08:00",
				TimezoneOffsetMinutesAtCreation: 180,
				TriggerUTC:                      "05:00",
				Enabled:                         true,
				LastFiredDate:                   &fired,
			}
			if err := repo.Upsert(ctx, in); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, err := repo.Get(ctx, 7)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.City != in.City || got.LocalTime != in.LocalTime || got.TriggerUTC != in.TriggerUTC ||
				got.TimezoneOffsetMinutesAtCreation != 180 || !got.Enabled {
				t.Fatalf("unexpected subscription: %+v", got)
			}
			if got.LastFiredDate == nil || !got.LastFiredDate.Equal(fired) {
				t.Fatalf("unexpected last fired date: %v", got.LastFiredDate)
			}

			// An older date never overwrites a newer one.
			older := day(2025, time.May, 1)
			in.LastFiredDate = &older
			in.LocalTime = "09:00"
			if err := repo.Upsert(ctx, in); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, _ = repo.Get(ctx, 7)
			if got.LocalTime != "09:00" {
				t.Fatalf("expected local time update, got %s", got.LocalTime)
			}
			if got.LastFiredDate == nil || !got.LastFiredDate.Equal(fired) {
				t.Fatalf("last fired date moved backwards: %v", got.LastFiredDate)
			}
		})
	}
}

func TestRepo_ListDue(t *testing.T) {
	for name, repo := range newRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			today := day(2025, time.May, 6)
			yesterday := day(2025, time.May, 5)

			subs := []domain.Subscription{
				{UserID: 1, City: "москва", LocalTime: "08:00", TriggerUTC: "05:00", Enabled: true},
				{UserID: 2, City: "москва", LocalTime: "08:00", TriggerUTC: "05:00", Enabled: false},
				{UserID: 3, City: "москва", LocalTime: "08:00", TriggerUTC: "05:00", Enabled: true, LastFiredDate: &today},
				{UserID: 4, City: "москва", LocalTime: "08:00", TriggerUTC: "05:00", Enabled: true, LastFiredDate: &yesterday},
				{UserID: 5, City: "москва", LocalTime: "09:00", TriggerUTC: "06:00", Enabled: true},
			}
			for _, s := range subs {
				if err := repo.Upsert(ctx, s); err != nil {
					t.Fatalf("upsert %d: %v", s.UserID, err)
				}
			}

			due, err := repo.ListDue(ctx, "05:00", today.Add(5*time.Hour))
			if err != nil {
				t.Fatalf("list due: %v", err)
			}
			if len(due) != 2 || due[0].UserID != 1 || due[1].UserID != 4 {
				t.Fatalf("expected users 1 and 4, got %+v", due)
			}
			for _, s := range due {
				if !s.Enabled {
					t.Fatalf("disabled subscription selected: %+v", s)
				}
			}
		})
	}
}

func TestRepo_MarkFiredOnlyForward(t *testing.T) {
	for name, repo := range newRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := domain.Subscription{UserID: 1, City: "москва", LocalTime: "08:00", TriggerUTC: "05:00", Enabled: true}
			if err := repo.Upsert(ctx, sub); err != nil {
				t.Fatalf("upsert: %v", err)
			}

			today := day(2025, time.May, 6)
			ok, err := repo.MarkFired(ctx, 1, today.Add(5*time.Hour), "05:00")
			if err != nil || !ok {
				t.Fatalf("first mark: ok=%v err=%v", ok, err)
			}
			ok, err = repo.MarkFired(ctx, 1, today, "05:00")
			if err != nil || ok {
				t.Fatalf("second mark same day: ok=%v err=%v", ok, err)
			}
			ok, err = repo.MarkFired(ctx, 1, day(2025, time.May, 4), "05:00")
			if err != nil || ok {
				t.Fatalf("mark earlier day: ok=%v err=%v", ok, err)
			}

			got, _ := repo.Get(ctx, 1)
			if got.LastFiredDate == nil || !got.LastFiredDate.Equal(today) {
				t.Fatalf("unexpected last fired date: %v", got.LastFiredDate)
			}

			due, _ := repo.ListDue(ctx, "05:00", today)
			if len(due) != 0 {
				t.Fatalf("fired subscription still due: %+v", due)
			}
			due, _ = repo.ListDue(ctx, "05:00", today.AddDate(0, 0, 1))
			if len(due) != 1 {
				t.Fatalf("expected subscription due tomorrow, got %+v", due)
			}
		})
	}
}

func TestRepo_HistoryPruning(t *testing.T) {
	for name, repo := range newRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, time.May, 6, 10, 0, 0, 0, time.UTC)
			cities := []string{"Москва", "Казань", "Москва", "Сочи", "Москва"}
			for i, c := range cities {
				l := weather.Lookup{UserID: 9, City: c, At: base.Add(time.Duration(i) * time.Minute)}
				if err := repo.RecordLookup(ctx, l, 3); err != nil {
					t.Fatalf("record: %v", err)
				}
			}
			_ = repo.RecordLookup(ctx, weather.Lookup{UserID: 10, City: "Казань", At: base}, 3)

			h, err := repo.History(ctx, 9, 0)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(h) != 3 {
				t.Fatalf("expected 3 retained lookups, got %d", len(h))
			}
			if h[0].City != "Москва" || h[1].City != "Сочи" || h[2].City != "Москва" {
				t.Fatalf("unexpected order: %+v", h)
			}
			if !h[0].At.Equal(base.Add(4 * time.Minute)) {
				t.Fatalf("unexpected newest timestamp: %v", h[0].At)
			}

			st, err := repo.Stats(ctx)
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if st.Lookups != 4 {
				t.Fatalf("expected 4 lookups, got %d", st.Lookups)
			}
			if len(st.TopCities) == 0 || st.TopCities[0].City != "Москва" || st.TopCities[0].Count != 2 {
				t.Fatalf("unexpected top cities: %+v", st.TopCities)
			}
		})
	}
}

func TestRepo_Favorites(t *testing.T) {
	for name, repo := range newRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

			for i, c := range []string{"москва", "казань", "москва"} {
				added, err := repo.AddFavorite(ctx, Favorite{UserID: 3, City: c, Name: c, AddedAt: at.Add(time.Duration(i) * time.Minute)})
				if err != nil {
					t.Fatalf("add %s: %v", c, err)
				}
				if wantAdded := i < 2; added != wantAdded {
					t.Fatalf("add #%d %s: added=%v", i, c, added)
				}
			}
			if _, err := repo.AddFavorite(ctx, Favorite{UserID: 4, City: "москва", Name: "Москва", AddedAt: at}); err != nil {
				t.Fatalf("add for other user: %v", err)
			}

			favs, err := repo.Favorites(ctx, 3)
			if err != nil {
				t.Fatalf("favorites: %v", err)
			}
			if len(favs) != 2 || favs[0].City != "казань" || favs[1].City != "москва" {
				t.Fatalf("unexpected favorites %+v", favs)
			}
			if !favs[0].AddedAt.Equal(at.Add(time.Minute)) {
				t.Fatalf("unexpected timestamp %v", favs[0].AddedAt)
			}

			removed, err := repo.RemoveFavorite(ctx, 3, "москва")
			if err != nil || !removed {
				t.Fatalf("remove: removed=%v err=%v", removed, err)
			}
			if removed, _ := repo.RemoveFavorite(ctx, 3, "москва"); removed {
				t.Fatal("second remove must report false")
			}
			favs, _ = repo.Favorites(ctx, 3)
			if len(favs) != 1 || favs[0].City != "казань" {
				t.Fatalf("unexpected favorites after remove %+v", favs)
			}
			if other, _ := repo.Favorites(ctx, 4); len(other) != 1 {
				t.Fatalf("other user's favorites touched: %+v", other)
			}
		})
	}
}
