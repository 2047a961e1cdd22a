package domain

import (
	"testing"
	"time"
	_ "time/tzdata"
)

// helper: build a time in given tz and return its UTC
func mustLocalUTC(t *testing.T, tz string, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	return time.Date(y, m, d, hh, mm, 0, 0, loc).UTC()
}

func TestComputeTrigger_Moscow(t *testing.T) {
	now := time.Date(2025, time.May, 5, 1, 0, 0, 0, time.UTC)
	tr, err := ComputeTrigger(now, "Europe/Moscow", "08:00")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if tr.UTC != "05:00" {
		t.Fatalf("want 05:00, got %s", tr.UTC)
	}
	if tr.Offset != 180 {
		t.Fatalf("want offset 180, got %d", tr.Offset)
	}
}

func TestComputeTrigger_FollowsDST(t *testing.T) {
	// Berlin switches to CEST on 2025-03-30.
	winter := time.Date(2025, time.March, 28, 12, 0, 0, 0, time.UTC)
	tr, err := ComputeTrigger(winter, "Europe/Berlin", "08:00")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if tr.UTC != "07:00" {
		t.Fatalf("winter: want 07:00, got %s", tr.UTC)
	}

	summer := time.Date(2025, time.March, 30, 12, 0, 0, 0, time.UTC)
	tr, err = ComputeTrigger(summer, "Europe/Berlin", "08:00")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if tr.UTC != "06:00" {
		t.Fatalf("summer: want 06:00, got %s", tr.UTC)
	}
}

func TestNextOccurrence_TodayOrTomorrow(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Moscow")

	now := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 6, 7, 0)
	got := NextOccurrence(now, loc, 8*60)
	if want := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 6, 8, 0); !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}

	// Same minute counts as now.
	now = mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 6, 8, 0).Add(30 * time.Second)
	got = NextOccurrence(now, loc, 8*60)
	if want := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 6, 8, 0); !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}

	now = mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 6, 8, 1)
	got = NextOccurrence(now, loc, 8*60)
	if want := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 7, 8, 0); !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

// Fixed-offset conversions; ComputeTrigger must agree with them away from
// DST transitions.
func localToUTC(localMins, offsetMins int) int { return wrap(localMins - offsetMins) }
func utcToLocal(utcMins, offsetMins int) int   { return wrap(utcMins + offsetMins) }

func TestLocalUTCRoundTrip(t *testing.T) {
	offsets := []int{-600, -300, 0, 180, 330, 345, 720, 840}
	for _, off := range offsets {
		for m := 0; m < minutesPerDay; m += 7 {
			if got := utcToLocal(localToUTC(m, off), off); got != m {
				t.Fatalf("offset %d minute %d: round trip gave %d", off, m, got)
			}
		}
	}
}

func TestComputeTriggerMatchesFixedOffset(t *testing.T) {
	now := time.Date(2025, time.May, 6, 0, 0, 0, 0, time.UTC)
	for _, tz := range []string{"Europe/Moscow", "Asia/Kolkata", "America/New_York", "Asia/Kathmandu"} {
		for _, local := range []string{"00:00", "07:30", "23:59"} {
			tr, err := ComputeTrigger(now, tz, local)
			if err != nil {
				t.Fatalf("%s %s: %v", tz, local, err)
			}
			mins, _ := ParseClock(local)
			if want := FormatClock(localToUTC(mins, tr.Offset)); tr.UTC != want {
				t.Fatalf("%s %s: trigger %s, fixed offset gives %s", tz, local, tr.UTC, want)
			}
			if tr.At.Before(now) || FormatClock(MinuteOfDay(tr.At)) != tr.UTC {
				t.Fatalf("%s %s: instant %v does not match %s", tz, local, tr.At, tr.UTC)
			}
		}
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"08:00", 480, true},
		{"8:05", 485, true},
		{" 23:59 ", 1439, true},
		{"07.30", 450, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"12:5", 0, false},
		{"noon", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("ParseClock(%q) = %d, %v; want %d", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseClock(%q) expected error", c.in)
		}
	}
}

func TestFiredOn(t *testing.T) {
	day := time.Date(2025, time.May, 6, 0, 0, 0, 0, time.UTC)
	s := Subscription{LastFiredDate: &day}

	if !s.FiredOn(time.Date(2025, time.May, 6, 23, 59, 0, 0, time.UTC)) {
		t.Fatal("expected fired on the same UTC date")
	}
	if s.FiredOn(time.Date(2025, time.May, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected not fired on the next UTC date")
	}
	if (Subscription{}).FiredOn(day) {
		t.Fatal("nil LastFiredDate never fired")
	}
}
