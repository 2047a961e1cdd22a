package domain

import (
	"fmt"
	"time"
)

// OffsetMinutes returns the UTC offset of t's zone at t, in minutes.
func OffsetMinutes(t time.Time) int {
	_, off := t.Zone()
	return off / 60
}

// NextOccurrence returns the first instant at or after now (floored to the
// minute) whose wall clock in loc reads localMins. Offsets are taken from the
// zone's rules on that date, so DST transitions are honoured.
func NextOccurrence(now time.Time, loc *time.Location, localMins int) time.Time {
	floor := now.Truncate(time.Minute)
	local := floor.In(loc)
	h, m := wrap(localMins)/60, wrap(localMins)%60

	candidate := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
	if candidate.Before(floor) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+1, h, m, 0, 0, loc)
	}
	return candidate
}

// Trigger is a resolved trigger time.
type Trigger struct {
	UTC    string    // HH:MM
	At     time.Time // absolute instant of the next occurrence
	Offset int       // zone offset in minutes at that instant
}

// ComputeTrigger derives the UTC trigger for localTime in zone tz, based on
// the next local occurrence after now.
func ComputeTrigger(now time.Time, tz, localTime string) (Trigger, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Trigger{}, fmt.Errorf("load zone %q: %w", tz, err)
	}
	mins, err := ParseClock(localTime)
	if err != nil {
		return Trigger{}, err
	}
	next := NextOccurrence(now, loc, mins)
	return Trigger{
		UTC:    FormatClock(MinuteOfDay(next.UTC())),
		At:     next.UTC(),
		Offset: OffsetMinutes(next),
	}, nil
}
