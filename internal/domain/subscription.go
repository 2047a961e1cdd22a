package domain

import "time"

// Subscription is a user's daily forecast preference.
type Subscription struct {
	UserID    int64
	City      string // normalized city key
	LocalTime string // HH:MM in the city's zone
	// TimezoneOffsetMinutesAtCreation is the zone offset observed when the
	// subscription was created. It is persisted for reference only.
	TimezoneOffsetMinutesAtCreation int
	TriggerUTC                      string // HH:MM UTC of the next local occurrence
	Enabled                         bool
	LastFiredDate                   *time.Time // UTC midnight, nullable
}

// FiredOn reports whether the subscription already fired on the UTC date of day.
func (s Subscription) FiredOn(day time.Time) bool {
	if s.LastFiredDate == nil {
		return false
	}
	return !s.LastFiredDate.Before(UTCDate(day))
}
