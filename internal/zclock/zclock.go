// Package zclock answers calendar-date questions about instants as observed
// in an explicit display timezone. Nothing here consults time.Local.
package zclock

import (
	"errors"
	"fmt"
	"time"

	// Kiosk images often ship without /usr/share/zoneinfo.
	_ "time/tzdata"
)

// DayKeyLayout is the layout of a day key (YYYY-MM-DD).
const DayKeyLayout = "2006-01-02"

// LoadZone resolves an IANA timezone name. Unlike time.LoadLocation it
// rejects the empty name instead of silently returning UTC, and it never
// falls back to the host zone.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, errors.New("zclock: timezone name is empty")
	}
	if name == "Local" {
		return nil, errors.New("zclock: host timezone is not a display zone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("zclock: load %q: %w", name, err)
	}
	return loc, nil
}

// DayKey returns the calendar date of t observed in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayKeyLayout)
}

// IsToday reports whether t falls on the same date as now in loc.
func IsToday(t, now time.Time, loc *time.Location) bool {
	return DayKey(t, loc) == DayKey(now, loc)
}

// IsTomorrow reports whether t falls on the date of now+24h in loc.
//
// The fixed 24 hours is intentional: across a DST transition the result can
// differ from the calendar-next day by one.
func IsTomorrow(t, now time.Time, loc *time.Location) bool {
	return DayKey(t, loc) == DayKey(now.Add(24*time.Hour), loc)
}

// IsHappening reports whether an event is in progress at now.
//
// All-day events compare day keys in loc over [start, end): the end day is
// excluded. Timed events compare absolute instants over [start, end].
func IsHappening(start, end time.Time, allDay bool, now time.Time, loc *time.Location) bool {
	if allDay {
		today := DayKey(now, loc)
		return today >= DayKey(start, loc) && today < DayKey(end, loc)
	}
	return !now.Before(start) && !now.After(end)
}
