package model

import "time"

// Defaults applied to any snapshot field the backend leaves empty.
const (
	DefaultWeatherEntity  = "weather.openweathermap"
	DefaultTimezone       = "America/Lima"
	DefaultUpdateInterval = 60000
	DefaultClockFormat    = "24h"
)

// ConfigSnapshot is the dashboard configuration as stored by the backend
// (GET/POST /config). JSON field names are shared with other clients, so
// they must not change.
type ConfigSnapshot struct {
	HAURL            string   `json:"haUrl"`
	HAToken          string   `json:"haToken"`
	WeatherEntity    string   `json:"weatherEntity"`
	CalendarEntities []string `json:"calendarEntities"`
	Timezone         string   `json:"timezone"`
	// UpdateInterval is the weather refresh period in milliseconds.
	UpdateInterval int    `json:"updateInterval"`
	ClockFormat    string `json:"clockFormat"`
	// LastUpdate is a write marker set by whoever saved the snapshot last.
	// It carries no rendering meaning.
	LastUpdate string `json:"lastUpdate,omitempty"`
}

// WithDefaults returns a copy of s with empty fields filled in.
func (s ConfigSnapshot) WithDefaults() ConfigSnapshot {
	if s.WeatherEntity == "" {
		s.WeatherEntity = DefaultWeatherEntity
	}
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	if s.UpdateInterval <= 0 {
		s.UpdateInterval = DefaultUpdateInterval
	}
	if s.ClockFormat == "" {
		s.ClockFormat = DefaultClockFormat
	}
	if s.CalendarEntities == nil {
		s.CalendarEntities = []string{}
	} else {
		s.CalendarEntities = append([]string(nil), s.CalendarEntities...)
	}
	return s
}

// Use24h reports whether the clock should render in 24-hour format.
func (s ConfigSnapshot) Use24h() bool {
	return s.ClockFormat != "12h"
}

// EventTime is the start or end of a calendar entry. Exactly one of the two
// fields is normally set: DateTime for timed entries, Date (YYYY-MM-DD) for
// all-day entries.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// RawCalendarEvent is a calendar entry as returned by GET /calendar.
type RawCalendarEvent struct {
	Summary        string     `json:"summary,omitempty"`
	Start          *EventTime `json:"start,omitempty"`
	End            *EventTime `json:"end,omitempty"`
	Location       string     `json:"location,omitempty"`
	Description    string     `json:"description,omitempty"`
	Calendar       string     `json:"calendar,omitempty"`
	CalendarEntity string     `json:"calendar_entity,omitempty"`
}

// NormalizedEvent is a calendar entry ready for display.
type NormalizedEvent struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`

	AllDay bool `json:"all_day"`

	// Start / End are expressed in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Calendar       string `json:"calendar"`
	CalendarEntity string `json:"calendar_entity"`
}
