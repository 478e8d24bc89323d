package agenda

import (
	"time"

	"ownclock/internal/model"
	"ownclock/internal/zclock"
)

// DayLabel tells the view how to caption an event's day.
type DayLabel string

const (
	LabelToday    DayLabel = "today"
	LabelTomorrow DayLabel = "tomorrow"
	LabelWeekday  DayLabel = "weekday"
)

// Item is a normalized event plus its display classification. All fields
// are evaluated in the display zone, not the viewer's.
type Item struct {
	model.NormalizedEvent

	Label DayLabel `json:"label"`
	// Weekday and Day are the start's weekday and day of month; the view
	// uses them when Label is LabelWeekday.
	Weekday   time.Weekday `json:"weekday"`
	Day       int          `json:"day"`
	Happening bool         `json:"happening"`
	// Time is "HH:MM" (24h) for timed events and empty for all-day ones.
	Time string `json:"time"`
}

// Classify computes the display classification of ev at now.
func Classify(ev model.NormalizedEvent, now time.Time, loc *time.Location) Item {
	item := Item{NormalizedEvent: ev}

	switch {
	case zclock.IsToday(ev.Start, now, loc):
		item.Label = LabelToday
	case zclock.IsTomorrow(ev.Start, now, loc):
		item.Label = LabelTomorrow
	default:
		item.Label = LabelWeekday
	}

	local := ev.Start.In(loc)
	item.Weekday = local.Weekday()
	item.Day = local.Day()
	item.Happening = zclock.IsHappening(ev.Start, ev.End, ev.AllDay, now, loc)
	if !ev.AllDay {
		item.Time = local.Format("15:04")
	}
	return item
}

// Build normalizes raw and classifies every resulting event.
func Build(raw []model.RawCalendarEvent, loc *time.Location, now time.Time) []Item {
	events := Normalize(raw, loc, now)
	items := make([]Item, 0, len(events))
	for _, ev := range events {
		items = append(items, Classify(ev, now, loc))
	}
	return items
}
