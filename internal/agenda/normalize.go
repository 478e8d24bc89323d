package agenda

import (
	"fmt"
	"sort"
	"strings"
	"time"

	appLog "ownclock/internal/log"
	"ownclock/internal/model"
	"ownclock/internal/zclock"
)

const (
	// MaxEvents bounds the agenda length.
	MaxEvents = 5

	// DefaultSummary is shown for entries without a title.
	DefaultSummary = "Sin título"

	// anchorHour is the local hour at which all-day dates are pinned.
	anchorHour = 12
)

// Timed values may come with or without an offset; offset-less values are
// read in the display zone.
var timedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Normalize turns raw calendar entries into the displayed agenda: entries
// that ended before now are dropped, the rest are sorted by start (stable)
// and truncated to MaxEvents. Start/End are expressed in loc.
//
// Entries whose start cannot be read at all are skipped; everything else is
// kept, including entries whose end precedes their start. An entry without a
// usable end is not dropped: a timed one ends at its start and an all-day
// one at the end of its start date, so it stays listed until then.
func Normalize(raw []model.RawCalendarEvent, loc *time.Location, now time.Time) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(raw))

	for i, ev := range raw {
		ne, err := normalizeOne(ev, loc)
		if err != nil {
			appLog.Debug("agenda: skipping entry", "index", i, "summary", ev.Summary, "reason", err.Error())
			continue
		}
		if ne.End.Before(now) {
			continue
		}
		out = append(out, ne)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})

	if len(out) > MaxEvents {
		out = out[:MaxEvents]
	}
	return out
}

func normalizeOne(ev model.RawCalendarEvent, loc *time.Location) (model.NormalizedEvent, error) {
	allDay := ev.Start == nil || strings.TrimSpace(ev.Start.DateTime) == ""

	start, err := parseEventTime(ev.Start, allDay, loc)
	if err != nil {
		return model.NormalizedEvent{}, fmt.Errorf("start: %w", err)
	}

	end, err := parseEventTime(ev.End, allDay, loc)
	if err != nil {
		// No usable end: a timed entry is treated as instantaneous and an
		// all-day entry as covering its start date only.
		if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start
		}
	}

	summary := ev.Summary
	if strings.TrimSpace(summary) == "" {
		summary = DefaultSummary
	}

	return model.NormalizedEvent{
		Summary:        summary,
		Description:    ev.Description,
		Location:       ev.Location,
		AllDay:         allDay,
		Start:          start,
		End:            end,
		Calendar:       ev.Calendar,
		CalendarEntity: ev.CalendarEntity,
	}, nil
}

// parseEventTime reads one side of an entry. All-day values are anchored at
// local noon so that later zone conversions never move them to a
// neighbouring date.
func parseEventTime(et *model.EventTime, allDay bool, loc *time.Location) (time.Time, error) {
	if et == nil {
		return time.Time{}, fmt.Errorf("missing")
	}

	if !allDay && strings.TrimSpace(et.DateTime) != "" {
		return parseDateTime(strings.TrimSpace(et.DateTime), loc)
	}

	// An all-day entry may still carry a dateTime on its end; use its date.
	value := strings.TrimSpace(et.Date)
	if value == "" && et.DateTime != "" {
		t, err := parseDateTime(strings.TrimSpace(et.DateTime), loc)
		if err != nil {
			return time.Time{}, err
		}
		value = zclock.DayKey(t, loc)
	}
	if value == "" {
		return time.Time{}, fmt.Errorf("missing")
	}

	d, err := time.ParseInLocation(zclock.DayKeyLayout, value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), anchorHour, 0, 0, 0, loc), nil
}

func parseDateTime(v string, loc *time.Location) (time.Time, error) {
	var lastErr error
	for _, layout := range timedLayouts {
		t, err := time.ParseInLocation(layout, v, loc)
		if err == nil {
			return t.In(loc), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
