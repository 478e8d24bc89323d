package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "ownclock/internal/log"
	"ownclock/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
	dateLayout                    = "2006-01-02"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the zone timed occurrences are expressed in.
	// Required: there is no fallback to the host zone.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences produced (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero selects the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the expanded occurrences as raw calendar entries, in
// the same shape the backend serves, plus the UIDs that hit the cap.
type ExpandResult struct {
	Events          []model.RawCalendarEvent
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed events into concrete occurrences within
// the configured range. It handles single events, RRULE recurrences,
// EXDATE exclusions and RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.DisplayLocation == nil {
		return result, errors.New("expand: DisplayLocation is required")
	}
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, keeping first-seen order so
	// the output is deterministic.
	var order []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	result.Events = make([]model.RawCalendarEvent, 0)
	for _, uid := range order {
		ov := overridesByUID[uid]
		truncated := false
		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			truncated = truncated || hitCap
			result.Events = append(result.Events, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("ics: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RawCalendarEvent, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.RawCalendarEvent {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}
	if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.RawCalendarEvent{toRaw(ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RawCalendarEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the window by the event duration so an occurrence that started
	// before RangeStart but is still running is kept.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	occTimes := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.RawCalendarEvent, 0, len(occTimes))
	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			// Keep whole days; the duration may not be a multiple of 24h
			// across a DST change.
			days := int(dur.Round(24*time.Hour) / (24 * time.Hour))
			if days < 1 {
				days = 1
			}
			occEnd = occStart.AddDate(0, 0, days)
		}

		inst, start, end := ev, occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			inst, start, end = o, o.Start, o.End
		}
		out = append(out, toRaw(inst, start, end, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toRaw renders one occurrence as a backend-style entry. All-day dates are
// taken in the event's own zone so they never shift to a neighbouring day;
// timed instants are rendered in displayLoc.
func toRaw(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.RawCalendarEvent {
	raw := model.RawCalendarEvent{
		Summary:        ev.Summary,
		Location:       ev.Location,
		Description:    ev.Description,
		Calendar:       ev.Source.Name,
		CalendarEntity: "ics:" + ev.Source.ID,
	}
	if ev.AllDay {
		raw.Start = &model.EventTime{Date: start.Format(dateLayout)}
		raw.End = &model.EventTime{Date: end.Format(dateLayout)}
	} else {
		raw.Start = &model.EventTime{DateTime: start.In(displayLoc).Format(time.RFC3339)}
		raw.End = &model.EventTime{DateTime: end.In(displayLoc).Format(time.RFC3339)}
	}
	return raw
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
