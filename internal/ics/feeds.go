package ics

import (
	"context"
	"errors"
	"time"

	appLog "ownclock/internal/log"
	"ownclock/internal/model"
)

// Window around now in which recurrences are expanded. It covers the
// backend's own seven-day agenda plus events still running from yesterday.
const (
	windowBefore = 24 * time.Hour
	windowAfter  = 7 * 24 * time.Hour
)

// Feeds turns a set of ICS subscriptions into backend-shaped calendar
// entries.
type Feeds struct {
	fetcher *Fetcher
	sources []Source
}

// NewFeeds reads sources through fetcher.
func NewFeeds(fetcher *Fetcher, sources []Source) *Feeds {
	return &Feeds{fetcher: fetcher, sources: sources}
}

// Empty reports whether there is nothing to fetch.
func (f *Feeds) Empty() bool {
	return f == nil || len(f.sources) == 0
}

// Events fetches, parses and expands every source. A feed that fails is
// logged and skipped; an error is returned only when every feed failed.
func (f *Feeds) Events(ctx context.Context, loc *time.Location, now time.Time) ([]model.RawCalendarEvent, error) {
	if f.Empty() {
		return nil, nil
	}

	results, fetchErrs := f.fetcher.FetchAll(ctx, f.sources)
	if len(results) == 0 && len(fetchErrs) > 0 {
		return nil, errors.Join(fetchErrs...)
	}

	var parsed []ParsedEvent
	for _, res := range results {
		evs, err := ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, evs...)
	}

	exp, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      now.Add(-windowBefore),
		RangeEnd:        now.Add(windowAfter),
	})
	if err != nil {
		return nil, err
	}

	appLog.Debug("ics feeds expanded", "sources", len(f.sources), "events", len(exp.Events))
	return exp.Events, nil
}
