package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"ownclock/internal/agenda"
	"ownclock/internal/backend"
	appLog "ownclock/internal/log"
	"ownclock/internal/model"
)

// CalendarSource is the part of the backend client the calendar module uses.
type CalendarSource interface {
	FetchCalendar(ctx context.Context) ([]model.RawCalendarEvent, error)
}

// EventSource supplies extra calendar entries, e.g. ICS subscriptions.
type EventSource interface {
	Events(ctx context.Context, loc *time.Location, now time.Time) ([]model.RawCalendarEvent, error)
}

// CalendarView is the agenda panel.
type CalendarView struct {
	Status    LinkStatus    `json:"status"`
	Items     []agenda.Item `json:"items"`
	Message   string        `json:"message,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
}

// Calendar holds the normalized agenda from the last successful refresh.
type Calendar struct {
	src   CalendarSource
	extra EventSource

	mu        sync.RWMutex
	events    []model.NormalizedEvent
	status    LinkStatus
	message   string
	updatedAt time.Time
}

// NewCalendar builds the calendar module. extra may be nil.
func NewCalendar(src CalendarSource, extra EventSource) *Calendar {
	return &Calendar{
		src:    src,
		extra:  extra,
		events: []model.NormalizedEvent{},
		status: StatusPending,
	}
}

// Refresh refetches every source and recomputes the agenda from scratch.
// When the backend cannot be reached the previous agenda is kept. A backend
// without calendars configured is an empty agenda, not an error.
func (c *Calendar) Refresh(ctx context.Context, loc *time.Location, now time.Time) error {
	raw, err := c.src.FetchCalendar(ctx)
	status := StatusConnected
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		raw, status = nil, StatusNotConfigured
	case err != nil:
		appLog.Error("calendar refresh failed; keeping previous agenda", err)
		c.mu.Lock()
		c.status, c.message = StatusDisconnected, err.Error()
		c.mu.Unlock()
		return err
	}

	if c.extra != nil {
		more, err := c.extra.Events(ctx, loc, now)
		if err != nil {
			appLog.Error("extra calendar feeds failed", err)
		}
		raw = append(raw, more...)
	}

	events := agenda.Normalize(raw, loc, now)

	c.mu.Lock()
	c.events, c.status, c.message, c.updatedAt = events, status, "", now
	c.mu.Unlock()

	appLog.Debug("calendar refreshed", "raw", len(raw), "shown", len(events))
	return nil
}

// View classifies the stored agenda at now, so the today/happening flags
// stay current between refreshes.
func (c *Calendar) View(loc *time.Location, now time.Time) CalendarView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]agenda.Item, 0, len(c.events))
	for _, ev := range c.events {
		items = append(items, agenda.Classify(ev, now, loc))
	}
	return CalendarView{
		Status:    c.status,
		Items:     items,
		Message:   c.message,
		UpdatedAt: c.updatedAt,
	}
}
