package dashboard

import (
	"fmt"
	"sync"
	"time"

	"ownclock/internal/model"
	"ownclock/internal/zclock"
)

var (
	weekdaysES = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	monthsES   = [...]string{
		"enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
	}
)

// ClockView is the clock face at one instant.
type ClockView struct {
	Time     string `json:"time"`    // "HH:MM"
	Seconds  string `json:"seconds"` // "SS"
	Period   string `json:"period"`  // "a.m." / "p.m." in 12h mode, else empty
	Date     string `json:"date"`    // "lunes, 5 de enero de 2026"
	Timezone string `json:"timezone"`
	Use24h   bool   `json:"use_24h"`
}

// Clock renders the current time in the configured display zone.
type Clock struct {
	mu     sync.RWMutex
	loc    *time.Location
	zone   string
	use24h bool
}

// NewClock returns a 24-hour clock in America/Lima.
func NewClock() *Clock {
	loc, err := zclock.LoadZone(model.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, zone: model.DefaultTimezone, use24h: true}
}

// Apply switches zone and format. An unknown zone keeps the previous one and
// returns the error; the format is applied either way.
func (c *Clock) Apply(s model.ConfigSnapshot) error {
	s = s.WithDefaults()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.use24h = s.Use24h()
	if s.Timezone == c.zone {
		return nil
	}
	loc, err := zclock.LoadZone(s.Timezone)
	if err != nil {
		return err
	}
	c.loc, c.zone = loc, s.Timezone
	return nil
}

// Location returns the display zone.
func (c *Clock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}

// View renders now.
func (c *Clock) View(now time.Time) ClockView {
	c.mu.RLock()
	loc, zone, use24h := c.loc, c.zone, c.use24h
	c.mu.RUnlock()

	v := FormatClock(now, loc, use24h)
	v.Timezone = zone
	return v
}

// FormatClock renders t in loc.
func FormatClock(t time.Time, loc *time.Location, use24h bool) ClockView {
	lt := t.In(loc)
	v := ClockView{
		Seconds: fmt.Sprintf("%02d", lt.Second()),
		Date:    fmt.Sprintf("%s, %d de %s de %d", weekdaysES[lt.Weekday()], lt.Day(), monthsES[lt.Month()-1], lt.Year()),
		Use24h:  use24h,
	}
	if use24h {
		v.Time = lt.Format("15:04")
		return v
	}
	v.Time = lt.Format("03:04")
	v.Period = "a.m."
	if lt.Hour() >= 12 {
		v.Period = "p.m."
	}
	return v
}
