package zclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := LoadZone(name)
	require.NoError(t, err)
	return loc
}

func TestLoadZone(t *testing.T) {
	_, err := LoadZone("")
	assert.Error(t, err)

	_, err = LoadZone("Local")
	assert.Error(t, err)

	_, err = LoadZone("Mars/Olympus_Mons")
	assert.Error(t, err)

	loc := mustZone(t, "America/Lima")
	assert.Equal(t, "America/Lima", loc.String())
}

func TestDayKeyDependsOnZone(t *testing.T) {
	instant := time.Date(2026, 1, 6, 3, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-01-06", DayKey(instant, time.UTC))
	assert.Equal(t, "2026-01-05", DayKey(instant, mustZone(t, "America/Lima")))
	assert.Equal(t, "2026-01-06", DayKey(instant, mustZone(t, "Asia/Tokyo")))
}

func TestIsTodayAndTomorrow(t *testing.T) {
	lima := mustZone(t, "America/Lima")
	now := time.Date(2026, 1, 6, 22, 0, 0, 0, lima)

	assert.True(t, IsToday(time.Date(2026, 1, 6, 8, 0, 0, 0, lima), now, lima))
	// 2026-01-07 02:00 UTC is still Jan 6 in Lima.
	assert.True(t, IsToday(time.Date(2026, 1, 7, 2, 0, 0, 0, time.UTC), now, lima))
	assert.False(t, IsToday(time.Date(2026, 1, 7, 8, 0, 0, 0, lima), now, lima))

	assert.True(t, IsTomorrow(time.Date(2026, 1, 7, 8, 0, 0, 0, lima), now, lima))
	assert.False(t, IsTomorrow(time.Date(2026, 1, 8, 8, 0, 0, 0, lima), now, lima))
}

func TestIsTomorrowAddsFixed24Hours(t *testing.T) {
	// 2026-03-08 is the US spring-forward day: it lasts 23 hours.
	ny := mustZone(t, "America/New_York")
	now := time.Date(2026, 3, 7, 23, 30, 0, 0, ny)

	// now+24h lands on 2026-03-09 00:30 local, so the 8th is not "tomorrow".
	assert.False(t, IsTomorrow(time.Date(2026, 3, 8, 12, 0, 0, 0, ny), now, ny))
	assert.True(t, IsTomorrow(time.Date(2026, 3, 9, 12, 0, 0, 0, ny), now, ny))
}

func TestIsHappeningAllDayHalfOpen(t *testing.T) {
	for _, name := range []string{"UTC", "America/Lima", "Pacific/Kiritimati", "Pacific/Pago_Pago"} {
		t.Run(name, func(t *testing.T) {
			loc := mustZone(t, name)
			start := time.Date(2026, 1, 6, 12, 0, 0, 0, loc)
			end := time.Date(2026, 1, 8, 12, 0, 0, 0, loc)

			at := func(day int) time.Time { return time.Date(2026, 1, day, 9, 0, 0, 0, loc) }

			assert.False(t, IsHappening(start, end, true, at(5), loc))
			assert.True(t, IsHappening(start, end, true, at(6), loc))
			assert.True(t, IsHappening(start, end, true, at(7), loc))
			assert.False(t, IsHappening(start, end, true, at(8), loc))
		})
	}
}

func TestIsHappeningTimedClosed(t *testing.T) {
	loc := mustZone(t, "Europe/Madrid")
	start := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	assert.True(t, IsHappening(start, end, false, start, loc))
	assert.True(t, IsHappening(start, end, false, end, loc))
	assert.True(t, IsHappening(start, end, false, start.Add(30*time.Minute), loc))
	assert.False(t, IsHappening(start, end, false, start.Add(-time.Nanosecond), loc))
	assert.False(t, IsHappening(start, end, false, end.Add(time.Nanosecond), loc))
}
