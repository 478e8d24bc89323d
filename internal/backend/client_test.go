package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownclock/internal/model"
)

func TestFetchConfigAppliesDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/config", r.URL.Path)
		_, _ = w.Write([]byte(`{"haUrl":"http://ha:8123","calendarEntities":["calendar.personal"]}`))
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL + "/api/").FetchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://ha:8123", snap.HAURL)
	assert.Equal(t, []string{"calendar.personal"}, snap.CalendarEntities)
	assert.Equal(t, model.DefaultTimezone, snap.Timezone)
	assert.Equal(t, model.DefaultUpdateInterval, snap.UpdateInterval)
}

func TestFetchConfigMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"haUrl":`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchConfig(context.Background())
	assert.Error(t, err)
}

func TestSaveConfigPostsJSON(t *testing.T) {
	var got model.ConfigSnapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).SaveConfig(context.Background(), model.ConfigSnapshot{Timezone: "Asia/Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
}

func TestSaveConfigServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"Error guardando configuración"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).SaveConfig(context.Background(), model.ConfigSnapshot{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "Error guardando configuración", se.Detail)
}

func TestFetchCalendar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"summary":"Standup","start":{"dateTime":"2026-01-06T09:00:00-05:00"},"end":{"dateTime":"2026-01-06T09:15:00-05:00"},"calendar":"Trabajo","calendar_entity":"calendar.trabajo"},
			{"summary":"Feriado","start":{"date":"2026-01-07"},"end":{"date":"2026-01-08"}}
		]`))
	}))
	defer srv.Close()

	events, err := NewClient(srv.URL).FetchCalendar(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2026-01-06T09:00:00-05:00", events[0].Start.DateTime)
	assert.Equal(t, "calendar.trabajo", events[0].CalendarEntity)
	assert.Equal(t, "2026-01-07", events[1].Start.Date)
}

func TestFetchCalendarNotConfigured(t *testing.T) {
	cases := map[string]struct {
		code int
		body string
	}{
		"400 with detail": {http.StatusBadRequest, `{"detail":"Calendarios no configurados"}`},
		"404 empty":       {http.StatusNotFound, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).FetchCalendar(context.Background())
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestFetchCalendarErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"No se puede conectar a Home Assistant"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchCalendar(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotConfigured))
}

func TestFetchCalendarNonList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	events, err := NewClient(srv.URL).FetchCalendar(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetchWeatherAndBattery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/weather", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"sunny","attributes":{"temperature":21.4,"humidity":60,"friendly_name":"Casa"}}`))
	})
	mux.HandleFunc("/battery", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"available":true,"percent":42,"charging":false}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ws, err := c.FetchWeather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sunny", ws.State)
	require.NotNil(t, ws.Attributes.Temperature)
	assert.InDelta(t, 21.4, *ws.Attributes.Temperature, 0.001)
	assert.Nil(t, ws.Attributes.ApparentTemperature)

	bs, err := c.FetchBattery(context.Background())
	require.NoError(t, err)
	assert.True(t, bs.Available)
	assert.Equal(t, 42, bs.Percent)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).FetchConfig(context.Background())
	assert.Error(t, err)
}
