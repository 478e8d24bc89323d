package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"ownclock/internal/backend"
	appLog "ownclock/internal/log"
)

// WeatherSource is the part of the backend client the weather module uses.
type WeatherSource interface {
	FetchWeather(ctx context.Context) (backend.WeatherState, error)
}

type LinkStatus string

const (
	StatusPending       LinkStatus = "pending"
	StatusConnected     LinkStatus = "connected"
	StatusDisconnected  LinkStatus = "disconnected"
	StatusNotConfigured LinkStatus = "not_configured"
)

const (
	noTemperature = "--°"
	noHumidity    = "--%"
	msgConfigure  = "Configurar HA"
	msgNoData     = "Sin datos"
)

// Home Assistant weather conditions and their captions.
var conditionText = map[string]string{
	"clear-night":     "Despejado",
	"cloudy":          "Nublado",
	"fog":             "Neblina",
	"hail":            "Granizo",
	"lightning":       "Tormenta eléctrica",
	"lightning-rainy": "Tormenta con lluvia",
	"partlycloudy":    "Parcialmente nublado",
	"pouring":         "Lluvia intensa",
	"rainy":           "Lluvia",
	"snowy":           "Nieve",
	"snowy-rainy":     "Aguanieve",
	"sunny":           "Soleado",
	"windy":           "Ventoso",
	"windy-variant":   "Ventoso",
	"exceptional":     "Excepcional",
}

// WeatherView is what the weather panel shows.
type WeatherView struct {
	Status      LinkStatus `json:"status"`
	Condition   string     `json:"condition"`
	Caption     string     `json:"caption"`
	Temperature string     `json:"temperature"`
	FeelsLike   string     `json:"feels_like"`
	Humidity    string     `json:"humidity"`
	Place       string     `json:"place"`
	Message     string     `json:"message,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitzero"`
}

func placeholderWeather(status LinkStatus, msg string) WeatherView {
	return WeatherView{
		Status:      status,
		Caption:     msg,
		Temperature: noTemperature,
		FeelsLike:   noTemperature,
		Humidity:    noHumidity,
		Message:     msg,
	}
}

// Weather keeps the last weather reading.
type Weather struct {
	src WeatherSource

	mu   sync.RWMutex
	view WeatherView
}

// NewWeather builds the weather module; it shows "pending" until the first
// Refresh.
func NewWeather(src WeatherSource) *Weather {
	return &Weather{src: src, view: placeholderWeather(StatusPending, msgNoData)}
}

// Refresh fetches the weather entity. A backend without Home Assistant
// settings yields the "configure" placeholder. On any other failure the last
// reading stays visible, flagged as disconnected.
func (w *Weather) Refresh(ctx context.Context, now time.Time) WeatherView {
	ws, err := w.src.FetchWeather(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		w.view = placeholderWeather(StatusNotConfigured, msgConfigure)
	case err != nil:
		appLog.Error("weather refresh failed", err)
		if w.view.UpdatedAt.IsZero() {
			w.view = placeholderWeather(StatusDisconnected, err.Error())
		} else {
			w.view.Status = StatusDisconnected
			w.view.Message = err.Error()
		}
	default:
		w.view = weatherView(ws)
		w.view.UpdatedAt = now
		appLog.Debug("weather refreshed", "condition", ws.State, "temperature", w.view.Temperature)
	}
	return w.view
}

// View returns the last rendered weather panel.
func (w *Weather) View() WeatherView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.view
}

func weatherView(ws backend.WeatherState) WeatherView {
	caption, ok := conditionText[ws.State]
	if !ok {
		caption = ws.State
	}
	a := ws.Attributes
	return WeatherView{
		Status:      StatusConnected,
		Condition:   ws.State,
		Caption:     caption,
		Temperature: formatDegrees(a.Temperature),
		FeelsLike:   formatDegrees(a.ApparentTemperature),
		Humidity:    formatPercent(a.Humidity),
		Place:       a.FriendlyName,
	}
}

// formatDegrees rounds half up, like the web dashboard does.
func formatDegrees(v *float64) string {
	if v == nil {
		return noTemperature
	}
	return fmt.Sprintf("%d°", int(math.Floor(*v+0.5)))
}

func formatPercent(v *float64) string {
	if v == nil {
		return noHumidity
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + "%"
}
