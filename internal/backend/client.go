// Package backend talks JSON over HTTP to the dashboard backend, which
// stores the shared configuration and proxies Home Assistant.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "ownclock/internal/log"
	"ownclock/internal/model"
)

// ErrNotConfigured means the backend has no Home Assistant connection (or
// no calendars) configured. Callers render a placeholder, not an error.
var ErrNotConfigured = errors.New("backend: not configured")

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("backend: %s %s: unexpected status %d", e.Method, e.Path, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client is a backend API client. Paths are relative to BaseURL, e.g.
// "http://localhost:8080/api".
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client with a 10 second request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// FetchConfig reads the shared configuration (GET /config).
func (c *Client) FetchConfig(ctx context.Context) (model.ConfigSnapshot, error) {
	var snap model.ConfigSnapshot
	resp, body, err := c.do(ctx, http.MethodGet, "/config", nil)
	if err != nil {
		return snap, err
	}
	if !isSuccess(resp.StatusCode) {
		return snap, statusError(http.MethodGet, "/config", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("backend: decode config: %w", err)
	}
	return snap.WithDefaults(), nil
}

// SaveConfig writes the shared configuration (POST /config). Any 2xx
// response is success.
func (c *Client) SaveConfig(ctx context.Context, s model.ConfigSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("backend: encode config: %w", err)
	}
	resp, body, err := c.do(ctx, http.MethodPost, "/config", payload)
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return statusError(http.MethodPost, "/config", resp.StatusCode, body)
	}
	appLog.Info("config saved to backend", "calendars", len(s.CalendarEntities), "timezone", s.Timezone)
	return nil
}

// FetchCalendar reads the merged calendar entries (GET /calendar).
//
// A 400, or any other 4xx without a body, yields ErrNotConfigured. A body
// that is valid JSON but not an array yields an empty list.
func (c *Client) FetchCalendar(ctx context.Context) ([]model.RawCalendarEvent, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/calendar", nil)
	if err != nil {
		return nil, err
	}
	if notConfigured(resp.StatusCode, body) {
		return nil, ErrNotConfigured
	}
	if !isSuccess(resp.StatusCode) {
		return nil, statusError(http.MethodGet, "/calendar", resp.StatusCode, body)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("backend: decode calendar: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		appLog.Warn("calendar payload is not a list; treating as empty")
		return []model.RawCalendarEvent{}, nil
	}

	var events []model.RawCalendarEvent
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, fmt.Errorf("backend: decode calendar: %w", err)
	}
	return events, nil
}

// WeatherState is the Home Assistant weather entity state (GET /weather).
type WeatherState struct {
	State      string            `json:"state"`
	Attributes WeatherAttributes `json:"attributes"`
}

// WeatherAttributes holds the attributes the dashboard shows. Pointers are
// nil when Home Assistant omits the attribute.
type WeatherAttributes struct {
	Temperature         *float64 `json:"temperature,omitempty"`
	ApparentTemperature *float64 `json:"apparent_temperature,omitempty"`
	Humidity            *float64 `json:"humidity,omitempty"`
	FriendlyName        string   `json:"friendly_name,omitempty"`
}

// FetchWeather reads the weather entity state. A 400 yields ErrNotConfigured.
func (c *Client) FetchWeather(ctx context.Context) (WeatherState, error) {
	var ws WeatherState
	resp, body, err := c.do(ctx, http.MethodGet, "/weather", nil)
	if err != nil {
		return ws, err
	}
	if notConfigured(resp.StatusCode, body) {
		return ws, ErrNotConfigured
	}
	if !isSuccess(resp.StatusCode) {
		return ws, statusError(http.MethodGet, "/weather", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &ws); err != nil {
		return ws, fmt.Errorf("backend: decode weather: %w", err)
	}
	return ws, nil
}

// BatteryState is the payload of GET /battery.
type BatteryState struct {
	Available bool `json:"available"`
	Percent   int  `json:"percent"`
	Charging  bool `json:"charging"`
}

// FetchBattery reads the host battery status.
func (c *Client) FetchBattery(ctx context.Context) (BatteryState, error) {
	var bs BatteryState
	resp, body, err := c.do(ctx, http.MethodGet, "/battery", nil)
	if err != nil {
		return bs, err
	}
	if !isSuccess(resp.StatusCode) {
		return bs, statusError(http.MethodGet, "/battery", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &bs); err != nil {
		return bs, fmt.Errorf("backend: decode battery: %w", err)
	}
	return bs, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("backend: %s %s: read body: %w", method, path, err)
	}
	return resp, body, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func notConfigured(code int, body []byte) bool {
	if code == http.StatusBadRequest {
		return true
	}
	return code >= 400 && code < 500 && len(bytes.TrimSpace(body)) == 0
}

// statusError extracts FastAPI-style {"detail": "..."} messages when present.
func statusError(method, path string, code int, body []byte) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	detail := ""
	if json.Unmarshal(body, &payload) == nil {
		detail = payload.Detail
	}
	return &StatusError{Method: method, Path: path, Code: code, Detail: detail}
}
