package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ownclock/internal/config"
	"ownclock/internal/dashboard"
	appLog "ownclock/internal/log"
	"ownclock/internal/model"
	"ownclock/internal/watch"
	"ownclock/internal/zclock"
)

// maskedToken stands in for the Home Assistant token in responses. Posting
// it back keeps the stored token.
const maskedToken = "********"

const maxBodyBytes = 64 << 10

// Service is what the HTTP API exposes; *dashboard.Dashboard implements it.
type Service interface {
	State() dashboard.State
	Agenda() dashboard.CalendarView
	Config(ctx context.Context) model.ConfigSnapshot
	SaveConfig(ctx context.Context, s model.ConfigSnapshot) (model.ConfigSnapshot, error)
	Refresh(ctx context.Context)
}

// Server provides the local HTTP API the kiosk view polls.
type Server struct {
	cfg    *config.Config
	svc    Service
	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc Service) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// HTTPServer builds the *http.Server for cfg.Listen. Shutdown is left to the
// caller.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ownclock", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agenda", s.handleAgenda).Methods(http.MethodGet)
	s.router.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/api/config", s.handleSaveConfig).Methods(http.MethodPost)
	s.router.HandleFunc("/api/config", s.handlePatchConfig).Methods(http.MethodPatch)
	s.router.HandleFunc("/api/config/reset", s.handleResetConfig).Methods(http.MethodPost)
	// Manual refresh, the kiosk's "r" key.
	s.router.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.State())
}

func (s *Server) handleAgenda(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Agenda())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, maskToken(s.svc.Config(r.Context())))
}

// handleSaveConfig replaces the shared configuration.
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var in model.ConfigSnapshot
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.HAToken == maskedToken {
		in.HAToken = s.svc.Config(r.Context()).HAToken
	}
	s.save(w, r, in)
}

// handlePatchConfig updates only the fields present in the body, on top of
// the configuration as the backend has it now.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	current := s.svc.Config(r.Context())
	in := current
	in.CalendarEntities = append([]string(nil), current.CalendarEntities...)
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.HAToken == maskedToken {
		in.HAToken = current.HAToken
	}
	s.save(w, r, in)
}

// handleResetConfig restores the default configuration.
func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	s.save(w, r, model.ConfigSnapshot{}.WithDefaults())
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, in model.ConfigSnapshot) {
	if err := validate(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.svc.SaveConfig(r.Context(), in)
	switch {
	case errors.Is(err, watch.ErrStoredLocally):
		appLog.Warn("api config kept locally", "timezone", saved.Timezone, "clock_format", saved.ClockFormat)
		writeJSON(w, http.StatusAccepted, maskToken(saved))
	case err != nil:
		appLog.Error("api config save failed", err)
		writeError(w, http.StatusBadGateway, "failed to save config")
	default:
		appLog.Info("api config saved", "timezone", saved.Timezone, "clock_format", saved.ClockFormat)
		writeJSON(w, http.StatusOK, maskToken(saved))
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.svc.Refresh(r.Context())
	writeJSON(w, http.StatusOK, s.svc.State())
}

func validate(c model.ConfigSnapshot) error {
	if c.Timezone != "" {
		if _, err := zclock.LoadZone(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", c.Timezone)
		}
	}
	switch c.ClockFormat {
	case "", "12h", "24h":
	default:
		return fmt.Errorf("invalid clockFormat %q (want 12h or 24h)", c.ClockFormat)
	}
	if c.UpdateInterval < 0 {
		return errors.New("updateInterval must not be negative")
	}
	return nil
}

func maskToken(c model.ConfigSnapshot) model.ConfigSnapshot {
	if c.HAToken != "" {
		c.HAToken = maskedToken
	}
	return c
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
