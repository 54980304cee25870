// Package api exposes the agent to the front end as a local JSON API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/untether/internal/agent"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the local HTTP API.
type Server struct {
	agent    *agent.Agent
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// NewServer creates the API server for a.
func NewServer(cfg Config, a *agent.Agent, logger zerolog.Logger) *Server {
	s := &Server{
		agent:  a,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Session
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/stats", s.handleStats).Methods("GET")
	v1.HandleFunc("/session/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/session/logout", s.handleLogout).Methods("POST")
	v1.HandleFunc("/consent", s.handleConsent).Methods("PUT")
	v1.HandleFunc("/onboarding/complete", s.handleOnboarding).Methods("POST")

	// Ambient signals
	v1.HandleFunc("/activity", s.handleActivity).Methods("POST")
	v1.HandleFunc("/visibility", s.handleVisibility).Methods("PUT")
	v1.HandleFunc("/unload", s.handleUnload).Methods("POST")

	// Focus sessions
	v1.HandleFunc("/focus", s.handleFocus).Methods("GET")
	v1.HandleFunc("/focus/start", s.handleStartFocus).Methods("POST")
	v1.HandleFunc("/focus/complete", s.handleCompleteFocus).Methods("POST")
	v1.HandleFunc("/focus/cancel", s.handleCancelFocus).Methods("POST")
	v1.HandleFunc("/focus/question", s.handleReflectionQuestion).Methods("GET")

	// Daily summary
	v1.HandleFunc("/summary/dismiss", s.handleDismissSummary).Methods("POST")
	v1.HandleFunc("/summary/insight", s.handleSummaryInsight).Methods("GET")

	// Blocking
	v1.HandleFunc("/apps", s.handleListApps).Methods("GET")
	v1.HandleFunc("/apps", s.handleReplaceApps).Methods("PUT")
	v1.HandleFunc("/apps/{id}/toggle", s.handleToggleApp).Methods("POST")
	v1.HandleFunc("/check/{name}", s.handleCheckApp).Methods("GET")

	// Focus zones
	v1.HandleFunc("/zones", s.handleListZones).Methods("GET")
	v1.HandleFunc("/zones", s.handleReplaceZones).Methods("PUT")
	v1.HandleFunc("/location", s.handleLocation).Methods("POST")
	v1.HandleFunc("/location/denied", s.handleLocationDenied).Methods("POST")

	// Journal, settings and coaching
	v1.HandleFunc("/journal", s.handleAddJournal).Methods("POST")
	v1.HandleFunc("/settings/daily-limit", s.handleDailyLimit).Methods("PUT")
	v1.HandleFunc("/settings/warning", s.handleWarningConfig).Methods("PUT")
	v1.HandleFunc("/settings/persona", s.handlePersona).Methods("PUT")
	v1.HandleFunc("/assessment", s.handleAssessment).Methods("POST")
	v1.HandleFunc("/insights/refresh", s.handleRefreshInsights).Methods("POST")
	v1.HandleFunc("/speech", s.handleSpeech).Methods("POST")
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves the API in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// LoggingMiddleware logs each request with its status and duration.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// decode reads a JSON request body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
