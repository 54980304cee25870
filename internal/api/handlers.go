package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/untether/internal/agent"
	"github.com/goodtune/untether/internal/geofence"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/profile"
	"github.com/gorilla/mux"
)

// LoginRequest opens a session.
type LoginRequest struct {
	UserID string `json:"user_id"`
}

// ConsentRequest grants or withdraws tracking consent.
type ConsentRequest struct {
	Granted bool `json:"granted"`
}

// VisibilityRequest reports a foreground/background change.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// CompleteFocusRequest ends a focus session with an optional reflection.
type CompleteFocusRequest struct {
	Minutes    float64            `json:"minutes"`
	Reflection *ledger.Reflection `json:"reflection,omitempty"`
}

// LocationRequest is a position fix.
type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DailyLimitRequest sets the daily usage target.
type DailyLimitRequest struct {
	Minutes int `json:"minutes"`
}

// PersonaRequest selects the coaching persona.
type PersonaRequest struct {
	Style string `json:"style"`
	Voice string `json:"voice"`
}

// AssessmentRequest holds the self-assessment answers.
type AssessmentRequest struct {
	Answers map[string]string `json:"answers"`
}

// SpeechRequest is text to be rendered as audio.
type SpeechRequest struct {
	Text string `json:"text"`
}

// statusFor maps agent and ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, agent.ErrNoConsent):
		return http.StatusForbidden
	case errors.Is(err, agent.ErrFocusActive), errors.Is(err, agent.ErrNoFocus):
		return http.StatusConflict
	case errors.Is(err, agent.ErrUnknownApp):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrInvalidZone),
		errors.Is(err, ledger.ErrInvalidLimit),
		errors.Is(err, ledger.ErrEmptyAnswer):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg(msg)
		writeError(w, code, msg)
		return
	}
	writeError(w, code, err.Error())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Status(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Ledger().Snapshot())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	stats, err := s.agent.Login(r.Context(), req.UserID)
	if err != nil {
		s.fail(w, err, "Failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Logout(r.Context()); err != nil {
		s.fail(w, err, "Failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.agent.SetConsent(r.Context(), req.Granted); err != nil {
		s.fail(w, err, "Failed to update consent")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.CompleteOnboarding(r.Context()); err != nil {
		s.fail(w, err, "Failed to complete onboarding")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	s.agent.Activity()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if !decode(w, r, &req) {
		return
	}
	s.agent.SetVisible(req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	s.agent.Unload(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	focus, ok := s.agent.Focus()
	if !ok {
		writeError(w, http.StatusNotFound, "No focus session active")
		return
	}
	writeJSON(w, http.StatusOK, focus)
}

func (s *Server) handleStartFocus(w http.ResponseWriter, r *http.Request) {
	focus, err := s.agent.StartFocus()
	if err != nil {
		s.fail(w, err, "Failed to start focus session")
		return
	}
	writeJSON(w, http.StatusCreated, focus)
}

func (s *Server) handleCompleteFocus(w http.ResponseWriter, r *http.Request) {
	var req CompleteFocusRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	stats, err := s.agent.CompleteFocus(r.Context(), req.Minutes, req.Reflection)
	if err != nil {
		s.fail(w, err, "Failed to complete focus session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCancelFocus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.agent.CancelFocus(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to cancel focus session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReflectionQuestion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"question": s.agent.ReflectionQuestion(r.Context())})
}

func (s *Server) handleDismissSummary(w http.ResponseWriter, r *http.Request) {
	log, err := s.agent.DismissSummary(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to close daily summary")
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleSummaryInsight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"insight": s.agent.SummaryInsight(r.Context())})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps := s.agent.BlockedApps(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"apps":  apps,
		"count": len(apps),
	})
}

func (s *Server) handleReplaceApps(w http.ResponseWriter, r *http.Request) {
	var apps []profile.BlockableApp
	if !decode(w, r, &apps) {
		return
	}
	for _, app := range apps {
		if app.ID == "" || app.Name == "" {
			writeError(w, http.StatusBadRequest, "Every app needs an id and a name")
			return
		}
	}
	if err := s.agent.SetBlockedApps(r.Context(), apps); err != nil {
		s.fail(w, err, "Failed to save blocked apps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"apps":  apps,
		"count": len(apps),
	})
}

func (s *Server) handleToggleApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.agent.ToggleApp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err, "Failed to toggle app")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleCheckApp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.CheckApp(r.Context(), mux.Vars(r)["name"]))
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := s.agent.Zones()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

func (s *Server) handleReplaceZones(w http.ResponseWriter, r *http.Request) {
	var zones []geofence.Zone
	if !decode(w, r, &zones) {
		return
	}
	if err := s.agent.SetZones(r.Context(), zones); err != nil {
		s.fail(w, err, "Failed to save zones")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !decode(w, r, &req) {
		return
	}
	transition, err := s.agent.UpdateLocation(req.Lat, req.Lng)
	if err != nil {
		s.fail(w, err, "Failed to update location")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transition":    transition,
		"notifications": transition.Notifications(),
	})
}

func (s *Server) handleLocationDenied(w http.ResponseWriter, r *http.Request) {
	s.agent.LocationDenied()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddJournal(w http.ResponseWriter, r *http.Request) {
	var req ledger.Reflection
	if !decode(w, r, &req) {
		return
	}
	entry, err := s.agent.AddJournalEntry(req)
	if err != nil {
		s.fail(w, err, "Failed to add journal entry")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDailyLimit(w http.ResponseWriter, r *http.Request) {
	var req DailyLimitRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.agent.SetDailyLimit(req.Minutes); err != nil {
		s.fail(w, err, "Failed to set daily limit")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleWarningConfig(w http.ResponseWriter, r *http.Request) {
	var req ledger.WarningConfig
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.agent.SetWarningConfig(req); err != nil {
		s.fail(w, err, "Failed to set warning style")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	var req PersonaRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Style == "" {
		writeError(w, http.StatusBadRequest, "style is required")
		return
	}
	if err := s.agent.SetPersona(r.Context(), req.Style, req.Voice); err != nil {
		s.fail(w, err, "Failed to set persona")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.agent.TakeAssessment(r.Context(), req.Answers))
}

func (s *Server) handleRefreshInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tips": s.agent.RefreshInsights(r.Context())})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	audio, ok := s.agent.Speak(r.Context(), req.Text)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "Speech is unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
