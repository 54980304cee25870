package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/untether/internal/agent"
	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/content"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/policy"
	"github.com/goodtune/untether/internal/profile"
	"github.com/goodtune/untether/internal/profilesync"
	"github.com/goodtune/untether/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	server  *Server
	clock   *clock.Fake
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	local, err := bolt.Open(filepath.Join(t.TempDir(), "untether.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	clk := clock.NewFake(time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local))
	logger := zerolog.Nop()

	writer, err := content.New(content.Config{}, clk, logger)
	require.NoError(t, err)
	engine, err := policy.NewEngine("", clk, logger)
	require.NoError(t, err)

	a := agent.New(ctx, agent.Deps{
		Clock:    clk,
		Profiles: profile.NewRepository(local.Values(), ledger.DefaultDailyLimit, logger),
		Sync:     profilesync.NewGateway(nil, local.SyncState(), clk, profilesync.Config{}, logger),
		Content:  writer,
		Policy:   engine,
	}, agent.Config{Ledger: ledger.DefaultOptions()}, logger)
	t.Cleanup(func() { a.Stop(context.Background()) })

	s := NewServer(Config{ListenAddr: "127.0.0.1:0"}, a, logger)
	return &testAPI{server: s, clock: clk, handler: s.Handler()}
}

func (ta *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ta *testAPI) login(t *testing.T) {
	t.Helper()
	rec := ta.do(t, http.MethodPut, "/api/v1/consent", ConsentRequest{Granted: true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "healthy", decodeBody[map[string]string](t, rec)["status"])
}

func TestLoginAndStatus(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[agent.Status](t, rec).LoggedIn)

	ta.login(t)

	st := decodeBody[agent.Status](t, ta.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.True(t, st.LoggedIn)
	assert.True(t, st.Consented)
	assert.True(t, st.Tracking)
	assert.Equal(t, "user-1", st.UserID)
	assert.Equal(t, "blue", st.Theme)

	rec = ta.do(t, http.MethodPost, "/api/v1/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/v1/session/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, agent.ErrNotLoggedIn.Error(), decodeBody[ErrorResponse](t, rec).Message)
}

func TestLoginValidation(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", bytes.NewBufferString("{"))
	out := httptest.NewRecorder()
	ta.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	assert.Equal(t, "Invalid request body", decodeBody[ErrorResponse](t, out).Message)
}

func TestFocusLifecycle(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/focus/start", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ta.login(t)

	rec = ta.do(t, http.MethodPost, "/api/v1/focus/start", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, agent.DefaultFocusDuration, decodeBody[agent.FocusState](t, rec).Duration)

	rec = ta.do(t, http.MethodPost, "/api/v1/focus/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ta.clock.Set(ta.clock.Now().Add(25 * time.Minute))
	rec = ta.do(t, http.MethodGet, "/api/v1/focus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Duration(0), decodeBody[agent.FocusState](t, rec).Remaining)

	rec = ta.do(t, http.MethodPost, "/api/v1/focus/complete", CompleteFocusRequest{
		Minutes:    25,
		Reflection: &ledger.Reflection{Question: "Q?", Answer: "Read a book"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decodeBody[ledger.UserStats](t, rec)
	assert.Equal(t, 1, stats.Streak)
	assert.Equal(t, 25.0, stats.TotalTimeSaved)
	require.Len(t, stats.Journal, 1)
	assert.Equal(t, "Read a book", stats.Journal[0].Answer)

	rec = ta.do(t, http.MethodGet, "/api/v1/focus", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/v1/focus/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompleteFocusWithoutBody(t *testing.T) {
	ta := newTestAPI(t)
	ta.login(t)

	require.Equal(t, http.StatusCreated, ta.do(t, http.MethodPost, "/api/v1/focus/start", nil).Code)
	ta.clock.Set(ta.clock.Now().Add(90 * time.Second))

	rec := ta.do(t, http.MethodPost, "/api/v1/focus/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, decodeBody[ledger.UserStats](t, rec).TotalTimeSaved)
}

func TestDismissSummary(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/summary/dismiss", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ta.login(t)
	rec = ta.do(t, http.MethodPost, "/api/v1/summary/dismiss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	log := decodeBody[ledger.DailyLog](t, rec)
	assert.Equal(t, "2025-03-10", log.Date)

	stats := decodeBody[ledger.UserStats](t, ta.do(t, http.MethodGet, "/api/v1/stats", nil))
	require.Len(t, stats.DailyLogs, 1)

	rec = ta.do(t, http.MethodGet, "/api/v1/summary/insight", nil)
	assert.Equal(t, content.FallbackInsight, decodeBody[map[string]string](t, rec)["insight"])
}

func TestAppsAndCheck(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Apps  []profile.BlockableApp `json:"apps"`
		Count int                    `json:"count"`
	}](t, rec)
	assert.Equal(t, len(profile.DefaultBlockedApps()), list.Count)

	rec = ta.do(t, http.MethodPost, "/api/v1/apps/3/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[profile.BlockableApp](t, rec).Blocked)

	rec = ta.do(t, http.MethodPost, "/api/v1/apps/missing/toggle", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/check/Calculator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[agent.BlockCheck](t, rec)
	assert.Equal(t, policy.ActionAllow, check.Decision.Action)
	assert.Empty(t, check.Message)

	rec = ta.do(t, http.MethodPut, "/api/v1/apps", []profile.BlockableApp{{Name: "nameless"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPut, "/api/v1/apps", []profile.BlockableApp{{ID: "x", Name: "Solitaire", Blocked: true}})
	require.Equal(t, http.StatusOK, rec.Code)

	ta.login(t)
	require.Equal(t, http.StatusCreated, ta.do(t, http.MethodPost, "/api/v1/focus/start", nil).Code)
	check = decodeBody[agent.BlockCheck](t, ta.do(t, http.MethodGet, "/api/v1/check/solitaire", nil))
	assert.Equal(t, policy.ActionBlock, check.Decision.Action)
	assert.Equal(t, "Solitaire", check.App.Name)
	assert.Equal(t, content.FallbackWarning, check.Message)
}

func TestZonesAndLocation(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPut, "/api/v1/zones", []map[string]interface{}{
		{"id": "z", "name": "Bad", "address": "0, 0", "radius": 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPut, "/api/v1/zones", []map[string]interface{}{
		{"id": "z", "name": "Library", "address": "51.5, -0.12", "radius": 100},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodPost, "/api/v1/location", LocationRequest{Lat: 51.5, Lng: -0.12})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ta.login(t)
	rec = ta.do(t, http.MethodPost, "/api/v1/location", LocationRequest{Lat: 51.5, Lng: -0.12})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Library")

	st := decodeBody[agent.Status](t, ta.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, []string{"Library"}, st.ActiveZones)

	assert.Equal(t, http.StatusNoContent, ta.do(t, http.MethodPost, "/api/v1/location/denied", nil).Code)
	st = decodeBody[agent.Status](t, ta.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.Empty(t, st.ActiveZones)

	require.Equal(t, http.StatusOK, ta.do(t, http.MethodPut, "/api/v1/consent", ConsentRequest{Granted: false}).Code)
	rec = ta.do(t, http.MethodPost, "/api/v1/location", LocationRequest{Lat: 51.5, Lng: -0.12})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettings(t *testing.T) {
	ta := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPut, "/api/v1/settings/daily-limit", DailyLimitRequest{Minutes: 0}).Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPut, "/api/v1/settings/daily-limit", DailyLimitRequest{Minutes: 90}).Code)

	bad := ledger.WarningConfig{Intensity: 150, Layout: ledger.LayoutMinimal, TextScale: 1}
	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPut, "/api/v1/settings/warning", bad).Code)
	good := ledger.WarningConfig{Intensity: 20, Color: "#fff", Layout: ledger.LayoutAggressive, TextScale: 1.5}
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPut, "/api/v1/settings/warning", good).Code)

	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPut, "/api/v1/settings/persona", PersonaRequest{}).Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPut, "/api/v1/settings/persona", PersonaRequest{Style: "The Coach", Voice: "Puck"}).Code)

	stats := decodeBody[ledger.UserStats](t, ta.do(t, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, 90, stats.DailyLimit)
	require.NotNil(t, stats.WarningConfig)
	assert.Equal(t, good, *stats.WarningConfig)
	assert.Equal(t, "The Coach", stats.AIPersona)

	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPost, "/api/v1/journal", ledger.Reflection{Question: "Q"}).Code)
	rec := ta.do(t, http.MethodPost, "/api/v1/journal", ledger.Reflection{Question: "Q", Answer: "A"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decodeBody[ledger.ReflectionEntry](t, rec).ID)
}

func TestCoaching(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/assessment", AssessmentRequest{Answers: map[string]string{"q1": "often"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.FallbackAssessment().Score, decodeBody[ledger.Assessment](t, rec).Score)

	rec = ta.do(t, http.MethodPost, "/api/v1/insights/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.FallbackTips, decodeBody[map[string][]string](t, rec)["tips"])

	rec = ta.do(t, http.MethodGet, "/api/v1/focus/question", nil)
	assert.Equal(t, content.FallbackReflection, decodeBody[map[string]string](t, rec)["question"])

	rec = ta.do(t, http.MethodPost, "/api/v1/speech", SpeechRequest{Text: "breathe"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = ta.do(t, http.MethodPost, "/api/v1/speech", SpeechRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalsAndRouting(t *testing.T) {
	ta := newTestAPI(t)

	assert.Equal(t, http.StatusNoContent, ta.do(t, http.MethodPost, "/api/v1/activity", nil).Code)
	assert.Equal(t, http.StatusNoContent, ta.do(t, http.MethodPut, "/api/v1/visibility", VisibilityRequest{Visible: false}).Code)
	assert.Equal(t, http.StatusNoContent, ta.do(t, http.MethodPost, "/api/v1/unload", nil).Code)
	assert.Equal(t, http.StatusNoContent, ta.do(t, http.MethodPost, "/api/v1/onboarding/complete", nil).Code)

	st := decodeBody[agent.Status](t, ta.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.True(t, st.Onboarded)

	assert.Equal(t, http.StatusNotFound, ta.do(t, http.MethodGet, "/api/v1/nope", nil).Code)
}
