package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/config"
	"github.com/goodtune/untether/internal/content"
	"github.com/goodtune/untether/internal/geofence"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/policy"
	"github.com/goodtune/untether/internal/profile"
	"github.com/goodtune/untether/internal/profilesync"
	"github.com/goodtune/untether/internal/storage"
	"github.com/goodtune/untether/internal/storage/bolt"
	"github.com/goodtune/untether/internal/storage/redis"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2025, 3, 10, 14, 30, 0, 0, time.Local)

type harness struct {
	agent  *Agent
	clock  *clock.Fake
	repo   *profile.Repository
	remote *redis.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	local, err := bolt.Open(filepath.Join(t.TempDir(), "untether.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	mr := miniredis.RunT(t)
	remote, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		DialTimeout:  "1s",
		ReadTimeout:  "1s",
		WriteTimeout: "1s",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	clk := clock.NewFake(day0)
	logger := zerolog.Nop()

	repo := profile.NewRepository(local.Values(), ledger.DefaultDailyLimit, logger)
	gateway := profilesync.NewGateway(remote, local.SyncState(), clk, profilesync.Config{}, logger)
	writer, err := content.New(content.Config{}, clk, logger)
	require.NoError(t, err)
	engine, err := policy.NewEngine("", clk, logger)
	require.NoError(t, err)

	a := New(ctx, Deps{
		Clock:    clk,
		Profiles: repo,
		Sync:     gateway,
		Content:  writer,
		Policy:   engine,
	}, Config{Ledger: ledger.DefaultOptions()}, logger)
	t.Cleanup(func() { a.Stop(context.Background()) })

	return &harness{agent: a, clock: clk, repo: repo, remote: remote}
}

func (h *harness) remoteStats(t *testing.T, userID string) ledger.UserStats {
	t.Helper()
	p, err := h.remote.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	var s ledger.UserStats
	require.NoError(t, json.Unmarshal(p.Stats, &s))
	return s
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.agent.SetConsent(ctx, true))
	_, err := h.agent.Login(ctx, "user-1")
	require.NoError(t, err)
}

func TestLoginFreshProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stats, err := h.agent.Login(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Streak)
	assert.Equal(t, day0.Format(ledger.DateLayout), stats.LastSummaryDate)

	st := h.agent.Status(ctx)
	assert.True(t, st.LoggedIn)
	assert.True(t, st.SummaryPending)
	assert.False(t, st.Tracking, "no consent yet")
	assert.Equal(t, "blue", st.Theme)

	require.NoError(t, h.agent.SetConsent(ctx, true))
	assert.True(t, h.agent.Status(ctx).Tracking)
}

func TestLoginRestoresRemoteProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	remote := ledger.Fresh(150)
	remote.Streak = 8
	remote.LastFocusDate = day0.AddDate(0, 0, -1).Format(ledger.DateLayout)
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	require.NoError(t, h.remote.PutProfile(ctx, storage.Profile{UserID: "user-1", Stats: data}))

	stats, err := h.agent.Login(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Streak)
	assert.Equal(t, 150, stats.DailyLimit)
	assert.Len(t, stats.StreakHistory, 8, "reconcile backfills the streak")
	assert.Equal(t, "purple", h.agent.Status(ctx).Theme)

	// Persisted locally as well.
	assert.Equal(t, 8, h.repo.LoadStats(ctx).Streak)
}

func TestTrackingMergesIntoLedger(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.clock.Advance(30 * time.Second)
	h.agent.tracker.Sampler().Tick(h.clock.Now())
	h.agent.merge()

	stats := h.agent.Ledger().Snapshot()
	assert.InDelta(t, 0.5, stats.TodayUsage, 1e-9)
	assert.InDelta(t, 0.5, stats.ScreenTime, 1e-9)
	_, ok := stats.Day(day0.Format(ledger.DateLayout))
	assert.True(t, ok, "today has a history record")

	// The accumulator is drained by the merge.
	h.agent.merge()
	assert.InDelta(t, 0.5, h.agent.Ledger().Snapshot().TodayUsage, 1e-9)
}

func TestFocusSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	_, err := h.agent.StartFocus()
	require.NoError(t, err)
	assert.False(t, h.agent.Status(ctx).Tracking, "tracking pauses during focus")

	_, err = h.agent.StartFocus()
	assert.ErrorIs(t, err, ErrFocusActive)

	h.clock.Advance(10 * time.Minute)
	st, ok := h.agent.Focus()
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, st.Remaining)

	h.clock.Advance(15*time.Minute + 20*time.Second)
	stats, err := h.agent.CompleteFocus(ctx, 0, &ledger.Reflection{
		Question: content.FallbackReflection,
		Answer:   "The birds outside",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Streak)
	assert.Equal(t, 25.0, stats.TotalTimeSaved)
	require.Len(t, stats.Journal, 1)
	assert.Equal(t, "The birds outside", stats.Journal[0].Answer)
	assert.True(t, h.agent.Status(ctx).Tracking, "tracking resumes")

	_, err = h.agent.CompleteFocus(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrNoFocus)
}

func TestCompleteFocusCreditsAtLeastOneMinute(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, err := h.agent.StartFocus()
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)

	stats, err := h.agent.CompleteFocus(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats.TotalTimeSaved)
}

func TestCancelFocus(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	_, err := h.agent.StartFocus()
	require.NoError(t, err)
	h.clock.Advance(40 * time.Second)
	stats, err := h.agent.CancelFocus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Streak)
	assert.Equal(t, 0.0, stats.TotalTimeSaved)

	_, err = h.agent.StartFocus()
	require.NoError(t, err)
	h.clock.Advance(3*time.Minute + 30*time.Second)
	stats, err = h.agent.CancelFocus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Streak)
	assert.Equal(t, 3.0, stats.TotalTimeSaved)
	assert.Empty(t, stats.Journal)
}

func TestFocusRequiresLogin(t *testing.T) {
	h := newHarness(t)
	_, err := h.agent.StartFocus()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestDismissSummaryWritesLogAndPushes(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	_, err := h.agent.StartFocus()
	require.NoError(t, err)
	h.clock.Advance(25 * time.Minute)
	_, err = h.agent.CompleteFocus(ctx, 0, nil)
	require.NoError(t, err)

	log, err := h.agent.DismissSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, day0.Format(ledger.DateLayout), log.Date)
	assert.Equal(t, 25, log.TimeSavedMinutes)
	assert.Equal(t, 1, log.FocusSessions)
	assert.False(t, h.agent.Status(ctx).SummaryPending)

	// Dismissing twice keeps one log for the day.
	_, err = h.agent.DismissSummary(ctx)
	require.NoError(t, err)

	remote := h.remoteStats(t, "user-1")
	require.Len(t, remote.DailyLogs, 1)
	assert.Equal(t, 1, remote.Streak)
}

func TestCheckApp(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	check := h.agent.CheckApp(ctx, "youtube")
	assert.Equal(t, policy.ActionAllow, check.Decision.Action)
	assert.Equal(t, "YouTube", check.App.Name)
	assert.Empty(t, check.Message)

	_, err := h.agent.StartFocus()
	require.NoError(t, err)
	check = h.agent.CheckApp(ctx, "TikTok")
	assert.Equal(t, policy.ActionBlock, check.Decision.Action)
	assert.Equal(t, "focus_session", check.Decision.Reason)
	assert.Equal(t, content.FallbackWarning, check.Message)
	assert.Equal(t, ledger.LayoutImmersive, check.Warning.Layout)

	check = h.agent.CheckApp(ctx, "unknown.example")
	assert.Equal(t, policy.ActionAllow, check.Decision.Action)
}

func TestCheckAppInsideZone(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	tr, err := h.agent.UpdateLocation(37.7749, -122.4194)
	require.NoError(t, err)
	require.Len(t, tr.Entered, 1)
	assert.Equal(t, []string{"Sanctuary"}, h.agent.Status(ctx).ActiveZones)

	check := h.agent.CheckApp(ctx, "Instagram")
	assert.Equal(t, "focus_zone", check.Decision.Reason)

	h.agent.LocationDenied()
	check = h.agent.CheckApp(ctx, "Instagram")
	assert.Equal(t, policy.ActionAllow, check.Decision.Action)
}

func TestLocationRequiresSessionAndConsent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.agent.UpdateLocation(37.7749, -122.4194)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = h.agent.Login(ctx, "user-1")
	require.NoError(t, err)
	_, err = h.agent.UpdateLocation(37.7749, -122.4194)
	assert.ErrorIs(t, err, ErrNoConsent)
}

func TestSettings(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	require.NoError(t, h.agent.SetDailyLimit(90))
	assert.Error(t, h.agent.SetDailyLimit(0))
	assert.Equal(t, 90, h.repo.LoadStats(ctx).DailyLimit)

	wc := ledger.WarningConfig{Intensity: 50, Color: "#fff", Layout: ledger.LayoutAggressive, TextScale: 1.5}
	require.NoError(t, h.agent.SetWarningConfig(wc))
	wc.Layout = "loud"
	assert.Error(t, h.agent.SetWarningConfig(wc))

	require.NoError(t, h.agent.SetPersona(ctx, "The Coach", "Puck"))
	assert.Equal(t, "The Coach", h.agent.Ledger().Snapshot().AIPersona)
	assert.Equal(t, "Puck", h.repo.PersonaVoice(ctx))

	app, err := h.agent.ToggleApp(ctx, "3")
	require.NoError(t, err)
	assert.True(t, app.Blocked)
	assert.True(t, h.agent.BlockedApps(ctx)[2].Blocked)
	_, err = h.agent.ToggleApp(ctx, "nope")
	assert.Error(t, err)

	zones := []geofence.Zone{{ID: "9", Name: "Library", Address: "51.5, -0.1", Radius: 50, Active: true}}
	require.NoError(t, h.agent.SetZones(ctx, zones))
	assert.Equal(t, zones, h.agent.Zones())
	assert.Equal(t, zones, h.repo.LoadZones(ctx))
	assert.Error(t, h.agent.SetZones(ctx, []geofence.Zone{{Name: "bad"}}))

	a := h.agent.TakeAssessment(ctx, map[string]string{"q1": "often"})
	assert.Equal(t, 65, a.Score)
	require.NotNil(t, h.agent.Ledger().Snapshot().Assessment)

	tips := h.agent.RefreshInsights(ctx)
	assert.Equal(t, content.FallbackTips, tips)
	assert.Equal(t, content.FallbackTips, h.agent.Ledger().Snapshot().DailyInsights)

	entry, err := h.agent.AddJournalEntry(ledger.Reflection{Question: "q", Answer: "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
}

func TestDayBoundaryClosesPreviousDay(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	h.clock.Advance(2 * time.Minute)
	h.agent.tracker.Sampler().Tick(h.clock.Now())
	h.agent.merge()
	_, err := h.agent.DismissSummary(ctx)
	require.NoError(t, err)

	next := time.Date(2025, 3, 11, 0, 0, 0, 0, time.Local)
	h.clock.Set(next)
	h.agent.onDayBoundary(next)

	stats := h.agent.Ledger().Snapshot()
	assert.Equal(t, next.Format(ledger.DateLayout), stats.UsageDate)
	assert.Equal(t, 0.0, stats.TodayUsage)
	log, ok := stats.Log(day0.Format(ledger.DateLayout))
	require.True(t, ok)
	assert.GreaterOrEqual(t, log.ScreenTimeMinutes, 2)
	assert.True(t, h.agent.Status(ctx).SummaryPending)
}

func TestDayBoundaryMergesPendingTrackingIntoClosingDay(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.clock.Advance(3 * time.Minute)
	h.agent.tracker.Sampler().Tick(h.clock.Now())

	next := time.Date(2025, 3, 11, 0, 0, 0, 0, time.Local)
	h.clock.Set(next)
	h.agent.onDayBoundary(next)

	stats := h.agent.Ledger().Snapshot()
	assert.Equal(t, 0.0, stats.TodayUsage)
	assert.Equal(t, 0.0, stats.ScreenTime)
	log, ok := stats.Log(day0.Format(ledger.DateLayout))
	require.True(t, ok)
	assert.GreaterOrEqual(t, log.ScreenTimeMinutes, 3)
}

func TestLogoutFlushes(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	require.NoError(t, h.agent.SetDailyLimit(45))
	require.NoError(t, h.agent.Logout(ctx))
	assert.Equal(t, 45, h.remoteStats(t, "user-1").DailyLimit)

	st := h.agent.Status(ctx)
	assert.False(t, st.LoggedIn)
	assert.False(t, st.Tracking)
	assert.ErrorIs(t, h.agent.Logout(ctx), ErrNotLoggedIn)
	_, err := h.agent.DismissSummary(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTheme(t *testing.T) {
	assert.Equal(t, "blue", Theme(0))
	assert.Equal(t, "purple", Theme(7))
	assert.Equal(t, "green", Theme(14))
	assert.Equal(t, "pink", Theme(30))
}
