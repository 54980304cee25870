// Package agent wires the usage tracker, the ledger and the profile stores
// into a single session. It is the only writer of the stats aggregate.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/content"
	"github.com/goodtune/untether/internal/dailylog"
	"github.com/goodtune/untether/internal/geofence"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/policy"
	"github.com/goodtune/untether/internal/profile"
	"github.com/goodtune/untether/internal/profilesync"
	"github.com/goodtune/untether/internal/storage"
	"github.com/goodtune/untether/internal/usage"
	"github.com/rs/zerolog"
)

const (
	DefaultMergeInterval = 10 * time.Second
	DefaultFocusDuration = 25 * time.Minute
)

var (
	// ErrNotLoggedIn is returned for operations that need a session
	ErrNotLoggedIn = errors.New("no user signed in")

	// ErrFocusActive is returned when a focus session is already running
	ErrFocusActive = errors.New("focus session already active")

	// ErrNoFocus is returned when no focus session is running
	ErrNoFocus = errors.New("no focus session active")

	// ErrNoConsent is returned for location updates without consent
	ErrNoConsent = errors.New("tracking consent not granted")

	// ErrUnknownApp is returned when an app id is not in the catalogue
	ErrUnknownApp = errors.New("app not found")

	// ErrInvalidZone is returned for zones that cannot be monitored
	ErrInvalidZone = errors.New("invalid zone")
)

// Config holds agent settings.
type Config struct {
	Ledger        ledger.Options
	Tracking      usage.Config
	MergeInterval time.Duration
	FocusDuration time.Duration
}

// Deps are the collaborators the agent drives.
type Deps struct {
	Clock    clock.Clock
	Profiles *profile.Repository
	Sync     *profilesync.Gateway
	Content  *content.Client
	Policy   *policy.Engine
}

// FocusState describes the running focus session.
type FocusState struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Remaining time.Duration `json:"remaining"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Status is a point-in-time view of the session.
type Status struct {
	UserID         string            `json:"user_id,omitempty"`
	LoggedIn       bool              `json:"logged_in"`
	Consented      bool              `json:"consented"`
	Onboarded      bool              `json:"onboarded"`
	Tracking       bool              `json:"tracking"`
	SummaryPending bool              `json:"summary_pending"`
	Focus          *FocusState       `json:"focus,omitempty"`
	ActiveZones    []string          `json:"active_zones"`
	Theme          string            `json:"theme"`
	Sync           storage.SyncState `json:"sync"`
}

// Agent owns one device session.
type Agent struct {
	clock    clock.Clock
	config   Config
	profiles *profile.Repository
	sync     *profilesync.Gateway
	content  *content.Client
	policy   *policy.Engine
	ledger   *ledger.Ledger
	builder  *dailylog.Builder
	tracker  *usage.Tracker
	geo      *geofence.Monitor
	rollover *usage.RolloverScheduler
	logger   zerolog.Logger

	mu             sync.Mutex
	userID         string
	loggedIn       bool
	initialized    bool
	consented      bool
	summaryPending bool
	focusStart     time.Time
	focusActive    bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New loads the local profile and builds the session. Nothing runs until
// Start is called.
func New(ctx context.Context, deps Deps, config Config, logger zerolog.Logger) *Agent {
	if config.MergeInterval <= 0 {
		config.MergeInterval = DefaultMergeInterval
	}
	if config.FocusDuration <= 0 {
		config.FocusDuration = DefaultFocusDuration
	}

	a := &Agent{
		clock:    deps.Clock,
		config:   config,
		profiles: deps.Profiles,
		sync:     deps.Sync,
		content:  deps.Content,
		policy:   deps.Policy,
		builder:  dailylog.NewBuilder(config.Ledger.DailyLimit),
		tracker:  usage.NewTracker(deps.Clock, config.Tracking, logger),
		geo:      geofence.NewMonitor(deps.Profiles.LoadZones(ctx), logger),
		logger:   logger.With().Str("component", "agent").Logger(),
	}

	a.ledger = ledger.New(deps.Clock, deps.Profiles.LoadStats(ctx), config.Ledger, logger)
	a.ledger.Subscribe(a.persist)
	a.consented = deps.Profiles.Consent(ctx)
	a.rollover = usage.NewRolloverScheduler(deps.Clock, a.onDayBoundary, logger)

	// The aggregate may have been saved on an earlier day.
	a.ledger.RollOver(a.builder.CloseDay)
	return a
}

// Ledger exposes the aggregate owner for read access.
func (a *Agent) Ledger() *ledger.Ledger {
	return a.ledger
}

// Start launches the merge loop, the sync loop and the day rollover.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	ticker := a.clock.NewTicker(a.config.MergeInterval)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.mergeLoop(runCtx, ticker)
	}()
	go func() {
		defer a.wg.Done()
		a.sync.Run(runCtx)
	}()
	a.rollover.Start()

	a.logger.Info().Dur("merge_interval", a.config.MergeInterval).Msg("Agent started")
}

// Stop runs the unload safety net and stops every background task.
func (a *Agent) Stop(ctx context.Context) {
	a.Unload(ctx)

	a.mu.Lock()
	started := a.started
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	a.tracker.Close()
	if !started {
		return
	}
	cancel()
	a.wg.Wait()
	a.rollover.Stop()
	a.logger.Info().Msg("Agent stopped")
}

// Login opens a session for userID. A remote profile replaces the local one
// unless the local copy has unpushed changes. History is reconciled once and
// the daily summary is flagged if it has not been shown today.
func (a *Agent) Login(ctx context.Context, userID string) (ledger.UserStats, error) {
	if userID == "" {
		return ledger.UserStats{}, errors.New("user id is required")
	}

	a.merge()
	pending := a.sync.SetUser(ctx, userID)

	remote, err := a.sync.Pull(ctx)
	switch {
	case err != nil:
		a.logger.Warn().Err(err).Str("user", userID).Msg("Remote profile unavailable, continuing with local copy")
	case remote != nil && pending:
		a.logger.Info().Str("user", userID).Msg("Local profile has unpushed changes, keeping it")
	case remote != nil:
		a.ledger.Replace(*remote)
		a.logger.Info().Str("user", userID).Int("streak", remote.Streak).Msg("Remote profile restored")
	}

	a.ledger.RollOver(a.builder.CloseDay)
	a.ledger.Reconcile()
	summaryDue := a.ledger.MarkSummaryShown()
	if pending {
		a.sync.Schedule(ctx, a.ledger.Snapshot())
	}

	a.mu.Lock()
	a.userID = userID
	a.loggedIn = true
	a.initialized = true
	if summaryDue {
		a.summaryPending = true
	}
	a.updateGateLocked()
	a.mu.Unlock()

	a.logger.Info().Str("user", userID).Bool("summary_due", summaryDue).Msg("Session started")
	return a.ledger.Snapshot(), nil
}

// Logout ends the session after flushing tracked usage and the profile.
func (a *Agent) Logout(ctx context.Context) error {
	a.mu.Lock()
	if !a.loggedIn {
		a.mu.Unlock()
		return ErrNotLoggedIn
	}
	userID := a.userID
	a.loggedIn = false
	a.focusActive = false
	a.summaryPending = false
	a.updateGateLocked()
	a.mu.Unlock()

	a.merge()
	if err := a.sync.Flush(ctx); err != nil {
		a.logger.Warn().Err(err).Str("user", userID).Msg("Final push before logout failed")
	}
	a.sync.ClearUser()
	a.geo.PermissionDenied()

	a.mu.Lock()
	a.userID = ""
	a.mu.Unlock()

	a.logger.Info().Str("user", userID).Msg("Session ended")
	return nil
}

// SetConsent records or withdraws tracking consent.
func (a *Agent) SetConsent(ctx context.Context, granted bool) error {
	if err := a.profiles.SetConsent(ctx, granted); err != nil {
		return err
	}

	a.mu.Lock()
	a.consented = granted
	a.updateGateLocked()
	a.mu.Unlock()

	if !granted {
		a.geo.PermissionDenied()
		a.merge()
	}
	a.logger.Info().Bool("granted", granted).Msg("Consent updated")
	return nil
}

// CompleteOnboarding marks onboarding as finished.
func (a *Agent) CompleteOnboarding(ctx context.Context) error {
	return a.profiles.SetOnboardingComplete(ctx, true)
}

// Activity forwards a user input event to the sampler.
func (a *Agent) Activity() {
	a.tracker.Activity()
}

// SetVisible forwards a foreground or background change to the sampler.
func (a *Agent) SetVisible(visible bool) {
	a.tracker.SetVisible(visible)
}

// Status returns the session state.
func (a *Agent) Status(ctx context.Context) Status {
	stats := a.ledger.Snapshot()

	a.mu.Lock()
	st := Status{
		UserID:         a.userID,
		LoggedIn:       a.loggedIn,
		Consented:      a.consented,
		SummaryPending: a.summaryPending,
		Focus:          a.focusStateLocked(),
	}
	a.mu.Unlock()

	st.Onboarded = a.profiles.OnboardingComplete(ctx)
	st.Tracking = a.tracker.Enabled()
	st.ActiveZones = a.geo.ActiveNames()
	st.Theme = Theme(stats.Streak)
	st.Sync = a.sync.Status()
	return st
}

// DismissSummary closes the daily summary: today's log is written and the
// profile is pushed.
func (a *Agent) DismissSummary(ctx context.Context) (ledger.DailyLog, error) {
	a.mu.Lock()
	if !a.loggedIn {
		a.mu.Unlock()
		return ledger.DailyLog{}, ErrNotLoggedIn
	}
	a.summaryPending = false
	a.mu.Unlock()

	log := a.writeTodayLog()
	if err := a.sync.Flush(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("End-of-day push failed, will retry next window")
	}
	return log, nil
}

// SummaryInsight returns the headline for the daily summary.
func (a *Agent) SummaryInsight(ctx context.Context) string {
	stats := a.ledger.Snapshot()
	return a.content.Insight(ctx, content.SummaryFromStats(stats, a.ledger.Today()))
}

// Unload is the page-close safety net: tracked usage is merged, today's log
// is written and the profile is pushed.
func (a *Agent) Unload(ctx context.Context) {
	a.mu.Lock()
	loggedIn := a.loggedIn
	a.mu.Unlock()
	if !loggedIn {
		return
	}

	a.merge()
	a.writeTodayLog()
	if err := a.sync.Flush(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Unload push failed")
	}
}

func (a *Agent) writeTodayLog() ledger.DailyLog {
	a.merge()
	log := a.builder.Build(a.ledger.Snapshot(), a.ledger.Today())
	a.ledger.UpsertDailyLog(log)
	return log
}

func (a *Agent) mergeLoop(ctx context.Context, ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.merge()
		}
	}
}

// merge moves consumed tracking totals into the ledger.
func (a *Agent) merge() {
	totals := a.tracker.Accumulator().Consume()
	if totals.IsZero() {
		return
	}
	a.ledger.ApplyTracking(totals)
}

func (a *Agent) onDayBoundary(now time.Time) {
	// Tracked time belongs to the closing day, so it is merged before
	// RollOver resets the per-day counters. The merge may already create
	// the new day's empty history record.
	a.merge()
	if closed, ok := a.ledger.RollOver(a.builder.CloseDay); ok {
		a.logger.Info().Str("closed", closed).Time("at", now).Msg("Day closed")
	}

	a.mu.Lock()
	if a.loggedIn && a.ledger.MarkSummaryShown() {
		a.summaryPending = true
	}
	a.mu.Unlock()
}

// persist runs after every ledger change.
func (a *Agent) persist(stats ledger.UserStats) {
	ctx := context.Background()
	if err := a.profiles.SaveStats(ctx, stats); err != nil {
		a.logger.Error().Err(err).Msg("Failed to persist stats locally")
	}
	a.sync.Schedule(ctx, stats)
}

func (a *Agent) updateGateLocked() {
	a.tracker.Update(usage.Gate{
		LoggedIn:    a.loggedIn,
		Initialized: a.initialized,
		Consented:   a.consented,
		FocusActive: a.focusActive,
	})
}

// Theme returns the accent theme unlocked by a streak.
func Theme(streak int) string {
	switch {
	case streak >= 30:
		return "pink"
	case streak >= 14:
		return "green"
	case streak >= 7:
		return "purple"
	default:
		return "blue"
	}
}
