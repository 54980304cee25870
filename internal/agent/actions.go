package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/goodtune/untether/internal/content"
	"github.com/goodtune/untether/internal/geofence"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/policy"
	"github.com/goodtune/untether/internal/profile"
)

// BlockCheck is the answer to "may this app be opened now?".
type BlockCheck struct {
	App      profile.BlockableApp `json:"app"`
	Decision policy.Decision      `json:"decision"`
	Message  string               `json:"message,omitempty"`
	Warning  ledger.WarningConfig `json:"warning"`
}

// CheckApp evaluates the block policy for an app or site by name. Apps not
// in the catalogue are treated as unblocked.
func (a *Agent) CheckApp(ctx context.Context, name string) BlockCheck {
	app := a.findApp(ctx, name)
	stats := a.ledger.Snapshot()

	warning := ledger.DefaultWarningConfig()
	if stats.WarningConfig != nil {
		warning = *stats.WarningConfig
	}

	a.mu.Lock()
	focus := a.focusActive
	a.mu.Unlock()

	decision := a.policy.Evaluate(ctx, policy.Input{
		App:         policy.App{Name: app.Name, Category: app.Category, Blocked: app.Blocked},
		FocusActive: focus,
		ActiveZones: a.geo.ActiveNames(),
		TodayUsage:  stats.TodayUsage,
		DailyLimit:  stats.DailyLimit,
		Streak:      stats.Streak,
		Layout:      warning.Layout,
	})

	check := BlockCheck{App: app, Decision: decision, Warning: warning}
	if decision.Interrupts() {
		usage := fmt.Sprintf("%d minutes today", int(stats.TodayUsage))
		if focus {
			usage = "a focus session"
		}
		check.Message = a.content.WarningMessage(ctx, app.Name, usage, a.profiles.WarningStyle(ctx))
	}
	return check
}

// Speak renders text with the user's persona voice.
func (a *Agent) Speak(ctx context.Context, text string) ([]byte, bool) {
	return a.content.Speak(ctx, text, a.profiles.PersonaVoice(ctx))
}

func (a *Agent) findApp(ctx context.Context, name string) profile.BlockableApp {
	for _, app := range a.profiles.LoadBlockedApps(ctx) {
		if strings.EqualFold(app.Name, name) {
			return app
		}
	}
	return profile.BlockableApp{Name: name}
}

// BlockedApps returns the block catalogue.
func (a *Agent) BlockedApps(ctx context.Context) []profile.BlockableApp {
	return a.profiles.LoadBlockedApps(ctx)
}

// SetBlockedApps replaces the block catalogue.
func (a *Agent) SetBlockedApps(ctx context.Context, apps []profile.BlockableApp) error {
	return a.profiles.SaveBlockedApps(ctx, apps)
}

// ToggleApp flips the blocked flag of the app with id.
func (a *Agent) ToggleApp(ctx context.Context, id string) (profile.BlockableApp, error) {
	apps := a.profiles.LoadBlockedApps(ctx)
	for i := range apps {
		if apps[i].ID == id {
			apps[i].Blocked = !apps[i].Blocked
			if err := a.profiles.SaveBlockedApps(ctx, apps); err != nil {
				return profile.BlockableApp{}, err
			}
			return apps[i], nil
		}
	}
	return profile.BlockableApp{}, fmt.Errorf("%w: %s", ErrUnknownApp, id)
}

// Zones returns the focus zones.
func (a *Agent) Zones() []geofence.Zone {
	return a.geo.Zones()
}

// SetZones replaces the focus zones.
func (a *Agent) SetZones(ctx context.Context, zones []geofence.Zone) error {
	for _, z := range zones {
		if z.Radius <= 0 {
			return fmt.Errorf("%w: %q radius must be positive", ErrInvalidZone, z.Name)
		}
	}
	if err := a.profiles.SaveZones(ctx, zones); err != nil {
		return err
	}
	a.geo.SetZones(zones)
	return nil
}

// UpdateLocation feeds a position fix to the geofence. Fixes are ignored
// outside a consented session.
func (a *Agent) UpdateLocation(lat, lng float64) (geofence.Transition, error) {
	a.mu.Lock()
	ready := a.loggedIn && a.initialized
	consented := a.consented
	a.mu.Unlock()

	if !ready {
		return geofence.Transition{}, ErrNotLoggedIn
	}
	if !consented {
		return geofence.Transition{}, ErrNoConsent
	}
	return a.geo.Update(lat, lng), nil
}

// LocationDenied clears the active zones after a permission denial.
func (a *Agent) LocationDenied() {
	a.geo.PermissionDenied()
}

// AddJournalEntry records a reflection outside a focus session.
func (a *Agent) AddJournalEntry(r ledger.Reflection) (ledger.ReflectionEntry, error) {
	return a.ledger.AddJournalEntry(r)
}

// SetDailyLimit sets the daily usage target.
func (a *Agent) SetDailyLimit(minutes int) error {
	return a.ledger.SetDailyLimit(minutes)
}

// SetWarningConfig sets the warning style.
func (a *Agent) SetWarningConfig(wc ledger.WarningConfig) error {
	return a.ledger.SetWarningConfig(wc)
}

// SetPersona selects the coaching persona and its voice.
func (a *Agent) SetPersona(ctx context.Context, style, voice string) error {
	if err := a.profiles.SetPersona(ctx, style, voice); err != nil {
		return err
	}
	a.ledger.SetPersona(style)
	return nil
}

// TakeAssessment scores the answers and stores the result.
func (a *Agent) TakeAssessment(ctx context.Context, answers map[string]string) ledger.Assessment {
	result := a.content.Assessment(ctx, answers)
	a.ledger.SetAssessment(result)
	return result
}

// RefreshInsights generates today's tips and stores them on the profile.
func (a *Agent) RefreshInsights(ctx context.Context) []string {
	stats := a.ledger.Snapshot()
	tips := a.content.MindfulTips(ctx, content.SummaryFromStats(stats, a.ledger.Today()))
	a.ledger.SetInsights(tips, stats.Optimizers)
	return tips
}
