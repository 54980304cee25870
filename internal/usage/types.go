package usage

import (
	"time"
)

// Class is the classification of an elapsed interval.
type Class int

const (
	Active Class = iota
	Idle
)

func (c Class) String() string {
	if c == Idle {
		return "idle"
	}
	return "active"
}

// Totals are the running sums produced by the sampler since the last
// consumption.
type Totals struct {
	ActiveMinutes float64 `json:"activeMinutes"`
	IdleMinutes   float64 `json:"idleMinutes"`
	Sessions      int     `json:"totalSessions"`
}

// Elapsed returns the wall-clock minutes covered by the totals.
func (t Totals) Elapsed() float64 {
	return t.ActiveMinutes + t.IdleMinutes
}

// IsZero reports whether nothing has been accumulated.
func (t Totals) IsZero() bool {
	return t.ActiveMinutes == 0 && t.IdleMinutes == 0 && t.Sessions == 0
}

// Sample is the sampler state as of its last tick.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Visible   bool      `json:"isVisible"`
	Idle      bool      `json:"isIdle"`
}

// Gate holds the conditions under which tracking runs. Tracking is enabled
// only while the user is logged in, the profile is loaded, consent has been
// given and no focus session is running.
type Gate struct {
	LoggedIn    bool `json:"loggedIn"`
	Initialized bool `json:"initialized"`
	Consented   bool `json:"consented"`
	FocusActive bool `json:"focusActive"`
}

// Enabled reports whether the gate allows tracking.
func (g Gate) Enabled() bool {
	return g.LoggedIn && g.Initialized && g.Consented && !g.FocusActive
}
