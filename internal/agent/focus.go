package agent

import (
	"context"
	"math"
	"time"

	"github.com/goodtune/untether/internal/ledger"
)

// StartFocus begins a focus session. Tracking pauses until it ends.
func (a *Agent) StartFocus() (FocusState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loggedIn {
		return FocusState{}, ErrNotLoggedIn
	}
	if a.focusActive {
		return FocusState{}, ErrFocusActive
	}

	a.focusActive = true
	a.focusStart = a.clock.Now()
	a.updateGateLocked()

	a.logger.Info().Dur("duration", a.config.FocusDuration).Msg("Focus session started")
	return *a.focusStateLocked(), nil
}

// CompleteFocus finishes the session and credits it. When minutes is not
// positive the credit is the whole minutes elapsed, at least one. A
// reflection with an answer goes to the journal.
func (a *Agent) CompleteFocus(ctx context.Context, minutes float64, reflection *ledger.Reflection) (ledger.UserStats, error) {
	elapsed, err := a.endFocus()
	if err != nil {
		return ledger.UserStats{}, err
	}
	if minutes <= 0 {
		minutes = math.Max(math.Floor(elapsed.Minutes()), 1)
	}

	stats := a.ledger.CompleteFocusSession(minutes, reflection)
	a.logger.Info().Float64("minutes", minutes).Int("streak", stats.Streak).Msg("Focus session completed")
	return stats, nil
}

// CancelFocus ends the session early. Whole elapsed minutes are still
// credited; under a minute credits nothing.
func (a *Agent) CancelFocus(ctx context.Context) (ledger.UserStats, error) {
	elapsed, err := a.endFocus()
	if err != nil {
		return ledger.UserStats{}, err
	}

	minutes := math.Floor(elapsed.Minutes())
	if minutes < 1 {
		a.logger.Info().Dur("elapsed", elapsed).Msg("Focus session cancelled")
		return a.ledger.Snapshot(), nil
	}

	stats := a.ledger.CompleteFocusSession(minutes, nil)
	a.logger.Info().Float64("minutes", minutes).Msg("Focus session ended early")
	return stats, nil
}

// Focus returns the running session, if any.
func (a *Agent) Focus() (FocusState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.focusStateLocked()
	if st == nil {
		return FocusState{}, false
	}
	return *st, true
}

// ReflectionQuestion returns a prompt for the post-session journal.
func (a *Agent) ReflectionQuestion(ctx context.Context) string {
	return a.content.ReflectionQuestion(ctx)
}

func (a *Agent) endFocus() (elapsed time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.focusActive {
		return 0, ErrNoFocus
	}
	elapsed = a.clock.Now().Sub(a.focusStart)
	a.focusActive = false
	a.updateGateLocked()
	return elapsed, nil
}

func (a *Agent) focusStateLocked() *FocusState {
	if !a.focusActive {
		return nil
	}
	elapsed := a.clock.Now().Sub(a.focusStart)
	remaining := a.config.FocusDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &FocusState{
		StartedAt: a.focusStart,
		Duration:  a.config.FocusDuration,
		Remaining: remaining,
		Elapsed:   elapsed,
	}
}
