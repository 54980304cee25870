package usage

import (
	"sync"

	"github.com/goodtune/untether/internal/metrics"
)

// Accumulator holds tracking totals until the ledger consumes them.
type Accumulator struct {
	mu     sync.Mutex
	totals Totals
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add credits minutes to the given class. Non-positive deltas are ignored.
func (a *Accumulator) Add(class Class, minutes float64) {
	if minutes <= 0 {
		return
	}

	a.mu.Lock()
	switch class {
	case Idle:
		a.totals.IdleMinutes += minutes
	default:
		a.totals.ActiveMinutes += minutes
	}
	a.mu.Unlock()

	metrics.TrackedMinutes.WithLabelValues(class.String()).Add(minutes)
}

// AddSession counts a return from background.
func (a *Accumulator) AddSession() {
	a.mu.Lock()
	a.totals.Sessions++
	a.mu.Unlock()

	metrics.UsageSessions.Inc()
}

// Snapshot returns the current totals without resetting them.
func (a *Accumulator) Snapshot() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Consume returns the current totals and zeroes them in one step.
func (a *Accumulator) Consume() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.totals
	a.totals = Totals{}
	return t
}
