package usage

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/metrics"
	"github.com/rs/zerolog"
)

// Config holds tracker configuration
type Config struct {
	TickInterval time.Duration
	IdleTimeout  time.Duration
	SessionGap   time.Duration
}

// Tracker runs the activity sampler on a ticker while its gate allows it.
type Tracker struct {
	clock    clock.Clock
	acc      *Accumulator
	sampler  *Sampler
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	gate    Gate
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker creates a new usage tracker. Tracking stays off until Update
// receives an enabling gate.
func NewTracker(clk clock.Clock, config Config, logger zerolog.Logger) *Tracker {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	acc := NewAccumulator()
	return &Tracker{
		clock:    clk,
		acc:      acc,
		sampler:  NewSampler(acc, config.IdleTimeout, config.SessionGap, logger),
		interval: config.TickInterval,
		logger:   logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// Accumulator returns the accumulator the sampler feeds.
func (t *Tracker) Accumulator() *Accumulator {
	return t.acc
}

// Sampler returns the underlying sampler.
func (t *Tracker) Sampler() *Sampler {
	return t.sampler
}

// Update applies a new gate. Enabling starts the sampler fresh at the current
// instant; disabling credits the final partial interval and cancels the tick
// task. It returns whether tracking is now enabled.
func (t *Tracker) Update(g Gate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gate = g
	want := g.Enabled()
	if want == t.enabled {
		return t.enabled
	}

	if want {
		t.startLocked()
	} else {
		t.stopLocked()
	}
	return t.enabled
}

// Gate returns the last applied gate.
func (t *Tracker) Gate() Gate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gate
}

// Enabled reports whether the tick task is running.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Activity forwards an input event at the current instant.
func (t *Tracker) Activity() {
	t.sampler.Activity(t.clock.Now())
}

// SetVisible forwards a visibility change at the current instant.
func (t *Tracker) SetVisible(visible bool) {
	t.sampler.SetVisible(visible, t.clock.Now())
}

// Close stops tracking regardless of the gate.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		t.stopLocked()
	}
}

func (t *Tracker) startLocked() {
	now := t.clock.Now()
	t.sampler.Start(now)

	ticker := t.clock.NewTicker(t.interval)
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.enabled = true
	go t.run(ctx, ticker, t.done)

	metrics.TrackingEnabled.Set(1)
	t.logger.Info().
		Time("at", now).
		Dur("interval", t.interval).
		Msg("Tracking enabled")
}

func (t *Tracker) stopLocked() {
	t.cancel()
	<-t.done
	t.sampler.Stop(t.clock.Now())
	t.enabled = false
	t.cancel = nil
	t.done = nil

	metrics.TrackingEnabled.Set(0)
	t.logger.Info().
		Bool("logged_in", t.gate.LoggedIn).
		Bool("consented", t.gate.Consented).
		Bool("focus_active", t.gate.FocusActive).
		Msg("Tracking disabled")
}

func (t *Tracker) run(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			t.sampler.Tick(now)
		}
	}
}
