package usage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultIdleTimeout is how long without input before time counts as idle
	DefaultIdleTimeout = 60 * time.Second

	// DefaultSessionGap is the minimum background absence that starts a new usage session
	DefaultSessionGap = time.Minute

	// DefaultTickInterval is the sampling period
	DefaultTickInterval = time.Second
)

// Sampler classifies elapsed wall-clock time as active or idle and credits it
// to an Accumulator. All methods take the observation instant explicitly.
type Sampler struct {
	acc         *Accumulator
	idleTimeout time.Duration
	sessionGap  time.Duration
	logger      zerolog.Logger

	mu           sync.Mutex
	running      bool
	hidden       bool
	idle         bool
	lastTick     time.Time
	lastActivity time.Time
	hiddenSince  time.Time
}

// NewSampler creates a sampler feeding acc.
func NewSampler(acc *Accumulator, idleTimeout, sessionGap time.Duration, logger zerolog.Logger) *Sampler {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if sessionGap <= 0 {
		sessionGap = DefaultSessionGap
	}
	return &Sampler{
		acc:         acc,
		idleTimeout: idleTimeout,
		sessionGap:  sessionGap,
		logger:      logger.With().Str("component", "activity-sampler").Logger(),
	}
}

// Start begins sampling at now. Timestamps are reset rather than resumed so
// that time spent while stopped is never credited.
func (s *Sampler) Start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true
	s.hidden = false
	s.idle = false
	s.lastTick = now
	s.lastActivity = now
	s.hiddenSince = time.Time{}
}

// Stop credits the interval since the last tick and stops sampling.
func (s *Sampler) Stop(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.tickLocked(now)
	s.running = false
}

// Running reports whether the sampler is started.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick classifies the interval since the previous tick and credits it.
// Ticks that do not move time forward credit nothing.
func (s *Sampler) Tick(now time.Time) Class {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return Active
	}
	return s.tickLocked(now)
}

func (s *Sampler) tickLocked(now time.Time) Class {
	class := Active
	if s.hidden || now.Sub(s.lastActivity) >= s.idleTimeout {
		class = Idle
	}
	s.idle = class == Idle

	if !now.After(s.lastTick) {
		return class
	}
	delta := now.Sub(s.lastTick)
	s.lastTick = now
	s.acc.Add(class, delta.Minutes())
	return class
}

// Activity records a qualifying input event (pointer, key, touch, scroll).
func (s *Sampler) Activity(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.idle = false
}

// SetVisible records a foreground/background transition. Time hidden since
// the last tick is credited as idle on restore, and an absence longer than
// the session gap counts as a new usage session.
func (s *Sampler) SetVisible(visible bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || visible == !s.hidden {
		return
	}

	if !visible {
		s.hidden = true
		s.hiddenSince = now
		s.logger.Debug().Time("at", now).Msg("Hidden")
		return
	}

	if now.After(s.lastTick) {
		s.acc.Add(Idle, now.Sub(s.lastTick).Minutes())
		s.lastTick = now
	}
	away := now.Sub(s.hiddenSince)
	if away > s.sessionGap {
		s.acc.AddSession()
	}
	s.hidden = false
	s.hiddenSince = time.Time{}
	s.idle = false
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}

	s.logger.Debug().
		Dur("away", away).
		Bool("new_session", away > s.sessionGap).
		Msg("Visible again")
}

// Sample returns the state as of the last tick.
func (s *Sampler) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Sample{
		Timestamp: s.lastTick,
		Visible:   !s.hidden,
		Idle:      s.idle,
	}
}
