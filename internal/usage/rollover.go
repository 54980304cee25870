package usage

import (
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/rs/zerolog"
)

// RolloverFunc is called at each local day boundary with the instant it fired.
type RolloverFunc func(now time.Time)

// RolloverScheduler fires once per local calendar day at midnight.
type RolloverScheduler struct {
	clock    clock.Clock
	onChange RolloverFunc
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewRolloverScheduler creates a new rollover scheduler
func NewRolloverScheduler(clk clock.Clock, fn RolloverFunc, logger zerolog.Logger) *RolloverScheduler {
	return &RolloverScheduler{
		clock:    clk,
		onChange: fn,
		logger:   logger.With().Str("component", "rollover-scheduler").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler
func (rs *RolloverScheduler) Start() {
	go rs.run()
	rs.logger.Info().Msg("Day rollover scheduler started")
}

// Stop stops the scheduler and waits for the loop to exit
func (rs *RolloverScheduler) Stop() {
	close(rs.stopChan)
	<-rs.done
	rs.logger.Info().Msg("Day rollover scheduler stopped")
}

func (rs *RolloverScheduler) run() {
	defer close(rs.done)
	for {
		now := rs.clock.Now()
		next := NextMidnight(now)
		wait := next.Sub(now)

		rs.logger.Debug().
			Time("next_rollover", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next day rollover")

		select {
		case fired := <-rs.clock.After(wait):
			rs.logger.Info().Time("at", fired).Msg("Day boundary reached")
			rs.onChange(fired)
		case <-rs.stopChan:
			return
		}
	}
}

// NextMidnight returns the start of the local calendar day after now.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
