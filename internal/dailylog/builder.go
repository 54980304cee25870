// Package dailylog derives end-of-day summaries from the ledger aggregate.
package dailylog

import (
	"fmt"
	"math"

	"github.com/goodtune/untether/internal/ledger"
)

// Milestones are streak lengths called out in the summary.
var Milestones = []int{3, 7, 14, 30, 60, 100}

// Builder produces DailyLog records.
type Builder struct {
	defaultLimit int
}

// NewBuilder creates a builder. defaultLimit is used when the aggregate has
// no daily limit set.
func NewBuilder(defaultLimit int) *Builder {
	if defaultLimit <= 0 {
		defaultLimit = ledger.DefaultDailyLimit
	}
	return &Builder{defaultLimit: defaultLimit}
}

// Build summarizes date from stats. Screen time and focus sessions are the
// aggregate's current-day counters; time saved comes from the date's history
// record. Minutes are rounded here and nowhere earlier.
func (b *Builder) Build(stats ledger.UserStats, date string) ledger.DailyLog {
	var saved float64
	if d, ok := stats.Day(date); ok {
		saved = d.TimeSaved
	}

	log := ledger.DailyLog{
		Date:              date,
		ScreenTimeMinutes: roundMinutes(stats.ScreenTime),
		TimeSavedMinutes:  roundMinutes(saved),
		IdleTimeMinutes:   roundMinutes(stats.IdleTime),
		FocusSessions:     stats.TodayFocusSessions,
	}
	log.Benefits = b.benefits(stats, log)
	return log
}

// CloseDay adapts Build for ledger rollovers, logging the usage day that is
// being closed.
func (b *Builder) CloseDay(prev ledger.UserStats) (ledger.DailyLog, bool) {
	if prev.UsageDate == "" {
		return ledger.DailyLog{}, false
	}
	return b.Build(prev, prev.UsageDate), true
}

func (b *Builder) benefits(stats ledger.UserStats, log ledger.DailyLog) []string {
	limit := stats.DailyLimit
	if limit <= 0 {
		limit = b.defaultLimit
	}

	var out []string
	if diff := limit - log.ScreenTimeMinutes; diff >= 0 {
		out = append(out, fmt.Sprintf("Stayed %s under your daily limit", minutes(diff)))
	} else {
		out = append(out, fmt.Sprintf("Went %s over your daily limit", minutes(-diff)))
	}

	if log.FocusSessions > 0 {
		out = append(out, fmt.Sprintf("Completed %s", plural(log.FocusSessions, "focus session")))
	} else {
		out = append(out, "No focus sessions completed")
	}

	if log.TimeSavedMinutes > 0 {
		out = append(out, fmt.Sprintf("Reclaimed %s from the screen", minutes(log.TimeSavedMinutes)))
	}

	switch {
	case stats.Streak > 0 && stats.LastFocusDate == log.Date:
		out = append(out, fmt.Sprintf("Kept a %d-day streak alive", stats.Streak))
		for _, m := range Milestones {
			if stats.Streak == m {
				out = append(out, fmt.Sprintf("Reached the %d-day milestone", m))
			}
		}
	case stats.Streak > 0:
		out = append(out, fmt.Sprintf("Streak at %d days", stats.Streak))
	default:
		out = append(out, "A new streak starts with the next session")
	}
	return out
}

func roundMinutes(m float64) int {
	if m < 0 {
		return 0
	}
	return int(math.Round(m))
}

func minutes(n int) string {
	return plural(n, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
