package dailylog

import (
	"testing"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	stats := ledger.Fresh(120)
	stats.ScreenTime = 95.6
	stats.IdleTime = 10.4
	stats.TodayFocusSessions = 2
	stats.Streak = 7
	stats.LastFocusDate = "2025-03-10"
	stats.StreakHistory = []ledger.StreakDay{
		{Date: "2025-03-09", Achieved: true, TimeSaved: 25},
		{Date: "2025-03-10", Achieved: true, TimeSaved: 49.6},
	}

	log := NewBuilder(0).Build(stats, "2025-03-10")
	assert.Equal(t, "2025-03-10", log.Date)
	assert.Equal(t, 96, log.ScreenTimeMinutes)
	assert.Equal(t, 50, log.TimeSavedMinutes)
	assert.Equal(t, 10, log.IdleTimeMinutes)
	assert.Equal(t, 2, log.FocusSessions)
	assert.Equal(t, []string{
		"Stayed 24 minutes under your daily limit",
		"Completed 2 focus sessions",
		"Reclaimed 50 minutes from the screen",
		"Kept a 7-day streak alive",
		"Reached the 7-day milestone",
	}, log.Benefits)
}

func TestBuildWithoutHistory(t *testing.T) {
	stats := ledger.Fresh(60)
	stats.ScreenTime = 61

	log := NewBuilder(0).Build(stats, "2025-03-10")
	assert.Equal(t, 0, log.TimeSavedMinutes)
	assert.Equal(t, []string{
		"Went 1 minute over your daily limit",
		"No focus sessions completed",
		"A new streak starts with the next session",
	}, log.Benefits)
}

func TestBuildUsesDefaultLimit(t *testing.T) {
	stats := ledger.UserStats{Streak: 3, LastFocusDate: "2025-03-09"}
	log := NewBuilder(30).Build(stats, "2025-03-10")
	assert.Contains(t, log.Benefits, "Stayed 30 minutes under your daily limit")
	assert.Contains(t, log.Benefits, "Streak at 3 days")
}

func TestBuildIsIdempotentThroughLedger(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 20, 0, 0, 0, time.Local))
	l := ledger.New(clk, ledger.Fresh(180), ledger.DefaultOptions(), zerolog.Nop())
	b := NewBuilder(0)

	l.RecordUsage(10)
	l.UpsertDailyLog(b.Build(l.Snapshot(), l.Today()))
	l.RecordUsage(10)
	s := l.UpsertDailyLog(b.Build(l.Snapshot(), l.Today()))

	assert.Len(t, s.DailyLogs, 1)
	assert.Equal(t, 20, s.DailyLogs[0].ScreenTimeMinutes)
}

func TestCloseDay(t *testing.T) {
	b := NewBuilder(0)
	_, ok := b.CloseDay(ledger.UserStats{})
	assert.False(t, ok)

	stats := ledger.Fresh(180)
	stats.UsageDate = "2025-03-09"
	log, ok := b.CloseDay(stats)
	assert.True(t, ok)
	assert.Equal(t, "2025-03-09", log.Date)
}
