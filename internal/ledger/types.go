package ledger

import (
	"fmt"
)

// DateLayout is the calendar-date key format. Lexicographic order equals
// chronological order.
const DateLayout = "2006-01-02"

// Warning layouts
const (
	LayoutMinimal    = "minimal"
	LayoutImmersive  = "immersive"
	LayoutAggressive = "aggressive"
)

// StreakDay is the per-date history record.
type StreakDay struct {
	Date      string  `json:"date"`
	Achieved  bool    `json:"achieved"`
	TimeSaved float64 `json:"timeSaved"`
}

// DailyLog is an end-of-day summary.
type DailyLog struct {
	Date              string   `json:"date"`
	ScreenTimeMinutes int      `json:"screenTimeMinutes"`
	TimeSavedMinutes  int      `json:"timeSavedMinutes"`
	IdleTimeMinutes   int      `json:"idleTimeMinutes"`
	FocusSessions     int      `json:"focusSessions"`
	Benefits          []string `json:"benefits"`
}

// ReflectionEntry is a journal entry written after a focus session.
type ReflectionEntry struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Reason   string `json:"reason,omitempty"`
}

// Reflection is the user input for a new journal entry.
type Reflection struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Reason   string `json:"reason,omitempty"`
}

// WarningConfig controls how blocking warnings are presented.
type WarningConfig struct {
	Intensity int     `json:"intensity"`
	Color     string  `json:"color"`
	Layout    string  `json:"layout"`
	TextScale float64 `json:"textScale"`
}

// DefaultWarningConfig returns the warning style used for new profiles.
func DefaultWarningConfig() WarningConfig {
	return WarningConfig{Intensity: 75, Color: "#c084fc", Layout: LayoutImmersive, TextScale: 1.1}
}

// Validate checks the ranges accepted by the presentation layer.
func (w WarningConfig) Validate() error {
	if w.Intensity < 0 || w.Intensity > 100 {
		return fmt.Errorf("intensity must be between 0 and 100, got %d", w.Intensity)
	}
	if w.TextScale < 1 || w.TextScale > 2 {
		return fmt.Errorf("textScale must be between 1 and 2, got %g", w.TextScale)
	}
	switch w.Layout {
	case LayoutMinimal, LayoutImmersive, LayoutAggressive:
	default:
		return fmt.Errorf("unknown layout %q", w.Layout)
	}
	return nil
}

// BreakdownItem is one axis of the self-assessment.
type BreakdownItem struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Assessment is the result of the addiction self-assessment.
type Assessment struct {
	Score     int             `json:"score"`
	Category  string          `json:"category"`
	Breakdown []BreakdownItem `json:"breakdown"`
	LastTaken string          `json:"lastTaken"`
}

// UserStats is the aggregate that is persisted locally and synced remotely.
// UsageDate records which calendar day the today* counters belong to.
type UserStats struct {
	Streak             int               `json:"streak"`
	TotalTimeSaved     float64           `json:"totalTimeSaved"`
	ScreenTime         float64           `json:"screenTime"`
	DailyLimit         int               `json:"dailyLimit"`
	TodayUsage         float64           `json:"todayUsage"`
	TodayFocusSessions int               `json:"todayFocusSessions"`
	IdleTime           float64           `json:"idleTime"`
	TotalSessions      int               `json:"totalSessions"`
	LastFocusDate      string            `json:"lastFocusDate"`
	LastSummaryDate    string            `json:"lastSummaryDate,omitempty"`
	UsageDate          string            `json:"usageDate,omitempty"`
	StreakHistory      []StreakDay       `json:"streakHistory"`
	DailyLogs          []DailyLog        `json:"dailyLogs"`
	Journal            []ReflectionEntry `json:"journal"`
	WarningConfig      *WarningConfig    `json:"warningConfig,omitempty"`
	Assessment         *Assessment       `json:"assessment,omitempty"`
	AIPersona          string            `json:"aiPersona,omitempty"`
	DailyInsights      []string          `json:"dailyInsights,omitempty"`
	Optimizers         []string          `json:"optimizers,omitempty"`
}

// Fresh returns the default aggregate for a new or unreadable profile.
func Fresh(dailyLimit int) UserStats {
	wc := DefaultWarningConfig()
	return UserStats{
		DailyLimit:    dailyLimit,
		StreakHistory: []StreakDay{},
		DailyLogs:     []DailyLog{},
		Journal:       []ReflectionEntry{},
		WarningConfig: &wc,
	}
}

// Normalize fills fields that older or partial documents may lack.
func (s *UserStats) Normalize(defaultLimit int) {
	if s.DailyLimit <= 0 {
		s.DailyLimit = defaultLimit
	}
	if s.StreakHistory == nil {
		s.StreakHistory = []StreakDay{}
	}
	if s.DailyLogs == nil {
		s.DailyLogs = []DailyLog{}
	}
	if s.Journal == nil {
		s.Journal = []ReflectionEntry{}
	}
	if s.WarningConfig == nil {
		wc := DefaultWarningConfig()
		s.WarningConfig = &wc
	}
	if s.Streak < 0 {
		s.Streak = 0
	}
}

// Clone returns a deep copy.
func (s UserStats) Clone() UserStats {
	c := s
	c.StreakHistory = cloneSlice(s.StreakHistory)
	c.DailyLogs = cloneSlice(s.DailyLogs)
	for i := range c.DailyLogs {
		c.DailyLogs[i].Benefits = cloneSlice(c.DailyLogs[i].Benefits)
	}
	c.Journal = cloneSlice(s.Journal)
	if s.WarningConfig != nil {
		wc := *s.WarningConfig
		c.WarningConfig = &wc
	}
	if s.Assessment != nil {
		a := *s.Assessment
		a.Breakdown = cloneSlice(a.Breakdown)
		c.Assessment = &a
	}
	c.DailyInsights = cloneSlice(s.DailyInsights)
	c.Optimizers = cloneSlice(s.Optimizers)
	return c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Day returns the history record for date.
func (s UserStats) Day(date string) (StreakDay, bool) {
	for _, d := range s.StreakHistory {
		if d.Date == date {
			return d, true
		}
	}
	return StreakDay{}, false
}

// Log returns the daily log for date.
func (s UserStats) Log(date string) (DailyLog, bool) {
	for _, l := range s.DailyLogs {
		if l.Date == date {
			return l, true
		}
	}
	return DailyLog{}, false
}
