// Package ledger owns the UserStats aggregate. Every change goes through a
// named transition so the history invariants hold in one place: one record
// per calendar date, the most recent N days of history covered by the streak
// counter, and bounded history, log and journal lengths.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/metrics"
	"github.com/goodtune/untether/internal/usage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultHistoryLimit  = 60
	DefaultDailyLogLimit = 90
	DefaultJournalLimit  = 50
	DefaultDailyLimit    = 180
	maxDailyLimit        = 24 * 60
)

var (
	// ErrEmptyAnswer is returned when a journal entry has no answer
	ErrEmptyAnswer = errors.New("journal answer is empty")

	// ErrInvalidLimit is returned for daily limits outside 1..1440 minutes
	ErrInvalidLimit = errors.New("daily limit out of range")
)

// Options configures retention and streak behaviour.
type Options struct {
	HistoryLimit  int
	DailyLogLimit int
	JournalLimit  int
	DailyLimit    int

	// ExpireStreaks resets the streak when the last focus day is older
	// than yesterday. Off by default: a streak only grows.
	ExpireStreaks bool
}

// DefaultOptions returns the standard retention windows.
func DefaultOptions() Options {
	return Options{
		HistoryLimit:  DefaultHistoryLimit,
		DailyLogLimit: DefaultDailyLogLimit,
		JournalLimit:  DefaultJournalLimit,
		DailyLimit:    DefaultDailyLimit,
	}
}

func (o *Options) applyDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.DailyLogLimit <= 0 {
		o.DailyLogLimit = DefaultDailyLogLimit
	}
	if o.JournalLimit <= 0 {
		o.JournalLimit = DefaultJournalLimit
	}
	if o.DailyLimit <= 0 {
		o.DailyLimit = DefaultDailyLimit
	}
}

// Observer receives a deep copy of the aggregate after each change.
type Observer func(UserStats)

// CloseDayFunc builds the log for the day being closed by a rollover.
type CloseDayFunc func(prev UserStats) (DailyLog, bool)

// Ledger is the single owner of a UserStats aggregate.
type Ledger struct {
	clock  clock.Clock
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	stats     UserStats // StreakHistory is materialized from history on read
	history   map[string]StreakDay
	observers []Observer
}

// New creates a ledger seeded with initial.
func New(clk clock.Clock, initial UserStats, opts Options, logger zerolog.Logger) *Ledger {
	opts.applyDefaults()
	l := &Ledger{
		clock:  clk,
		opts:   opts,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
	l.load(initial, l.today())
	metrics.CurrentStreak.Set(float64(l.stats.Streak))
	return l
}

// Subscribe registers an observer. Observers run after the lock is released.
func (l *Ledger) Subscribe(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Snapshot returns a deep copy of the aggregate.
func (l *Ledger) Snapshot() UserStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Today returns the current local calendar date.
func (l *Ledger) Today() string {
	return l.today()
}

// Options returns the effective options.
func (l *Ledger) Options() Options {
	return l.opts
}

// Replace swaps the whole aggregate, e.g. with a profile pulled on login.
func (l *Ledger) Replace(s UserStats) UserStats {
	return l.update(func(today string, _ time.Time) bool {
		l.load(s, today)
		return true
	})
}

// RecordUsage credits active minutes to today and makes sure today has a
// history record. It never changes the achieved flag.
func (l *Ledger) RecordUsage(minutes float64) UserStats {
	return l.update(func(today string, _ time.Time) bool {
		return l.recordUsageLocked(today, minutes)
	})
}

// ApplyTracking merges consumed accumulator totals into the aggregate.
func (l *Ledger) ApplyTracking(t usage.Totals) UserStats {
	return l.update(func(today string, _ time.Time) bool {
		changed := l.recordUsageLocked(today, t.ActiveMinutes)
		if t.IdleMinutes > 0 {
			l.stats.IdleTime += t.IdleMinutes
			changed = true
		}
		if t.Sessions > 0 {
			l.stats.TotalSessions += t.Sessions
			changed = true
		}
		return changed
	})
}

// CompleteFocusSession credits a finished focus session. The streak grows at
// most once per calendar day; minutes always accumulate. After the increment
// the most recent streak days, counting today, are backfilled as achieved.
// A reflection with an answer is prepended to the journal.
func (l *Ledger) CompleteFocusSession(minutes float64, reflection *Reflection) UserStats {
	if minutes < 0 {
		minutes = 0
	}
	return l.update(func(today string, now time.Time) bool {
		l.expireLocked(today)

		if l.stats.LastFocusDate != today {
			l.stats.Streak++
			l.stats.LastFocusDate = today
			l.logger.Info().
				Int("streak", l.stats.Streak).
				Str("date", today).
				Msg("Streak extended")
		}

		day := l.dayLocked(today)
		day.Achieved = true
		day.TimeSaved += minutes
		l.history[today] = day

		l.backfillLocked(today)
		l.trimHistoryLocked()

		l.stats.TotalTimeSaved += minutes
		l.stats.TodayFocusSessions++

		if reflection != nil && reflection.Answer != "" {
			l.prependJournalLocked(*reflection, now)
		}

		metrics.FocusSessionsCompleted.Inc()
		metrics.MinutesSaved.Add(minutes)
		l.logger.Debug().
			Float64("minutes", minutes).
			Float64("day_time_saved", day.TimeSaved).
			Int("today_sessions", l.stats.TodayFocusSessions).
			Msg("Focus session recorded")
		return true
	})
}

// Reconcile repairs the history with the same walk a focus session does:
// the streak's days counted back from today are marked achieved. It reports
// whether anything changed.
func (l *Ledger) Reconcile() bool {
	var changed bool
	l.update(func(today string, _ time.Time) bool {
		changed = l.expireLocked(today)

		if l.backfillLocked(today) {
			l.trimHistoryLocked()
			changed = true
		}
		return changed
	})
	if changed {
		l.logger.Info().Msg("History reconciled")
	}
	return changed
}

// AddJournalEntry prepends a reflection to the journal.
func (l *Ledger) AddJournalEntry(r Reflection) (ReflectionEntry, error) {
	if r.Answer == "" {
		return ReflectionEntry{}, ErrEmptyAnswer
	}
	var entry ReflectionEntry
	l.update(func(_ string, now time.Time) bool {
		entry = l.prependJournalLocked(r, now)
		return true
	})
	return entry, nil
}

// UpsertDailyLog stores log, replacing any log with the same date.
func (l *Ledger) UpsertDailyLog(log DailyLog) UserStats {
	return l.update(func(string, time.Time) bool {
		l.upsertLogLocked(log)
		return true
	})
}

// RollOver closes the usage day when the calendar date has changed. The
// previous day's log is built by closeDay from the aggregate as it stood,
// then the per-day counters are reset. It returns the closed date.
func (l *Ledger) RollOver(closeDay CloseDayFunc) (string, bool) {
	var prev string
	var rolled bool
	l.update(func(today string, _ time.Time) bool {
		if l.stats.UsageDate == today {
			return false
		}
		prev = l.stats.UsageDate
		rolled = true

		if prev != "" && closeDay != nil {
			if log, ok := closeDay(l.snapshotLocked()); ok {
				l.upsertLogLocked(log)
			}
		}

		l.stats.ScreenTime = 0
		l.stats.TodayUsage = 0
		l.stats.IdleTime = 0
		l.stats.TodayFocusSessions = 0
		l.stats.UsageDate = today
		l.expireLocked(today)

		l.logger.Info().
			Str("closed", prev).
			Str("today", today).
			Msg("Usage day rolled over")
		return true
	})
	return prev, rolled
}

// MarkSummaryShown reports whether today's summary is due and records it as
// shown.
func (l *Ledger) MarkSummaryShown() bool {
	var due bool
	l.update(func(today string, _ time.Time) bool {
		due = l.stats.LastSummaryDate != today
		l.stats.LastSummaryDate = today
		return due
	})
	return due
}

// SummaryDue reports whether today's summary has not been shown yet.
func (l *Ledger) SummaryDue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.LastSummaryDate != l.today()
}

// SetDailyLimit sets the daily usage target in minutes.
func (l *Ledger) SetDailyLimit(minutes int) error {
	if minutes <= 0 || minutes > maxDailyLimit {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, minutes)
	}
	l.update(func(string, time.Time) bool {
		l.stats.DailyLimit = minutes
		return true
	})
	return nil
}

// SetWarningConfig replaces the warning style.
func (l *Ledger) SetWarningConfig(wc WarningConfig) error {
	if err := wc.Validate(); err != nil {
		return fmt.Errorf("invalid warning config: %w", err)
	}
	l.update(func(string, time.Time) bool {
		l.stats.WarningConfig = &wc
		return true
	})
	return nil
}

// SetAssessment stores a self-assessment result.
func (l *Ledger) SetAssessment(a Assessment) UserStats {
	return l.update(func(_ string, now time.Time) bool {
		if a.LastTaken == "" {
			a.LastTaken = now.Format(time.RFC3339)
		}
		a.Breakdown = cloneSlice(a.Breakdown)
		l.stats.Assessment = &a
		return true
	})
}

// SetInsights stores generated insights and optimizers.
func (l *Ledger) SetInsights(insights, optimizers []string) UserStats {
	return l.update(func(string, time.Time) bool {
		l.stats.DailyInsights = cloneSlice(insights)
		l.stats.Optimizers = cloneSlice(optimizers)
		return true
	})
}

// SetPersona stores the selected coaching persona.
func (l *Ledger) SetPersona(persona string) UserStats {
	return l.update(func(string, time.Time) bool {
		changed := l.stats.AIPersona != persona
		l.stats.AIPersona = persona
		return changed
	})
}

func (l *Ledger) update(fn func(today string, now time.Time) bool) UserStats {
	l.mu.Lock()
	now := l.clock.Now()
	changed := fn(now.Format(DateLayout), now)
	snap := l.snapshotLocked()
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()

	metrics.CurrentStreak.Set(float64(snap.Streak))
	if changed {
		for _, o := range observers {
			o(snap.Clone())
		}
	}
	return snap
}

func (l *Ledger) today() string {
	return l.clock.Now().Format(DateLayout)
}

func (l *Ledger) load(s UserStats, today string) {
	s = s.Clone()
	s.Normalize(l.opts.DailyLimit)

	l.history = make(map[string]StreakDay, len(s.StreakHistory))
	for _, d := range s.StreakHistory {
		if d.Date == "" {
			continue
		}
		if prev, ok := l.history[d.Date]; ok {
			d.Achieved = d.Achieved || prev.Achieved
			if prev.TimeSaved > d.TimeSaved {
				d.TimeSaved = prev.TimeSaved
			}
		}
		l.history[d.Date] = d
	}
	s.StreakHistory = nil

	logs := s.DailyLogs
	s.DailyLogs = []DailyLog{}
	l.stats = s
	for _, log := range logs {
		l.stats.DailyLogs = upsertLog(l.stats.DailyLogs, log, l.opts.DailyLogLimit)
	}
	if len(l.stats.Journal) > l.opts.JournalLimit {
		l.stats.Journal = l.stats.Journal[:l.opts.JournalLimit]
	}
	if l.stats.UsageDate == "" {
		l.stats.UsageDate = today
	}
	l.trimHistoryLocked()
}

func (l *Ledger) snapshotLocked() UserStats {
	c := l.stats.Clone()
	c.StreakHistory = l.historyLocked()
	return c
}

func (l *Ledger) historyLocked() []StreakDay {
	out := make([]StreakDay, 0, len(l.history))
	for _, d := range l.history {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (l *Ledger) recordUsageLocked(today string, minutes float64) bool {
	_, existed := l.history[today]
	if !existed {
		l.history[today] = StreakDay{Date: today}
		l.trimHistoryLocked()
	}
	if minutes > 0 {
		l.stats.ScreenTime += minutes
		l.stats.TodayUsage += minutes
	}
	return !existed || minutes > 0
}

func (l *Ledger) dayLocked(date string) StreakDay {
	if d, ok := l.history[date]; ok {
		return d
	}
	return StreakDay{Date: date}
}

// backfillLocked marks the streak's days ending at anchor as achieved. Days
// older than the retention window would be trimmed anyway and are skipped.
func (l *Ledger) backfillLocked(anchor string) bool {
	start, err := time.Parse(DateLayout, anchor)
	if err != nil {
		l.logger.Warn().Str("anchor", anchor).Err(err).Msg("Unparseable backfill anchor")
		return false
	}

	n := l.stats.Streak
	if n > l.opts.HistoryLimit {
		n = l.opts.HistoryLimit
	}

	changed := false
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, -i).Format(DateLayout)
		d, ok := l.history[date]
		switch {
		case !ok:
			l.history[date] = StreakDay{Date: date, Achieved: true}
			changed = true
		case !d.Achieved:
			d.Achieved = true
			l.history[date] = d
			changed = true
		}
	}
	return changed
}

func (l *Ledger) trimHistoryLocked() {
	if len(l.history) <= l.opts.HistoryLimit {
		return
	}
	dates := make([]string, 0, len(l.history))
	for d := range l.history {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates[:len(dates)-l.opts.HistoryLimit] {
		delete(l.history, d)
	}
}

// expireLocked breaks a streak whose last focus day is before yesterday.
func (l *Ledger) expireLocked(today string) bool {
	if !l.opts.ExpireStreaks || l.stats.Streak == 0 || l.stats.LastFocusDate == "" {
		return false
	}
	t, err := time.Parse(DateLayout, today)
	if err != nil {
		return false
	}
	yesterday := t.AddDate(0, 0, -1).Format(DateLayout)
	if l.stats.LastFocusDate >= yesterday {
		return false
	}

	l.logger.Info().
		Int("streak", l.stats.Streak).
		Str("last_focus_date", l.stats.LastFocusDate).
		Msg("Streak expired")
	l.stats.Streak = 0
	return true
}

func (l *Ledger) prependJournalLocked(r Reflection, now time.Time) ReflectionEntry {
	entry := ReflectionEntry{
		ID:       uuid.NewString(),
		Date:     now.Format(time.RFC3339),
		Question: r.Question,
		Answer:   r.Answer,
		Reason:   r.Reason,
	}
	journal := make([]ReflectionEntry, 0, len(l.stats.Journal)+1)
	journal = append(journal, entry)
	journal = append(journal, l.stats.Journal...)
	if len(journal) > l.opts.JournalLimit {
		journal = journal[:l.opts.JournalLimit]
	}
	l.stats.Journal = journal
	return entry
}

func (l *Ledger) upsertLogLocked(log DailyLog) {
	l.stats.DailyLogs = upsertLog(l.stats.DailyLogs, log, l.opts.DailyLogLimit)
	metrics.DailyLogsWritten.Inc()
}

// upsertLog replaces the log with the same date in place, or appends and
// drops the oldest entries beyond limit.
func upsertLog(logs []DailyLog, log DailyLog, limit int) []DailyLog {
	log.Benefits = cloneSlice(log.Benefits)
	if log.Benefits == nil {
		log.Benefits = []string{}
	}
	for i, existing := range logs {
		if existing.Date == log.Date {
			logs[i] = log
			return logs
		}
	}
	logs = append(logs, log)
	if over := len(logs) - limit; over > 0 {
		logs = append([]DailyLog(nil), logs[over:]...)
	}
	return logs
}
