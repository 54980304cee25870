package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/untether/internal/agent"
	"github.com/goodtune/untether/internal/config"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/profile"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	statsJSON bool
	statsDays int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the local profile",
	Long:  `Print the streak, today's counters, recent history and daily logs stored on this device.`,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the raw stats document")
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "Number of history days and logs to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openLocalStorage(cfg.Storage.Local)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
	stats := profile.NewRepository(store.Values(), cfg.Ledger.DailyLimit, logger).LoadStats(context.Background())

	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	printStats(cmd.OutOrStdout(), stats, statsDays)
	return nil
}

// printStats renders the aggregate for a terminal
func printStats(w io.Writer, stats ledger.UserStats, days int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow, color.Bold)

	_, _ = cyan.Fprintln(w, "\n[streak]")
	_, _ = fmt.Fprintf(w, "  current          = %d days (%s)\n", stats.Streak, agent.Theme(stats.Streak))
	_, _ = fmt.Fprintf(w, "  last focus date  = %s\n", orNone(stats.LastFocusDate))
	_, _ = fmt.Fprintf(w, "  total time saved = %.0f minutes\n", stats.TotalTimeSaved)
	_, _ = fmt.Fprintf(w, "  total sessions   = %d\n", stats.TotalSessions)

	_, _ = cyan.Fprintln(w, "\n[today]")
	_, _ = fmt.Fprintf(w, "  date             = %s\n", orNone(stats.UsageDate))
	usage := fmt.Sprintf("%.0f / %d minutes", stats.TodayUsage, stats.DailyLimit)
	if stats.DailyLimit > 0 && stats.TodayUsage > float64(stats.DailyLimit) {
		_, _ = red.Fprintf(w, "  usage            = %s  (over limit)\n", usage)
	} else {
		_, _ = fmt.Fprintf(w, "  usage            = %s\n", usage)
	}
	_, _ = fmt.Fprintf(w, "  idle             = %.0f minutes\n", stats.IdleTime)
	_, _ = fmt.Fprintf(w, "  focus sessions   = %d\n", stats.TodayFocusSessions)

	_, _ = cyan.Fprintln(w, "\n[history]")
	history := stats.StreakHistory
	if len(history) > days {
		history = history[len(history)-days:]
	}
	if len(history) == 0 {
		_, _ = fmt.Fprintln(w, "  (none)")
	}
	for _, d := range history {
		if d.Achieved {
			_, _ = green.Fprintf(w, "  %s  ✓  %.0f min saved\n", d.Date, d.TimeSaved)
		} else {
			_, _ = fmt.Fprintf(w, "  %s  ·\n", d.Date)
		}
	}

	_, _ = cyan.Fprintln(w, "\n[daily logs]")
	logs := stats.DailyLogs
	if len(logs) > days {
		logs = logs[len(logs)-days:]
	}
	if len(logs) == 0 {
		_, _ = fmt.Fprintln(w, "  (none)")
	}
	for _, l := range logs {
		_, _ = yellow.Fprintf(w, "  %s", l.Date)
		_, _ = fmt.Fprintf(w, "  screen %dm  saved %dm  idle %dm  focus %d\n",
			l.ScreenTimeMinutes, l.TimeSavedMinutes, l.IdleTimeMinutes, l.FocusSessions)
		if len(l.Benefits) > 0 {
			_, _ = fmt.Fprintf(w, "      %s\n", strings.Join(l.Benefits, "; "))
		}
	}

	if len(stats.Journal) > 0 {
		_, _ = cyan.Fprintln(w, "\n[journal]")
		_, _ = fmt.Fprintf(w, "  %d entries, latest %s\n", len(stats.Journal), stats.Journal[0].Date)
	}
	_, _ = fmt.Fprintln(w)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
