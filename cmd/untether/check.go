package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/config"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/policy"
	"github.com/goodtune/untether/internal/profile"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkFocus    bool
	checkZones    []string
	checkUsage    float64
	checkLimit    int
	checkLayout   string
	checkBlocked  bool
	checkCategory string
	checkDay      string
	checkTime     string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check policy decisions interactively",
	Long:  `Check what block decision UnTether would make for an app or site.`,
}

var checkBlockCmd = &cobra.Command{
	Use:   "block [flags] APP",
	Short: "Check the block decision for an app",
	Long: `Check whether opening APP would be allowed, warned or blocked. The app's
catalogue entry and today's usage are read from local storage; flags override
them.`,
	Example: `  untether -c config.yaml check block Instagram
  untether check block --focus TikTok
  untether check block --zone Sanctuary --usage 200 --layout aggressive YouTube
  untether check block --day saturday --time 22:30 Reddit`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckBlock,
}

func init() {
	checkBlockCmd.Flags().BoolVar(&checkFocus, "focus", false, "Evaluate as if a focus session is running")
	checkBlockCmd.Flags().StringSliceVar(&checkZones, "zone", nil, "Active focus zone name (repeatable)")
	checkBlockCmd.Flags().Float64Var(&checkUsage, "usage", 0, "Minutes of screen time today")
	checkBlockCmd.Flags().IntVar(&checkLimit, "limit", 0, "Daily limit in minutes")
	checkBlockCmd.Flags().StringVar(&checkLayout, "layout", "", "Warning layout (minimal, immersive, aggressive)")
	checkBlockCmd.Flags().BoolVar(&checkBlocked, "blocked", false, "Treat the app as blocked")
	checkBlockCmd.Flags().StringVar(&checkCategory, "category", "", "App category")
	checkBlockCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkBlockCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")

	checkCmd.AddCommand(checkBlockCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckBlock(cmd *cobra.Command, args []string) error {
	name := args[0]

	// Parse time (if provided)
	checkDateTime := time.Now()
	if checkDay != "" || checkTime != "" {
		var err error
		checkDateTime, err = parseCheckTime(checkDay, checkTime)
		if err != nil {
			return fmt.Errorf("invalid time specification: %w", err)
		}
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openLocalStorage(cfg.Storage.Local)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	repo := profile.NewRepository(store.Values(), cfg.Ledger.DailyLimit, logger)
	stats := repo.LoadStats(ctx)

	in := policy.Input{
		App:         policy.App{Name: name},
		FocusActive: checkFocus,
		ActiveZones: checkZones,
		TodayUsage:  stats.TodayUsage,
		DailyLimit:  stats.DailyLimit,
		Streak:      stats.Streak,
		Layout:      ledger.LayoutImmersive,
	}
	if stats.WarningConfig != nil {
		in.Layout = stats.WarningConfig.Layout
	}
	for _, app := range repo.LoadBlockedApps(ctx) {
		if strings.EqualFold(app.Name, name) {
			in.App = policy.App{Name: app.Name, Category: app.Category, Blocked: app.Blocked}
			break
		}
	}

	flags := cmd.Flags()
	if flags.Changed("usage") {
		in.TodayUsage = checkUsage
	}
	if flags.Changed("limit") {
		in.DailyLimit = checkLimit
	}
	if flags.Changed("layout") {
		in.Layout = checkLayout
	}
	if flags.Changed("blocked") {
		in.App.Blocked = checkBlocked
	}
	if flags.Changed("category") {
		in.App.Category = checkCategory
	}

	// Pin the policy clock to the requested time
	policyEngine, err := policy.NewEngine(cfg.Policy.OPAPolicyDir, clock.NewFake(checkDateTime), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	decision := policyEngine.Evaluate(ctx, in)

	printBlockResult(in, checkDateTime, decision)

	return nil
}

// printBlockResult prints the block check result with colors
func printBlockResult(in policy.Input, checkTime time.Time, decision policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("BLOCK POLICY CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("App:         %s\n", in.App.Name)
	if in.App.Category != "" {
		fmt.Printf("Category:    %s\n", in.App.Category)
	}
	fmt.Printf("Blocked:     %t\n", in.App.Blocked)
	fmt.Printf("Focus:       %t\n", in.FocusActive)
	if len(in.ActiveZones) > 0 {
		fmt.Printf("Zones:       %s\n", strings.Join(in.ActiveZones, ", "))
	} else {
		fmt.Printf("Zones:       (none)\n")
	}
	fmt.Printf("Usage:       %d / %d minutes\n", int(in.TodayUsage), in.DailyLimit)
	fmt.Printf("Layout:      %s\n", in.Layout)
	fmt.Printf("Check Time:  %s (%s)\n", checkTime.Format("2006-01-02 15:04"), checkTime.Weekday())
	fmt.Println()

	cyan.Print("Decision:    ")
	switch decision.Action {
	case policy.ActionAllow:
		green.Println("ALLOW")
		fmt.Println("             → The app opens normally")
	case policy.ActionWarn:
		yellow.Println("WARN")
		fmt.Println("             → A dismissable warning is shown first")
	case policy.ActionBlock:
		red.Println("BLOCK")
		fmt.Println("             → The block screen is shown")
	default:
		fmt.Printf("%s\n", decision.Action)
	}

	if decision.Reason != "" {
		fmt.Printf("Reason:      %s\n", decision.Reason)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// parseCheckTime parses day and time flags into a time.Time
func parseCheckTime(dayStr, timeStr string) (time.Time, error) {
	return parseCheckTimeAt(time.Now(), dayStr, timeStr)
}

func parseCheckTimeAt(now time.Time, dayStr, timeStr string) (time.Time, error) {
	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		if len(strings.Split(timeStr, ":")) != 2 {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format")
		}
		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}

	targetDate := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), hour, minute, 0, 0, now.Location()), nil
}
