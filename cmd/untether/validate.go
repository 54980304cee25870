package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/untether/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the UnTether configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys, derived from
// the mapstructure tags of config.Config
func getValidKeys() map[string]bool {
	keys := map[string]bool{}
	collectKeys(reflect.TypeOf(config.Config{}), "", keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			collectKeys(field.Type, key, keys)
			continue
		}
		keys[key] = true
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(w, name, value, defaultValue, yellow, green)
	}

	// Server
	_, _ = cyan.Fprintln(w, "\n[server]")
	field("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress)
	field("  api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort)
	field("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort)

	// Storage
	_, _ = cyan.Fprintln(w, "\n[storage]")
	_, _ = cyan.Fprintln(w, "  [storage.local]")
	field("    type", cfg.Storage.Local.Type, defaultCfg.Storage.Local.Type)
	field("    path", cfg.Storage.Local.Path, defaultCfg.Storage.Local.Path)
	_, _ = cyan.Fprintln(w, "  [storage.remote]")
	field("    type", cfg.Storage.Remote.Type, defaultCfg.Storage.Remote.Type)
	_, _ = cyan.Fprintln(w, "  [storage.remote.redis]")
	field("    host", cfg.Storage.Remote.Redis.Host, defaultCfg.Storage.Remote.Redis.Host)
	field("    port", cfg.Storage.Remote.Redis.Port, defaultCfg.Storage.Remote.Redis.Port)
	field("    password", redactPassword(cfg.Storage.Remote.Redis.Password), redactPassword(defaultCfg.Storage.Remote.Redis.Password))
	field("    db", cfg.Storage.Remote.Redis.DB, defaultCfg.Storage.Remote.Redis.DB)
	field("    pool_size", cfg.Storage.Remote.Redis.PoolSize, defaultCfg.Storage.Remote.Redis.PoolSize)
	field("    min_idle_conns", cfg.Storage.Remote.Redis.MinIdleConns, defaultCfg.Storage.Remote.Redis.MinIdleConns)
	field("    dial_timeout", cfg.Storage.Remote.Redis.DialTimeout, defaultCfg.Storage.Remote.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Remote.Redis.ReadTimeout, defaultCfg.Storage.Remote.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Remote.Redis.WriteTimeout, defaultCfg.Storage.Remote.Redis.WriteTimeout)
	field("    key_prefix", cfg.Storage.Remote.Redis.KeyPrefix, defaultCfg.Storage.Remote.Redis.KeyPrefix)
	_, _ = cyan.Fprintln(w, "  [storage.remote.postgres]")
	field("    dsn", redactDSN(cfg.Storage.Remote.Postgres.DSN), redactDSN(defaultCfg.Storage.Remote.Postgres.DSN))
	field("    max_open_conns", cfg.Storage.Remote.Postgres.MaxOpenConns, defaultCfg.Storage.Remote.Postgres.MaxOpenConns)
	field("    max_idle_conns", cfg.Storage.Remote.Postgres.MaxIdleConns, defaultCfg.Storage.Remote.Postgres.MaxIdleConns)
	field("    conn_max_lifetime", cfg.Storage.Remote.Postgres.ConnMaxLifetime, defaultCfg.Storage.Remote.Postgres.ConnMaxLifetime)

	// Logging
	_, _ = cyan.Fprintln(w, "\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)

	// Tracking
	_, _ = cyan.Fprintln(w, "\n[tracking]")
	field("  tick_interval", cfg.Tracking.TickInterval, defaultCfg.Tracking.TickInterval)
	field("  idle_timeout", cfg.Tracking.IdleTimeout, defaultCfg.Tracking.IdleTimeout)
	field("  session_gap", cfg.Tracking.SessionGap, defaultCfg.Tracking.SessionGap)
	field("  merge_interval", cfg.Tracking.MergeInterval, defaultCfg.Tracking.MergeInterval)

	// Sync
	_, _ = cyan.Fprintln(w, "\n[sync]")
	field("  interval", cfg.Sync.Interval, defaultCfg.Sync.Interval)
	field("  timeout", cfg.Sync.Timeout, defaultCfg.Sync.Timeout)

	// Ledger
	_, _ = cyan.Fprintln(w, "\n[ledger]")
	field("  history_limit", cfg.Ledger.HistoryLimit, defaultCfg.Ledger.HistoryLimit)
	field("  daily_log_limit", cfg.Ledger.DailyLogLimit, defaultCfg.Ledger.DailyLogLimit)
	field("  journal_limit", cfg.Ledger.JournalLimit, defaultCfg.Ledger.JournalLimit)
	field("  daily_limit", cfg.Ledger.DailyLimit, defaultCfg.Ledger.DailyLimit)
	field("  expire_streaks", cfg.Ledger.ExpireStreaks, defaultCfg.Ledger.ExpireStreaks)

	// Content
	_, _ = cyan.Fprintln(w, "\n[content]")
	field("  enabled", cfg.Content.Enabled, defaultCfg.Content.Enabled)
	field("  endpoint", cfg.Content.Endpoint, defaultCfg.Content.Endpoint)
	field("  api_key", redactPassword(cfg.Content.APIKey), redactPassword(defaultCfg.Content.APIKey))
	field("  timeout", cfg.Content.Timeout, defaultCfg.Content.Timeout)
	field("  voice", cfg.Content.Voice, defaultCfg.Content.Voice)
	field("  cache_size", cfg.Content.CacheSize, defaultCfg.Content.CacheSize)

	// Policy
	_, _ = cyan.Fprintln(w, "\n[policy]")
	field("  opa_policy_dir", cfg.Policy.OPAPolicyDir, defaultCfg.Policy.OPAPolicyDir)

	// Session
	_, _ = cyan.Fprintln(w, "\n[session]")
	field("  user_id", cfg.Session.UserID, defaultCfg.Session.UserID)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Fprintln(w, "\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(w, "  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}

// redactDSN hides the password in a postgres URL or key=value DSN
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if scheme, rest, ok := strings.Cut(dsn, "://"); ok {
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			creds := rest[:at]
			if user, _, hasPass := strings.Cut(creds, ":"); hasPass {
				return scheme + "://" + user + ":***REDACTED***" + rest[at:]
			}
		}
		return dsn
	}

	parts := strings.Fields(dsn)
	for i, p := range parts {
		if strings.HasPrefix(p, "password=") {
			parts[i] = "password=***REDACTED***"
		}
	}
	return strings.Join(parts, " ")
}
