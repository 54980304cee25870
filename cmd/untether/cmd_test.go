package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"postgres://app:s3cret@db:5432/untether?sslmode=disable", "postgres://app:***REDACTED***@db:5432/untether?sslmode=disable"},
		{"postgres://app@db/untether", "postgres://app@db/untether"},
		{"host=db user=app password=s3cret dbname=untether", "host=db user=app password=***REDACTED*** dbname=untether"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redactDSN(tt.in))
	}
}

func TestValidKeysCoverConfig(t *testing.T) {
	keys := getValidKeys()
	for _, k := range []string{
		"server.api_port",
		"storage.local.path",
		"storage.remote.redis.password",
		"storage.remote.postgres.dsn",
		"ledger.expire_streaks",
		"content.api_key",
		"session.user_id",
	} {
		assert.True(t, keys[k], k)
	}
	assert.False(t, keys["storage.remote"])
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_port: 8080
  dns_port: 53
ledger:
  daily_limt: 90
`), 0o600))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"server.dns_port", "ledger.daily_limt"}, unknown)
}

func TestDefaultConfigMatchesLoader(t *testing.T) {
	cfg := getDefaultConfig()
	assert.Equal(t, 7420, cfg.Server.APIPort)
	assert.Equal(t, "bolt", cfg.Storage.Local.Type)
	assert.Equal(t, ledger.DefaultDailyLimit, cfg.Ledger.DailyLimit)
}

func TestParseCheckTime(t *testing.T) {
	// Monday
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	got, err := parseCheckTimeAt(now, "sat", "22:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 22, 15, 0, 0, time.UTC), got)

	got, err = parseCheckTimeAt(now, "", "08:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), got)

	_, err = parseCheckTimeAt(now, "someday", "")
	assert.Error(t, err)
	_, err = parseCheckTimeAt(now, "", "25:00")
	assert.Error(t, err)
	_, err = parseCheckTimeAt(now, "", "0800")
	assert.Error(t, err)
}

func TestPrintStats(t *testing.T) {
	color.NoColor = true

	stats := ledger.Fresh(120)
	stats.Streak = 9
	stats.TodayUsage = 150
	stats.StreakHistory = []ledger.StreakDay{
		{Date: "2025-03-08", Achieved: true, TimeSaved: 25},
		{Date: "2025-03-09", Achieved: false},
	}
	stats.DailyLogs = []ledger.DailyLog{{Date: "2025-03-09", ScreenTimeMinutes: 150, Benefits: []string{"Rested eyes"}}}

	var buf bytes.Buffer
	printStats(&buf, stats, 7)
	out := buf.String()

	assert.Contains(t, out, "9 days (purple)")
	assert.Contains(t, out, "150 / 120 minutes  (over limit)")
	assert.Contains(t, out, "2025-03-08  ✓  25 min saved")
	assert.Contains(t, out, "screen 150m")
	assert.Contains(t, out, "Rested eyes")
}
