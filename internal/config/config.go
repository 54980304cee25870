package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Content  ContentConfig  `mapstructure:"content"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Session  SessionConfig  `mapstructure:"session"`
}

// ServerConfig defines listener ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines the local and remote storage backends
type StorageConfig struct {
	Local  LocalStorageConfig  `mapstructure:"local"`
	Remote RemoteStorageConfig `mapstructure:"remote"`
}

// LocalStorageConfig selects the on-device key-value store
type LocalStorageConfig struct {
	Type string `mapstructure:"type"` // "bolt" or "sqlite"
	Path string `mapstructure:"path"`
}

// RemoteStorageConfig selects the remote profile store
type RemoteStorageConfig struct {
	Type     string         `mapstructure:"type"` // "none", "redis" or "postgres"
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// PostgresConfig defines PostgreSQL connection settings
type PostgresConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines activity sampling settings
type TrackingConfig struct {
	TickInterval  string `mapstructure:"tick_interval"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
	SessionGap    string `mapstructure:"session_gap"`
	MergeInterval string `mapstructure:"merge_interval"`
}

// SyncConfig defines profile sync behavior
type SyncConfig struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
}

// LedgerConfig defines history retention and streak rules
type LedgerConfig struct {
	HistoryLimit  int  `mapstructure:"history_limit"`
	DailyLogLimit int  `mapstructure:"daily_log_limit"`
	JournalLimit  int  `mapstructure:"journal_limit"`
	DailyLimit    int  `mapstructure:"daily_limit"`
	ExpireStreaks bool `mapstructure:"expire_streaks"`
}

// ContentConfig defines the generative content proxy
type ContentConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	Timeout   string `mapstructure:"timeout"`
	Voice     string `mapstructure:"voice"`
	CacheSize int    `mapstructure:"cache_size"`
}

// PolicyConfig defines block policy settings
type PolicyConfig struct {
	OPAPolicyDir string `mapstructure:"opa_policy_dir"`
}

// SessionConfig defines the session restored at startup
type SessionConfig struct {
	UserID string `mapstructure:"user_id"`
}

// Load loads configuration from file and environment variables. A .env file
// in the working directory is read first, if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("UNTETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values on v
func SetDefaults(v *viper.Viper) {
	setDefaults(v)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 7420)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.local.type", "bolt")
	v.SetDefault("storage.local.path", "/var/lib/untether/untether.bolt")
	v.SetDefault("storage.remote.type", "none")
	v.SetDefault("storage.remote.redis.host", "localhost")
	v.SetDefault("storage.remote.redis.port", 6379)
	v.SetDefault("storage.remote.redis.db", 0)
	v.SetDefault("storage.remote.redis.pool_size", 10)
	v.SetDefault("storage.remote.redis.min_idle_conns", 1)
	v.SetDefault("storage.remote.redis.dial_timeout", "5s")
	v.SetDefault("storage.remote.redis.read_timeout", "3s")
	v.SetDefault("storage.remote.redis.write_timeout", "3s")
	v.SetDefault("storage.remote.redis.key_prefix", "untether")
	v.SetDefault("storage.remote.postgres.max_open_conns", 5)
	v.SetDefault("storage.remote.postgres.max_idle_conns", 2)
	v.SetDefault("storage.remote.postgres.conn_max_lifetime", "30m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.idle_timeout", "60s")
	v.SetDefault("tracking.session_gap", "1m")
	v.SetDefault("tracking.merge_interval", "10s")

	// Sync defaults
	v.SetDefault("sync.interval", "60s")
	v.SetDefault("sync.timeout", "10s")

	// Ledger defaults
	v.SetDefault("ledger.history_limit", 60)
	v.SetDefault("ledger.daily_log_limit", 90)
	v.SetDefault("ledger.journal_limit", 50)
	v.SetDefault("ledger.daily_limit", 180)
	v.SetDefault("ledger.expire_streaks", false)

	// Content defaults
	v.SetDefault("content.enabled", false)
	v.SetDefault("content.endpoint", "http://localhost:3000/api/gemini")
	v.SetDefault("content.timeout", "15s")
	v.SetDefault("content.voice", "Kore")
	v.SetDefault("content.cache_size", 32)

	// Policy defaults
	v.SetDefault("policy.opa_policy_dir", "")

	// Session defaults
	v.SetDefault("session.user_id", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Local.Type {
	case "", "bolt", "sqlite":
	default:
		return fmt.Errorf("unknown local storage type: %s", cfg.Storage.Local.Type)
	}
	if cfg.Storage.Local.Type == "" {
		cfg.Storage.Local.Type = "bolt"
	}
	if cfg.Storage.Local.Path == "" {
		return fmt.Errorf("local storage path is required")
	}

	switch cfg.Storage.Remote.Type {
	case "", "none":
		cfg.Storage.Remote.Type = "none"
	case "redis":
		if cfg.Storage.Remote.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis remote storage")
		}
	case "postgres":
		if cfg.Storage.Remote.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required for postgres remote storage")
		}
	default:
		return fmt.Errorf("unknown remote storage type: %s", cfg.Storage.Remote.Type)
	}

	durations := map[string]string{
		"tracking.tick_interval":  cfg.Tracking.TickInterval,
		"tracking.idle_timeout":   cfg.Tracking.IdleTimeout,
		"tracking.session_gap":    cfg.Tracking.SessionGap,
		"tracking.merge_interval": cfg.Tracking.MergeInterval,
		"sync.interval":           cfg.Sync.Interval,
		"sync.timeout":            cfg.Sync.Timeout,
		"content.timeout":         cfg.Content.Timeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if cfg.Ledger.DailyLimit <= 0 || cfg.Ledger.DailyLimit > 24*60 {
		return fmt.Errorf("invalid ledger.daily_limit: %d", cfg.Ledger.DailyLimit)
	}

	if cfg.Content.Enabled && cfg.Content.Endpoint == "" {
		return fmt.Errorf("content endpoint is required when content is enabled")
	}

	// Ensure storage directory exists
	storageDir := filepath.Dir(cfg.Storage.Local.Path)
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	return nil
}
