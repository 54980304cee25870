package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/untether/internal/agent"
	"github.com/goodtune/untether/internal/api"
	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/config"
	"github.com/goodtune/untether/internal/content"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/metrics"
	"github.com/goodtune/untether/internal/policy"
	"github.com/goodtune/untether/internal/profile"
	"github.com/goodtune/untether/internal/profilesync"
	"github.com/goodtune/untether/internal/storage"
	"github.com/goodtune/untether/internal/storage/bolt"
	"github.com/goodtune/untether/internal/storage/postgres"
	"github.com/goodtune/untether/internal/storage/redis"
	"github.com/goodtune/untether/internal/storage/sqlite"
	"github.com/goodtune/untether/internal/systemd"
	"github.com/goodtune/untether/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the UnTether agent",
	Long:  `Start the UnTether agent with the local JSON API and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting UnTether")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	local, err := openLocalStorage(cfg.Storage.Local)
	if err != nil {
		return fmt.Errorf("failed to initialize local storage: %w", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close local storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Local.Type).
		Str("path", cfg.Storage.Local.Path).
		Msg("Local storage initialized")

	remote, err := openRemoteStorage(ctx, cfg.Storage.Remote)
	if err != nil {
		return fmt.Errorf("failed to initialize remote storage: %w", err)
	}
	if remote != nil {
		defer func() {
			if err := remote.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close remote storage")
			}
		}()
	}

	logger.Info().
		Str("type", cfg.Storage.Remote.Type).
		Msg("Remote profile storage initialized")

	a, policyEngine, err := buildAgent(ctx, cfg, clock.RealClock{}, local, remote, logger)
	if err != nil {
		return err
	}

	// Restore the configured session
	if cfg.Session.UserID != "" {
		if _, err := a.Login(ctx, cfg.Session.UserID); err != nil {
			logger.Error().Err(err).Str("user", cfg.Session.UserID).Msg("Failed to restore session")
		}
	}
	a.Start(ctx)

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{ListenAddr: apiAddr}, a, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().Msg("UnTether startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading policies...")
		_ = systemd.NotifyReloading()
		if err := policyEngine.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload policies")
		} else {
			logger.Info().Msg("Policies reloaded successfully")
		}
		_ = systemd.NotifyReady()
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	// Final merge, daily log and push
	a.Stop(shutdownCtx)

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("UnTether stopped")

	return nil
}

// buildAgent wires the profile, sync, content and policy components into an
// agent. Nothing is started.
func buildAgent(ctx context.Context, cfg *config.Config, clk clock.Clock, local storage.Store, remote storage.ProfileStore, logger zerolog.Logger) (*agent.Agent, *policy.Engine, error) {
	ledgerOpts := ledger.Options{
		HistoryLimit:  cfg.Ledger.HistoryLimit,
		DailyLogLimit: cfg.Ledger.DailyLogLimit,
		JournalLimit:  cfg.Ledger.JournalLimit,
		DailyLimit:    cfg.Ledger.DailyLimit,
		ExpireStreaks: cfg.Ledger.ExpireStreaks,
	}

	profiles := profile.NewRepository(local.Values(), cfg.Ledger.DailyLimit, logger)

	gateway := profilesync.NewGateway(remote, local.SyncState(), clk, profilesync.Config{
		Interval: parseDuration(cfg.Sync.Interval, profilesync.DefaultInterval),
		Timeout:  parseDuration(cfg.Sync.Timeout, profilesync.DefaultTimeout),
	}, logger)

	writer, err := content.New(content.Config{
		Enabled:   cfg.Content.Enabled,
		Endpoint:  cfg.Content.Endpoint,
		APIKey:    cfg.Content.APIKey,
		Timeout:   parseDuration(cfg.Content.Timeout, 15*time.Second),
		Voice:     cfg.Content.Voice,
		CacheSize: cfg.Content.CacheSize,
	}, clk, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize content client: %w", err)
	}

	policyEngine, err := policy.NewEngine(cfg.Policy.OPAPolicyDir, clk, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	logger.Info().
		Str("opa_policy_dir", cfg.Policy.OPAPolicyDir).
		Bool("content", writer.Enabled()).
		Bool("sync", gateway.Enabled()).
		Msg("Components initialized")

	a := agent.New(ctx, agent.Deps{
		Clock:    clk,
		Profiles: profiles,
		Sync:     gateway,
		Content:  writer,
		Policy:   policyEngine,
	}, agent.Config{
		Ledger: ledgerOpts,
		Tracking: usage.Config{
			TickInterval: parseDuration(cfg.Tracking.TickInterval, time.Second),
			IdleTimeout:  parseDuration(cfg.Tracking.IdleTimeout, time.Minute),
			SessionGap:   parseDuration(cfg.Tracking.SessionGap, time.Minute),
		},
		MergeInterval: parseDuration(cfg.Tracking.MergeInterval, agent.DefaultMergeInterval),
	}, logger)

	return a, policyEngine, nil
}

func openLocalStorage(cfg config.LocalStorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported local storage type: %s", cfg.Type)
	}
}

// openRemoteStorage returns nil when no remote store is configured.
func openRemoteStorage(ctx context.Context, cfg config.RemoteStorageConfig) (storage.ProfileStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "redis":
		return redis.Open(cfg.Redis)
	case "postgres":
		return postgres.Open(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported remote storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
