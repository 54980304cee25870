package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	TrackedMinutes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untether_tracked_minutes_total",
			Help: "Minutes classified by the activity sampler",
		},
		[]string{"class"},
	)

	UsageSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "untether_usage_sessions_total",
			Help: "Returns from background after more than the session gap",
		},
	)

	TrackingEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "untether_tracking_enabled",
			Help: "Whether the activity sampler is currently running",
		},
	)

	// Ledger metrics
	FocusSessionsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "untether_focus_sessions_completed_total",
			Help: "Total completed focus sessions",
		},
	)

	MinutesSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "untether_minutes_saved_total",
			Help: "Minutes credited by completed focus sessions",
		},
	)

	CurrentStreak = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "untether_streak_days",
			Help: "Current consecutive-day streak",
		},
	)

	DailyLogsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "untether_daily_logs_written_total",
			Help: "Daily log upserts",
		},
	)

	// Sync metrics
	SyncPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untether_sync_pushes_total",
			Help: "Profile pushes to the remote store",
		},
		[]string{"result"},
	)

	SyncPushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "untether_sync_push_duration_seconds",
			Help:    "Profile push duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Content metrics
	ContentRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untether_content_requests_total",
			Help: "Generative content requests",
		},
		[]string{"kind", "result"},
	)

	// Policy metrics
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untether_policy_decisions_total",
			Help: "Block policy decisions",
		},
		[]string{"action", "reason"},
	)

	// Geofence metrics
	ZoneTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untether_zone_transitions_total",
			Help: "Focus zone enter and exit events",
		},
		[]string{"direction"},
	)

	ActiveZones = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "untether_active_zones",
			Help: "Number of focus zones the device is currently inside",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TrackedMinutes,
		UsageSessions,
		TrackingEnabled,
		FocusSessionsCompleted,
		MinutesSaved,
		CurrentStreak,
		DailyLogsWritten,
		SyncPushes,
		SyncPushDuration,
		ContentRequests,
		PolicyDecisions,
		ZoneTransitions,
		ActiveZones,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
