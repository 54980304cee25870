// Package profilesync mirrors the local stats aggregate to the remote profile
// store. Local writes never wait on the network: mutations mark the latest
// snapshot dirty and a background loop pushes it at most once per interval.
package profilesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/metrics"
	"github.com/goodtune/untether/internal/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// ErrNoUser is returned when pulling or pushing without a signed-in user.
var ErrNoUser = errors.New("profilesync: no user signed in")

// Config holds gateway settings.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Gateway pushes and pulls the aggregate for the signed-in user.
type Gateway struct {
	remote storage.ProfileStore
	state  storage.SyncStateStore
	clock  clock.Clock
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	userID     string
	pending    *ledger.UserStats
	generation uint64
	status     storage.SyncState

	// held for the duration of a push
	pushMu sync.Mutex
}

// NewGateway creates a gateway. A nil remote disables sync; a nil state
// store disables bookkeeping persistence.
func NewGateway(remote storage.ProfileStore, state storage.SyncStateStore, clk clock.Clock, config Config, logger zerolog.Logger) *Gateway {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Gateway{
		remote: remote,
		state:  state,
		clock:  clk,
		config: config,
		logger: logger.With().Str("component", "profilesync").Logger(),
	}
}

// Enabled reports whether a remote store is configured.
func (g *Gateway) Enabled() bool {
	return g.remote != nil
}

// SetUser switches the gateway to userID and restores its bookkeeping. It
// reports whether a push was still pending from a previous run.
func (g *Gateway) SetUser(ctx context.Context, userID string) bool {
	status := storage.SyncState{UserID: userID}
	if g.state != nil && userID != "" {
		saved, err := g.state.Get(ctx, userID)
		switch {
		case err == nil:
			status = *saved
		case !errors.Is(err, storage.ErrNotFound):
			g.logger.Warn().Err(err).Str("user", userID).Msg("Failed to load sync state")
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.userID = userID
	g.pending = nil
	g.generation++
	g.status = status
	return status.Pending
}

// ClearUser drops the user and any unpushed snapshot.
func (g *Gateway) ClearUser() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userID = ""
	g.pending = nil
	g.generation++
	g.status = storage.SyncState{}
}

// Status returns the bookkeeping for the current user.
func (g *Gateway) Status() storage.SyncState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Pull fetches the remote aggregate. It returns nil when sync is disabled or
// the user has no remote profile yet.
func (g *Gateway) Pull(ctx context.Context) (*ledger.UserStats, error) {
	if g.remote == nil {
		return nil, nil
	}
	g.mu.Lock()
	userID := g.userID
	g.mu.Unlock()
	if userID == "" {
		return nil, ErrNoUser
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	profile, err := g.remote.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pull profile: %w", err)
	}

	var stats ledger.UserStats
	if err := json.Unmarshal(profile.Stats, &stats); err != nil {
		return nil, fmt.Errorf("decode remote profile: %w", err)
	}
	return &stats, nil
}

// Schedule records stats as the latest snapshot to push.
func (g *Gateway) Schedule(ctx context.Context, stats ledger.UserStats) {
	if g.remote == nil {
		return
	}

	g.mu.Lock()
	if g.userID == "" {
		g.mu.Unlock()
		return
	}
	snapshot := stats.Clone()
	g.pending = &snapshot
	g.generation++
	wasPending := g.status.Pending
	g.status.Pending = true
	status := g.status
	g.mu.Unlock()

	if !wasPending {
		g.saveStatus(ctx, status)
	}
}

// Pending reports whether a snapshot is waiting to be pushed.
func (g *Gateway) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Run pushes the latest dirty snapshot once per interval until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	if g.remote == nil {
		return
	}

	ticker := g.clock.NewTicker(g.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := g.push(ctx); err != nil {
				g.logger.Warn().Err(err).Msg("Profile push failed, will retry next window")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Flush pushes the latest snapshot immediately.
func (g *Gateway) Flush(ctx context.Context) error {
	if g.remote == nil {
		return nil
	}
	return g.push(ctx)
}

func (g *Gateway) push(ctx context.Context) error {
	g.pushMu.Lock()
	defer g.pushMu.Unlock()

	g.mu.Lock()
	if g.pending == nil || g.userID == "" {
		g.mu.Unlock()
		return nil
	}
	userID := g.userID
	snapshot := *g.pending
	generation := g.generation
	g.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	start := time.Now()
	err = g.remote.PutProfile(pushCtx, storage.Profile{
		UserID:    userID,
		Stats:     data,
		UpdatedAt: g.clock.Now(),
	})
	metrics.SyncPushDuration.Observe(time.Since(start).Seconds())

	g.mu.Lock()
	if g.userID != userID {
		// user changed while the push was in flight
		g.mu.Unlock()
		return err
	}
	if err != nil {
		metrics.SyncPushes.WithLabelValues("failure").Inc()
		g.status.Failures++
		g.status.LastError = err.Error()
	} else {
		metrics.SyncPushes.WithLabelValues("success").Inc()
		g.status.Pushes++
		g.status.LastError = ""
		g.status.LastPushAt = g.clock.Now()
		if g.generation == generation {
			g.pending = nil
			g.status.Pending = false
		}
	}
	status := g.status
	g.mu.Unlock()

	g.saveStatus(ctx, status)

	if err != nil {
		return fmt.Errorf("push profile: %w", err)
	}
	g.logger.Debug().Str("user", userID).Int("streak", snapshot.Streak).Msg("Profile pushed")
	return nil
}

func (g *Gateway) saveStatus(ctx context.Context, status storage.SyncState) {
	if g.state == nil || status.UserID == "" {
		return
	}
	if err := g.state.Put(ctx, status); err != nil {
		g.logger.Warn().Err(err).Str("user", status.UserID).Msg("Failed to save sync state")
	}
}
