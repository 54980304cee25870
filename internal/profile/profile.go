// Package profile reads and writes the on-device profile: the stats
// aggregate, the block catalogue, focus zones and a few user flags. Reads never
// fail on bad data; a missing or corrupt value yields the default.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/untether/internal/geofence"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultWarningStyle = "The Stoic"
	DefaultPersonaVoice = "Charon"
)

// BlockableApp is an entry in the block catalogue.
type BlockableApp struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Blocked   bool   `json:"blocked"`
	IconColor string `json:"iconColor"`
}

// DefaultBlockedApps returns the catalogue used before the user edits it.
func DefaultBlockedApps() []BlockableApp {
	return []BlockableApp{
		{ID: "1", Name: "TikTok", Category: "Entertainment", Blocked: true, IconColor: "#ff0050"},
		{ID: "2", Name: "Instagram", Category: "Social", Blocked: true, IconColor: "#e4405f"},
		{ID: "3", Name: "YouTube", Category: "Entertainment", Blocked: false, IconColor: "#ff0000"},
		{ID: "4", Name: "X / Twitter", Category: "Social", Blocked: false, IconColor: "#1DA1F2"},
		{ID: "5", Name: "reddit.com", Category: "Website", Blocked: false, IconColor: "#FF4500"},
		{ID: "6", Name: "netflix.com", Category: "Website", Blocked: false, IconColor: "#E50914"},
	}
}

// DefaultZones returns the zones used before the user edits them.
func DefaultZones() []geofence.Zone {
	return []geofence.Zone{
		{ID: "1", Name: "Sanctuary", Address: "37.7749, -122.4194", Radius: 150, Active: true},
		{ID: "2", Name: "The Hub", Address: "37.7833, -122.4167", Radius: 200, Active: false},
	}
}

// Repository is a typed view over the local value store.
type Repository struct {
	values     storage.ValueStore
	dailyLimit int
	logger     zerolog.Logger
}

// NewRepository creates a repository. dailyLimit seeds fresh aggregates.
func NewRepository(values storage.ValueStore, dailyLimit int, logger zerolog.Logger) *Repository {
	if dailyLimit <= 0 {
		dailyLimit = ledger.DefaultDailyLimit
	}
	return &Repository{
		values:     values,
		dailyLimit: dailyLimit,
		logger:     logger.With().Str("component", "profile").Logger(),
	}
}

// LoadStats returns the stored aggregate, or a fresh one.
func (r *Repository) LoadStats(ctx context.Context) ledger.UserStats {
	var stats ledger.UserStats
	if !r.loadJSON(ctx, storage.KeyStats, &stats) {
		return ledger.Fresh(r.dailyLimit)
	}
	stats.Normalize(r.dailyLimit)
	return stats
}

// SaveStats persists the aggregate.
func (r *Repository) SaveStats(ctx context.Context, stats ledger.UserStats) error {
	return r.saveJSON(ctx, storage.KeyStats, stats)
}

// LoadBlockedApps returns the block catalogue.
func (r *Repository) LoadBlockedApps(ctx context.Context) []BlockableApp {
	var apps []BlockableApp
	if !r.loadJSON(ctx, storage.KeyBlockedApps, &apps) || apps == nil {
		return DefaultBlockedApps()
	}
	return apps
}

// SaveBlockedApps persists the block catalogue.
func (r *Repository) SaveBlockedApps(ctx context.Context, apps []BlockableApp) error {
	return r.saveJSON(ctx, storage.KeyBlockedApps, apps)
}

// LoadZones returns the configured focus zones.
func (r *Repository) LoadZones(ctx context.Context) []geofence.Zone {
	var zones []geofence.Zone
	if !r.loadJSON(ctx, storage.KeyZones, &zones) || zones == nil {
		return DefaultZones()
	}
	return zones
}

// SaveZones persists the focus zones.
func (r *Repository) SaveZones(ctx context.Context, zones []geofence.Zone) error {
	return r.saveJSON(ctx, storage.KeyZones, zones)
}

// Consent reports whether the user granted tracking consent.
func (r *Repository) Consent(ctx context.Context) bool {
	return r.flag(ctx, storage.KeyConsent)
}

// SetConsent stores or revokes consent. Revoking removes the key.
func (r *Repository) SetConsent(ctx context.Context, granted bool) error {
	return r.setFlag(ctx, storage.KeyConsent, granted)
}

// OnboardingComplete reports whether onboarding was finished.
func (r *Repository) OnboardingComplete(ctx context.Context) bool {
	return r.flag(ctx, storage.KeyOnboardingComplete)
}

// SetOnboardingComplete marks onboarding as finished.
func (r *Repository) SetOnboardingComplete(ctx context.Context, done bool) error {
	return r.setFlag(ctx, storage.KeyOnboardingComplete, done)
}

// WarningStyle returns the selected persona name.
func (r *Repository) WarningStyle(ctx context.Context) string {
	return r.text(ctx, storage.KeyWarningStyle, DefaultWarningStyle)
}

// PersonaVoice returns the voice used to speak warnings.
func (r *Repository) PersonaVoice(ctx context.Context) string {
	return r.text(ctx, storage.KeyPersonaVoice, DefaultPersonaVoice)
}

// SetPersona stores the warning style and its voice together.
func (r *Repository) SetPersona(ctx context.Context, style, voice string) error {
	if style == "" || voice == "" {
		return fmt.Errorf("persona requires a style and a voice")
	}
	if err := r.values.Put(ctx, storage.KeyWarningStyle, []byte(style)); err != nil {
		return fmt.Errorf("save %s: %w", storage.KeyWarningStyle, err)
	}
	if err := r.values.Put(ctx, storage.KeyPersonaVoice, []byte(voice)); err != nil {
		return fmt.Errorf("save %s: %w", storage.KeyPersonaVoice, err)
	}
	return nil
}

func (r *Repository) loadJSON(ctx context.Context, key string, dst any) bool {
	data, err := r.values.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn().Err(err).Str("key", key).Msg("Failed to read local value")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Discarding corrupt local value")
		return false
	}
	return true
}

func (r *Repository) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.values.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (r *Repository) flag(ctx context.Context, key string) bool {
	return r.text(ctx, key, "") == "true"
}

func (r *Repository) setFlag(ctx context.Context, key string, on bool) error {
	var err error
	if on {
		err = r.values.Put(ctx, key, []byte("true"))
	} else {
		err = r.values.Delete(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (r *Repository) text(ctx context.Context, key, def string) string {
	data, err := r.values.Get(ctx, key)
	if err != nil || len(data) == 0 {
		return def
	}
	return string(data)
}
