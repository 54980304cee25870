package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Well-known local keys.
const (
	KeyStats              = "untether_stats"
	KeyBlockedApps        = "untether_blocked_apps"
	KeyZones              = "untether_geo_zones"
	KeyConsent            = "untether_consent"
	KeyOnboardingComplete = "untether_onboarding_complete"
	KeyWarningStyle       = "untether_warning_style"
	KeyPersonaVoice       = "untether_persona_voice"
)

// Store represents the local durable storage on the device.
type Store interface {
	Close() error
	Values() ValueStore
	SyncState() SyncStateStore
}

// ValueStore is a string-keyed store of opaque values, usually JSON.
type ValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// SyncStateStore records per-user sync bookkeeping so pending pushes survive
// restarts.
type SyncStateStore interface {
	Get(ctx context.Context, userID string) (*SyncState, error)
	Put(ctx context.Context, state SyncState) error
}

// ProfileStore is the remote profile store: one row per user holding the
// stats document.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	PutProfile(ctx context.Context, profile Profile) error
	Close() error
}
