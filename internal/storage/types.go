package storage

import (
	"encoding/json"
	"time"
)

// Profile is a remote profile row.
type Profile struct {
	UserID    string          `json:"user_id"`
	Stats     json.RawMessage `json:"stats"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SyncState is the local bookkeeping for one user's remote sync.
type SyncState struct {
	UserID     string    `json:"user_id"`
	Pending    bool      `json:"pending"`
	LastPushAt time.Time `json:"last_push_at"`
	LastError  string    `json:"last_error,omitempty"`
	Pushes     int64     `json:"pushes"`
	Failures   int64     `json:"failures"`
}
