package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/untether/internal/storage"
)

// parseProfile converts a Redis hash to a Profile
func parseProfile(userID string, data map[string]string) (*storage.Profile, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	stats := data["stats"]
	if stats == "" {
		return nil, storage.ErrNotFound
	}
	if !json.Valid([]byte(stats)) {
		return nil, fmt.Errorf("profile %s: stats is not valid JSON", userID)
	}

	profile := &storage.Profile{
		UserID: userID,
		Stats:  json.RawMessage(stats),
	}

	if raw := data["updated_at"]; raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		profile.UpdatedAt = updatedAt
	}

	return profile, nil
}
