package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/untether/internal/config"
	"github.com/goodtune/untether/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "untether"

// Store implements storage.ProfileStore using Redis hashes.
type Store struct {
	client *redis.Client
	prefix string
	put    *redis.Script
}

// Open creates a new Redis-backed profile store
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &Store{
		client: client,
		prefix: prefix,
		put:    redis.NewScript(putProfileScript),
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) profileKey(userID string) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, userID)
}

func (s *Store) indexKey() string {
	return s.prefix + ":profiles"
}

// GetProfile loads the profile row for userID.
func (s *Store) GetProfile(ctx context.Context, userID string) (*storage.Profile, error) {
	data, err := s.client.HGetAll(ctx, s.profileKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return parseProfile(userID, data)
}

// PutProfile overwrites the profile row. Concurrent writers resolve by
// arrival order.
func (s *Store) PutProfile(ctx context.Context, profile storage.Profile) error {
	if profile.UserID == "" {
		return fmt.Errorf("profile requires a user id")
	}
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	keys := []string{s.profileKey(profile.UserID), s.indexKey()}
	args := []interface{}{
		profile.UserID,
		string(profile.Stats),
		updatedAt.UTC().Format(time.RFC3339Nano),
		updatedAt.UnixMilli(),
	}
	if err := s.put.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("put profile %s: %w", profile.UserID, err)
	}
	return nil
}

// Version returns how many times the profile has been written.
func (s *Store) Version(ctx context.Context, userID string) (int64, error) {
	v, err := s.client.HGet(ctx, s.profileKey(userID), "version").Int64()
	if err == redis.Nil {
		return 0, storage.ErrNotFound
	}
	return v, err
}
