// Package postgres implements the remote profile store on PostgreSQL. The
// profiles table holds one row per user with the stats document in a JSONB
// column.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/goodtune/untether/internal/config"
	"github.com/goodtune/untether/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var sqlBuilder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store implements storage.ProfileStore.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle without running migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and applies the embedded migrations.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("invalid conn_max_lifetime: %w", err)
		}
		db.SetConnMaxLifetime(lifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := New(db)
	if err := s.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// RunMigrations applies the embedded goose migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetProfile loads the profile row for userID. A row without stats counts
// as missing.
func (s *Store) GetProfile(ctx context.Context, userID string) (*storage.Profile, error) {
	query, args, err := sqlBuilder.
		Select("stats", "updated_at").
		From("profiles").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		stats     sql.NullString
		updatedAt time.Time
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&stats, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !stats.Valid || stats.String == "" {
		return nil, storage.ErrNotFound
	}

	return &storage.Profile{
		UserID:    userID,
		Stats:     []byte(stats.String),
		UpdatedAt: updatedAt,
	}, nil
}

// PutProfile upserts the profile row. The last write wins.
func (s *Store) PutProfile(ctx context.Context, profile storage.Profile) error {
	if profile.UserID == "" {
		return fmt.Errorf("profile requires a user id")
	}
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query, args, err := sqlBuilder.
		Insert("profiles").
		Columns("id", "stats", "updated_at").
		Values(profile.UserID, string(profile.Stats), updatedAt.UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET stats = EXCLUDED.stats, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
