// Package store provides storage backends for PayPipe.
//
// This file implements a PostgreSQL-backed key-value store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, window: cfg.DedupWindow, now: time.Now}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND (expires_at = 0 OR expires_at > $2)`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "key", key)
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, value, expiresAt(now, ttl), now.UnixMilli(),
	)
	if err != nil {
		slog.Error("PostgresStore Set failed", "error", err, "key", key)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	slog.Debug("PostgresStore Set succeeded", "key", key, "ttl", ttl)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at <> 0 AND expires_at <= $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", err)
	}
	keys, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM inbound_dedup WHERE processed_at <= $1`, now.Add(-s.window).UnixMilli())
	if err != nil {
		return keys, fmt.Errorf("failed to purge dedup records: %w", err)
	}
	dedup, _ := res.RowsAffected()
	slog.Debug("PostgresStore PurgeExpired succeeded", "keys", keys, "dedup", dedup)
	return keys + dedup, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
