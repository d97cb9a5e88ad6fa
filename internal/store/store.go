// Package store provides key-value storage backends for PayPipe.
//
// Every entry carries an expiry enforced by the backend: an expired key is
// invisible to Get even before PurgeExpired removes it.
package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Store is a key-value backend with per-key TTL.
type Store interface {
	// Get returns the value for key. found is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value under key. A ttl of zero or less means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// PurgeExpired removes expired entries and returns how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN         string
	DedupWindow time.Duration
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDedupWindow sets how long processed message ids are remembered.
func WithDedupWindow(d time.Duration) Option {
	return func(o *Opts) { o.DedupWindow = d }
}

// DefaultDedupWindow is how long processed message ids are remembered by default.
const DefaultDedupWindow = 24 * time.Hour

func applyOpts(opts []Option) Opts {
	cfg := Opts{DedupWindow: DefaultDedupWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DSN types returned by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
)

// DetectDSNType infers the backend from a connection string.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == ":memory:" || dsn == "memory":
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Backend is a Store that also deduplicates inbound messages.
type Backend interface {
	Store
	DedupRepo
}

// Open returns the backend matching the DSN.
func Open(dsn string, opts ...Option) (Backend, error) {
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		return NewPostgresStore(append(opts, WithPostgresDSN(dsn))...)
	case DSNTypeSQLite:
		return NewSQLiteStore(append(opts, WithSQLiteDSN(dsn))...)
	default:
		slog.Warn("store.Open: no DSN configured, state will not survive restarts")
		return NewInMemoryStore(opts...), nil
	}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// InMemoryStore is a process-local Store and DedupRepo.
type InMemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memEntry
	processed map[string]time.Time
	window    time.Duration
	now       func() time.Time
}

var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{
		entries:   make(map[string]memEntry),
		processed: make(map[string]time.Time),
		window:    cfg.DedupWindow,
		now:       time.Now,
	}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *InMemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	for id, at := range s.processed {
		if now.Sub(at) >= s.window {
			delete(s.processed, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) IsProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.processed[messageID]
	if !ok {
		return false, nil
	}
	return s.now().Sub(at) < s.window, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[messageID] = s.now()
	return nil
}
