// Package pgcache provides a PostgreSQL result cache shared by every
// process talking to the same database.
package pgcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ambiyansyah-risyal/jsonservice"
)

const logPrefix = "pgcache:store"

// DefaultTable holds entries unless WithTable says otherwise.
const DefaultTable = "jsonservice_cache"

// Querier is the subset of pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// NewPool creates a pgx connection pool and checks it can reach the
// database.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// Store implements jsonservice.Cache on a single table keyed by cache key.
// Concurrent writers of one key resolve as last writer wins.
type Store struct {
	db    Querier
	table string
	now   func() time.Time
}

var _ jsonservice.Cache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTable stores entries in table instead of DefaultTable.
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// New creates a store on db.
func New(db Querier, opts ...Option) *Store {
	s := &Store{db: db, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureSchema creates the table and its expiry index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	t := s.ident()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			key        TEXT PRIMARY KEY,
			entry      BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{s.table + "_expires_at_idx"}.Sanitize() +
			` ON ` + t + ` (expires_at)`,
	}
	for _, sql := range stmts {
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - ensure schema: %w", logPrefix, err)
		}
	}
	return nil
}

// Get returns the live entry for key. Expired rows read as a miss and are
// removed.
func (s *Store) Get(ctx context.Context, key string) (*jsonservice.CacheEntry, bool, error) {
	var data []byte
	var expiresAt time.Time
	err := s.db.QueryRow(ctx,
		`SELECT entry, expires_at FROM `+s.ident()+` WHERE key = $1`, key).Scan(&data, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s - get %s: %w", logPrefix, key, err)
	}

	if !s.now().Before(expiresAt) {
		if _, err := s.db.Exec(ctx,
			`DELETE FROM `+s.ident()+` WHERE key = $1 AND expires_at <= $2`, key, expiresAt); err != nil {
			slog.Debug(fmt.Sprintf("%s - failed to drop expired entry %s: %v", logPrefix, key, err))
		}
		return nil, false, nil
	}

	entry, err := jsonservice.DecodeCacheEntry(data)
	if err != nil {
		return nil, false, fmt.Errorf("%s - get %s: %w", logPrefix, key, err)
	}
	return entry, true, nil
}

// Set stores entry under key for ttl.
func (s *Store) Set(ctx context.Context, key string, entry *jsonservice.CacheEntry, ttl time.Duration) error {
	stored := *entry
	now := s.now()
	stored.StoredAt = now
	stored.ExpiresAt = now.Add(ttl)

	data, err := jsonservice.EncodeCacheEntry(&stored)
	if err != nil {
		return fmt.Errorf("%s - set %s: %w", logPrefix, key, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.ident()+` (key, entry, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET entry = EXCLUDED.entry, expires_at = EXCLUDED.expires_at`,
		key, data, stored.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%s - set %s: %w", logPrefix, key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM `+s.ident()+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%s - delete %s: %w", logPrefix, key, err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM `+s.ident()); err != nil {
		return fmt.Errorf("%s - clear: %w", logPrefix, err)
	}
	return nil
}

// Purge removes expired entries and returns how many were dropped.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.ident()+` WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s - purge: %w", logPrefix, err)
	}
	return tag.RowsAffected(), nil
}
