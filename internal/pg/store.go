// Package pg stores listings, daily metrics and the refresh flag in Postgres.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultLockTTL = 10 * time.Minute

// Options configures the connection pool.
type Options struct {
	DSN      string
	MaxConns int
	// LockTTL is how long a held refresh flag is honored before it is considered stale.
	LockTTL time.Duration
}

// Store is a pgx-backed implementation of the listing, metrics and lock stores.
type Store struct {
	pool    *pgxpool.Pool
	lockTTL time.Duration
	now     func() time.Time
}

// New opens a pool and verifies connectivity.
func New(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	cfg.MaxConns = int32(opts.MaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Store{pool: pool, lockTTL: ttl, now: time.Now}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping ensures the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_listings (
  listing_id         text PRIMARY KEY,
  title              text NOT NULL DEFAULT '',
  company_name       text,
  location           text,
  referral_amount    double precision,
  commitment         text,
  rate_min           double precision,
  rate_max           double precision,
  pay_rate_frequency text,
  referral_link      text,
  status             text NOT NULL DEFAULT 'active',
  is_private         boolean NOT NULL DEFAULT false,
  rate_range_display text,
  detail_description text,
  raw_payload        jsonb NOT NULL DEFAULT '{}'::jsonb,
  created_at         timestamptz NOT NULL,
  synced_at          timestamptz NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS job_listings_visible_recent_idx
  ON job_listings (created_at DESC) WHERE status = 'active' AND NOT is_private`,
	`CREATE TABLE IF NOT EXISTS listing_metrics_daily (
  listing_id           text NOT NULL,
  metric_date          date NOT NULL,
  view_count           bigint NOT NULL DEFAULT 0,
  overlay_open_count   bigint NOT NULL DEFAULT 0,
  referral_click_count bigint NOT NULL DEFAULT 0,
  click_through_rate   double precision NOT NULL DEFAULT 0,
  last_aggregated_at   timestamptz NOT NULL,
  PRIMARY KEY (listing_id, metric_date)
)`,
	`CREATE TABLE IF NOT EXISTS refresh_lock (
  id        smallint PRIMARY KEY CHECK (id = 1),
  locked    boolean NOT NULL DEFAULT false,
  locked_at timestamptz
)`,
	`ALTER TABLE refresh_lock ADD COLUMN IF NOT EXISTS holder text`,
	`INSERT INTO refresh_lock (id, locked) VALUES (1, false) ON CONFLICT (id) DO NOTHING`,
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// inTx runs fn in a transaction that is rolled back unless fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
