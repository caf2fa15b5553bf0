// Package postgres is the PostgreSQL appointment store. Overlaps between
// active appointments are rejected by exclusion constraints, and the
// staff-day and client-day reads take transaction-scoped advisory locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store wraps the pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	loc    *time.Location
	logger zerolog.Logger
}

// Open connects, pings and migrates.
func Open(ctx context.Context, databaseURL string, loc *time.Location, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	s := &Store{pool: pool, loc: loc, logger: logger.With().Str("component", "postgres").Logger()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping backs the /readyz check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	// ends_at is written by the adapter so the exclusion constraints can index the span.
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		client_name TEXT NOT NULL DEFAULT '',
		client_phone TEXT NOT NULL,
		client_email TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		service_id TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT appointments_staff_no_overlap EXCLUDE USING gist (
			staff_id WITH =, tstzrange(starts_at, ends_at, '[)') WITH &&
		) WHERE (status IN ('pending', 'confirmed')),
		CONSTRAINT appointments_client_no_overlap EXCLUDE USING gist (
			client_phone WITH =, tstzrange(starts_at, ends_at, '[)') WITH &&
		) WHERE (status IN ('pending', 'confirmed'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_appointments_staff_day ON appointments (staff_id, starts_at)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_client_day ON appointments (client_phone, starts_at)`,

	`CREATE TABLE IF NOT EXISTS staff_schedules (
		staff_id TEXT NOT NULL,
		day_of_week SMALLINT NOT NULL CHECK (day_of_week BETWEEN 1 AND 7),
		is_off BOOLEAN NOT NULL DEFAULT false,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (staff_id, day_of_week)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, q := range migrations {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// SQLSTATEs that mean another writer won.
const (
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsConflict reports whether err is a constraint or concurrency rejection.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeExclusionViolation, codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if IsConflict(err) {
		return fmt.Errorf("%s: %w", op, store.ErrConcurrentModification)
	}
	return fmt.Errorf("%s: %w", op, err)
}
