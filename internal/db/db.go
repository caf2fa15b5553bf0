// Package db is the SQLite appointment store and template catalog.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for the scheduler.
type DB struct {
	*sql.DB
	path   string
	loc    *time.Location
	logger zerolog.Logger
}

// NewDB opens database at path and runs migrations. Instants read back are
// converted to loc.
func NewDB(path string, loc *time.Location, logger zerolog.Logger) (*DB, error) {
	if loc == nil {
		loc = time.Local
	}

	// _txlock=immediate makes every transaction take the write lock at BEGIN,
	// so a check and its commit see no interleaved writer.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	db := &DB{
		DB:     sqlDB,
		path:   path,
		loc:    loc,
		logger: logger.With().Str("component", "sqlite").Logger(),
	}
	db.logger.Info().Str("path", path).Msg("database opened")
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			client_name TEXT NOT NULL DEFAULT '',
			client_phone TEXT NOT NULL,
			client_email TEXT NOT NULL DEFAULT '',
			location_id TEXT NOT NULL,
			staff_id TEXT NOT NULL,
			service_id TEXT NOT NULL DEFAULT '',
			starts_at INTEGER NOT NULL,
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
			status TEXT NOT NULL DEFAULT 'confirmed',
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Weekly templates; day_of_week is 1=Mon..7=Sun.
		`CREATE TABLE IF NOT EXISTS staff_schedules (
			staff_id TEXT NOT NULL,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 1 AND 7),
			is_off BOOLEAN NOT NULL DEFAULT 0,
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (staff_id, day_of_week)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_appointments_staff_day ON appointments(staff_id, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_client_day ON appointments(client_phone, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// mapErr turns lock contention into store.ErrConcurrentModification.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w", op, store.ErrConcurrentModification)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// weekdayToDB converts Go's weekday (0=Sun) to 1=Mon..7=Sun.
func weekdayToDB(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

func weekdayFromDB(day int) time.Weekday {
	if day == 7 {
		return time.Sunday
	}
	return time.Weekday(day)
}

func excludeClause(exclude []model.Status) (string, []any) {
	if len(exclude) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(exclude))
	args := make([]any, len(exclude))
	for i, s := range exclude {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	return " AND status NOT IN (" + strings.Join(placeholders, ",") + ")", args
}
