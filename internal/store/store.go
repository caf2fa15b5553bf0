// Package store declares the persistence boundary of the scheduling engine.
// Drivers live in internal/db (SQLite), internal/postgres, internal/mongo and
// internal/store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"appointly/internal/model"
)

var (
	// ErrNotFound is returned when an appointment or template does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification is returned when the store rejects a commit
	// because another writer got there first. The caller re-runs check and commit.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Reader holds the query primitives the conflict checker needs.
// Day bounds are half-open: dayStart <= start < dayEnd.
type Reader interface {
	QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error)
	QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
}

// Tx is a store transaction. Reads on a Tx see a state that a concurrent
// conflicting commit cannot change before Commit returns.
type Tx interface {
	Reader
	// Commit inserts or replaces a single appointment and sets its timestamps.
	Commit(ctx context.Context, a *model.Appointment) error
}

// Store runs transactions. fn's error rolls the transaction back.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// TemplateCatalog serves weekly schedule templates.
type TemplateCatalog interface {
	GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error)
	SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error
}

// Backend is everything a driver provides.
type Backend interface {
	Store
	TemplateCatalog
	Close() error
}

// Excluded reports whether status is in the exclusion list.
func Excluded(status model.Status, exclude []model.Status) bool {
	for _, s := range exclude {
		if s == status {
			return true
		}
	}
	return false
}
