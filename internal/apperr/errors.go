// Package apperr defines the error taxonomy returned by the scheduling engine.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ErrStorageUnavailable matches every StorageError via errors.Is.
var ErrStorageUnavailable = errors.New("availability unknown: storage unavailable")

// ValidationError reports a malformed request. It is raised before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictKind names the violated scheduling invariant.
type ConflictKind string

const (
	ConflictLocation      ConflictKind = "location"
	ConflictStaffOverlap  ConflictKind = "staff_overlap"
	ConflictClientOverlap ConflictKind = "client_overlap"
)

// ConflictError carries the colliding appointment so callers can render
// a message like "already booked from 09:00 to 10:00".
type ConflictError struct {
	Kind          ConflictKind
	AppointmentID string
	StaffID       string
	LocationID    string
	ClientPhone   string
	Start         time.Time
	End           time.Time
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictLocation:
		return fmt.Sprintf("staff %s is already booked at location %s on %s",
			e.StaffID, e.LocationID, e.Start.Format("2006-01-02"))
	case ConflictStaffOverlap:
		return fmt.Sprintf("staff %s is already booked from %s to %s",
			e.StaffID, e.Start.Format("15:04"), e.End.Format("15:04"))
	case ConflictClientOverlap:
		return fmt.Sprintf("client %s already has an appointment from %s to %s",
			e.ClientPhone, e.Start.Format("15:04"), e.End.Format("15:04"))
	default:
		return fmt.Sprintf("conflict %s with appointment %s", e.Kind, e.AppointmentID)
	}
}

// StorageError wraps a failed read or write against the appointment store.
// Callers should treat it as retryable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorageUnavailable) true for any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// Retryable reports whether the whole check and commit may be retried.
func (e *StorageError) Retryable() bool { return true }

// Storage wraps err as a StorageError unless it already is one.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// AsConflict returns the ConflictError inside err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

// AsValidation returns the ValidationError inside err, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
