package model

import (
	"fmt"
	"strings"
	"time"

	"appointly/internal/apperr"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// AllStatuses lists the legal status values.
var AllStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow}

// InactiveStatuses never take part in conflict checks or free/busy views.
var InactiveStatuses = []Status{StatusCancelled, StatusCompleted, StatusNoShow}

// ParseStatus validates a raw status value.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", apperr.Invalid("status", "unknown status "+s)
	}
	return st, nil
}

// Valid reports whether s is one of the five legal values.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Active reports whether an appointment in this status still holds its slot.
func (s Status) Active() bool {
	for _, v := range InactiveStatuses {
		if v == s {
			return false
		}
	}
	return true
}

// Client identifies who the appointment is for. Phone is the matching key.
type Client struct {
	Name  string `json:"name" bson:"name"`
	Phone string `json:"phone" bson:"phone"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
}

// Appointment is a booked service for a client with a staff member at a location.
// The end instant is derived from Start and DurationMinutes and never stored.
type Appointment struct {
	ID              string    `json:"id" bson:"_id"`
	Client          Client    `json:"client" bson:"client"`
	LocationID      string    `json:"location_id" bson:"location_id"`
	StaffID         string    `json:"staff_id" bson:"staff_id"`
	ServiceID       string    `json:"service_id" bson:"service_id"`
	Start           time.Time `json:"start" bson:"start"`
	DurationMinutes int       `json:"duration_minutes" bson:"duration_minutes"`
	Status          Status    `json:"status" bson:"status"`
	Notes           string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

// Duration returns the appointment length.
func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// End returns Start + duration.
func (a *Appointment) End() time.Time {
	return a.Start.Add(a.Duration())
}

// Interval returns the half-open [start, end) span of the appointment.
func (a *Appointment) Interval() Interval {
	return Interval{Start: a.Start, End: a.End()}
}

// OverlapsWith checks if this appointment overlaps with another one.
// Touching intervals do not overlap.
func (a *Appointment) OverlapsWith(other *Appointment) bool {
	return a.Interval().Overlaps(other.Interval())
}

// MaxDurationMinutes caps an appointment at one day, so an appointment can
// only reach into the calendar day after the one it starts on.
const MaxDurationMinutes = 24 * 60

// Validate checks the fields the conflict checker relies on.
func (a *Appointment) Validate() error {
	if a.DurationMinutes <= 0 {
		return apperr.Invalid("duration_minutes", "must be positive")
	}
	if a.DurationMinutes > MaxDurationMinutes {
		return apperr.Invalid("duration_minutes", fmt.Sprintf("must not exceed %d", MaxDurationMinutes))
	}
	if a.Start.IsZero() {
		return apperr.Invalid("start", "is required")
	}
	if strings.TrimSpace(a.LocationID) == "" {
		return apperr.Invalid("location_id", "is required")
	}
	if strings.TrimSpace(a.StaffID) == "" {
		return apperr.Invalid("staff_id", "is required")
	}
	if strings.TrimSpace(a.Client.Phone) == "" {
		return apperr.Invalid("client.phone", "is required")
	}
	if a.Status != "" && !a.Status.Valid() {
		return apperr.Invalid("status", "unknown status "+string(a.Status))
	}
	return nil
}

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps implements the half-open test startA < endB && endA > startB.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

// Contains reports whether t falls inside [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// DayBounds returns [local midnight, next local midnight) for the day of t in t's location.
// AddDate keeps DST days at their real 23 or 25 hour length.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// NeighbourDays returns the local midnights of the day before t's day and
// the day after it. With durations capped at MaxDurationMinutes, an
// appointment overlapping one that starts on t's day starts on one of
// these days or on t's day itself.
func NeighbourDays(t time.Time) (prev, next time.Time) {
	day, _ := DayBounds(t)
	return day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)
}
