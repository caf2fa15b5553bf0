// Package conflict decides whether a candidate appointment can be placed
// without double-booking a staff member or client, or splitting a staff
// member's day across locations.
package conflict

import (
	"context"
	"time"

	"appointly/internal/apperr"
	"appointly/internal/metrics"
	"appointly/internal/model"
	"github.com/rs/zerolog"
)

// Querier is the subset of the appointment store the checker reads.
// A store transaction satisfies it, so check and commit can share one unit.
type Querier interface {
	QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error)
	QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error)
}

// Checker is stateless; every call reads the store.
type Checker struct {
	logger zerolog.Logger
}

// NewChecker creates a checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{logger: logger.With().Str("component", "conflict").Logger()}
}

// CheckConflicts returns nil when candidate fits, a *apperr.ValidationError for a
// malformed candidate, a *apperr.ConflictError for the first violated rule,
// or a *apperr.StorageError when availability cannot be determined.
// excludeID skips the appointment being rescheduled.
// Priority is location, then staff overlap, then client overlap.
//
// The location rule looks at the candidate's day only. The overlap rules also
// read the neighbouring days, since appointments may run past midnight.
func (c *Checker) CheckConflicts(ctx context.Context, q Querier, candidate *model.Appointment, excludeID string) error {
	if err := candidate.Validate(); err != nil {
		return err
	}

	started := time.Now()
	defer func() { metrics.ObserveConflictCheck(time.Since(started)) }()

	span := candidate.Interval()
	day, _ := model.DayBounds(candidate.Start)
	prev, next := model.NeighbourDays(candidate.Start)

	staffDay, err := c.staffDay(ctx, q, candidate.StaffID, day)
	if err != nil {
		return err
	}

	var staffOverlap *model.Appointment
	for i := range staffDay {
		existing := &staffDay[i]
		if existing.ID == excludeID {
			continue
		}
		if existing.LocationID != candidate.LocationID {
			return conflictWith(apperr.ConflictLocation, existing)
		}
		if staffOverlap == nil && span.Overlaps(existing.Interval()) {
			staffOverlap = existing
		}
	}
	if staffOverlap != nil {
		return conflictWith(apperr.ConflictStaffOverlap, staffOverlap)
	}

	for _, d := range []time.Time{prev, next} {
		appts, err := c.staffDay(ctx, q, candidate.StaffID, d)
		if err != nil {
			return err
		}
		if existing := firstOverlap(appts, span, excludeID); existing != nil {
			return conflictWith(apperr.ConflictStaffOverlap, existing)
		}
	}

	for _, d := range []time.Time{day, prev, next} {
		appts, err := c.clientDay(ctx, q, candidate.Client.Phone, d)
		if err != nil {
			return err
		}
		if existing := firstOverlap(appts, span, excludeID); existing != nil {
			return conflictWith(apperr.ConflictClientOverlap, existing)
		}
	}

	return nil
}

func (c *Checker) staffDay(ctx context.Context, q Querier, staffID string, day time.Time) ([]model.Appointment, error) {
	dayStart, dayEnd := model.DayBounds(day)
	appts, err := q.QueryByStaffAndDay(ctx, staffID, dayStart, dayEnd, model.InactiveStatuses)
	if err != nil {
		metrics.IncStoreError("query_staff_day")
		c.logger.Error().Err(err).Str("staff_id", staffID).Time("day", dayStart).Msg("staff day query failed")
		return nil, apperr.Storage("query staff day", err)
	}
	return appts, nil
}

func (c *Checker) clientDay(ctx context.Context, q Querier, phone string, day time.Time) ([]model.Appointment, error) {
	dayStart, dayEnd := model.DayBounds(day)
	appts, err := q.QueryByClientPhoneAndDay(ctx, phone, dayStart, dayEnd, model.InactiveStatuses)
	if err != nil {
		metrics.IncStoreError("query_client_day")
		c.logger.Error().Err(err).Time("day", dayStart).Msg("client day query failed")
		return nil, apperr.Storage("query client day", err)
	}
	return appts, nil
}

func firstOverlap(appts []model.Appointment, span model.Interval, excludeID string) *model.Appointment {
	for i := range appts {
		if appts[i].ID != excludeID && span.Overlaps(appts[i].Interval()) {
			return &appts[i]
		}
	}
	return nil
}

func conflictWith(kind apperr.ConflictKind, existing *model.Appointment) *apperr.ConflictError {
	return &apperr.ConflictError{
		Kind:          kind,
		AppointmentID: existing.ID,
		StaffID:       existing.StaffID,
		LocationID:    existing.LocationID,
		ClientPhone:   existing.Client.Phone,
		Start:         existing.Start,
		End:           existing.End(),
	}
}
