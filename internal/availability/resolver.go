// Package availability derives working hours, busy intervals and bookable
// slots for a staff member on a calendar day. Results are for display; the
// conflict checker stays authoritative at commit time.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"appointly/internal/apperr"
	"appointly/internal/metrics"
	"appointly/internal/model"
	"appointly/internal/store"
)

// DayReader reads a staff member's appointments for a day.
type DayReader interface {
	QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error)
}

// TemplateSource serves weekly templates; a missing one yields store.ErrNotFound.
type TemplateSource interface {
	GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error)
}

// Slot is a candidate start for a booking of a fixed length.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Resolver answers availability questions from the weekly template and the store.
type Resolver struct {
	templates TemplateSource
	reader    DayReader
	loc       *time.Location
	now       func() time.Time
}

// NewResolver creates a resolver. Dates are interpreted in loc.
func NewResolver(templates TemplateSource, reader DayReader, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{templates: templates, reader: reader, loc: loc, now: time.Now}
}

// Location returns the zone the resolver works in.
func (r *Resolver) Location() *time.Location { return r.loc }

// WorkingInterval returns the staff member's working hours on date.
// A missing template or a missing weekday entry is reported as Unset.
func (r *Resolver) WorkingInterval(ctx context.Context, staffID string, date time.Time) (model.WorkingHours, error) {
	tpl, err := r.templates.GetScheduleTemplate(ctx, staffID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Unset, nil
	}
	if err != nil {
		metrics.IncStoreError("get_template")
		return model.WorkingHours{}, apperr.Storage("get schedule template", err)
	}
	return tpl.WorkingOn(date.In(r.loc)), nil
}

// FreeBusyForDay returns the busy intervals of active appointments sorted by start.
func (r *Resolver) FreeBusyForDay(ctx context.Context, staffID string, date time.Time) ([]model.Interval, error) {
	dayStart, dayEnd := model.DayBounds(date.In(r.loc))
	appts, err := r.reader.QueryByStaffAndDay(ctx, staffID, dayStart, dayEnd, model.InactiveStatuses)
	if err != nil {
		metrics.IncStoreError("query_staff_day")
		return nil, apperr.Storage("query staff day", err)
	}

	busy := make([]model.Interval, 0, len(appts))
	for i := range appts {
		busy = append(busy, appts[i].Interval())
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

// Slots generates every step-aligned start inside the working interval that
// leaves room for duration, marking the ones that collide with a busy
// interval or lie in the past as unavailable. Days that are off or unset
// have no slots.
func (r *Resolver) Slots(ctx context.Context, staffID string, date time.Time, duration, step time.Duration) ([]Slot, error) {
	if duration <= 0 {
		return nil, apperr.Invalid("duration", "must be positive")
	}
	if step <= 0 {
		step = duration
	}

	local := date.In(r.loc)
	hours, err := r.WorkingInterval(ctx, staffID, local)
	if err != nil {
		return nil, err
	}
	span, ok := hours.Span(local)
	if !ok {
		return nil, nil
	}

	busy, err := r.FreeBusyForDay(ctx, staffID, local)
	if err != nil {
		return nil, fmt.Errorf("busy intervals: %w", err)
	}

	now := r.now()
	var slots []Slot
	for cursor := span.Start; !cursor.Add(duration).After(span.End); cursor = cursor.Add(step) {
		candidate := model.Interval{Start: cursor, End: cursor.Add(duration)}
		slots = append(slots, Slot{
			Start:     candidate.Start,
			End:       candidate.End,
			Available: !cursor.Before(now) && !overlapsAny(candidate, busy),
		})
	}
	return slots, nil
}

// FreeSlots returns only the available slots.
func (r *Resolver) FreeSlots(ctx context.Context, staffID string, date time.Time, duration, step time.Duration) ([]model.Interval, error) {
	slots, err := r.Slots(ctx, staffID, date, duration, step)
	if err != nil {
		return nil, err
	}
	var free []model.Interval
	for _, s := range slots {
		if s.Available {
			free = append(free, model.Interval{Start: s.Start, End: s.End})
		}
	}
	return free, nil
}

func overlapsAny(candidate model.Interval, busy []model.Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
