package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %q, expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}

	return TimeOfDay(hour*60 + minute), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the instant of t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(t)/60, int(t)%60, 0, 0, date.Location())
}

// DaySchedule is one weekday entry of a template.
// Start and End are ignored when Off is set.
type DaySchedule struct {
	Off   bool
	Start TimeOfDay
	End   TimeOfDay
}

// Validate enforces start < end on working days.
func (d DaySchedule) Validate() error {
	if d.Off {
		return nil
	}
	if d.Start >= d.End {
		return fmt.Errorf("start %s must be before end %s", d.Start, d.End)
	}
	return nil
}

// ScheduleTemplate is a staff member's recurring weekly availability.
// A weekday without an entry is unset, which is different from a day off.
type ScheduleTemplate struct {
	StaffID string
	Days    map[time.Weekday]DaySchedule
}

// NewScheduleTemplate returns an empty template for staffID.
func NewScheduleTemplate(staffID string) *ScheduleTemplate {
	return &ScheduleTemplate{StaffID: staffID, Days: make(map[time.Weekday]DaySchedule, 7)}
}

// Set stores the entry for a weekday.
func (t *ScheduleTemplate) Set(day time.Weekday, ds DaySchedule) {
	if t.Days == nil {
		t.Days = make(map[time.Weekday]DaySchedule, 7)
	}
	t.Days[day] = ds
}

// Validate checks every configured day.
func (t *ScheduleTemplate) Validate() error {
	for day, ds := range t.Days {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("invalid weekday %d", day)
		}
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}
	return nil
}

// WorkingKind distinguishes the three answers to "does this person work on date".
type WorkingKind string

const (
	WorkingInterval WorkingKind = "interval"
	WorkingOff      WorkingKind = "off"
	WorkingUnset    WorkingKind = "unset"
)

// WorkingHours is the effective schedule for one calendar day.
// Start and End are meaningful only for WorkingInterval.
type WorkingHours struct {
	Kind  WorkingKind
	Start TimeOfDay
	End   TimeOfDay
}

// Unset is the answer when no template or no entry exists.
var Unset = WorkingHours{Kind: WorkingUnset}

// Span returns the absolute interval for date. ok is false unless Kind is WorkingInterval.
func (w WorkingHours) Span(date time.Time) (Interval, bool) {
	if w.Kind != WorkingInterval {
		return Interval{}, false
	}
	return Interval{Start: w.Start.On(date), End: w.End.On(date)}, true
}

// WorkingOn returns the effective working hours for date's weekday.
// An Off entry wins even when Start and End are filled in.
func (t *ScheduleTemplate) WorkingOn(date time.Time) WorkingHours {
	if t == nil {
		return Unset
	}
	ds, ok := t.Days[date.Weekday()]
	if !ok {
		return Unset
	}
	if ds.Off {
		return WorkingHours{Kind: WorkingOff}
	}
	return WorkingHours{Kind: WorkingInterval, Start: ds.Start, End: ds.End}
}
