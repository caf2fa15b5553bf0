// Package booking accepts, reschedules and transitions appointments. Every
// write runs the conflict check and the commit as one serialized unit.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointly/internal/apperr"
	"appointly/internal/conflict"
	"appointly/internal/events"
	"appointly/internal/lock"
	"appointly/internal/metrics"
	"appointly/internal/model"
	"appointly/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the check-and-commit unit.
type Options struct {
	// RetryAttempts is how many times a unit rejected with
	// store.ErrConcurrentModification is run in total.
	RetryAttempts int
	// StoreTimeout bounds a single attempt, locks included.
	StoreTimeout time.Duration
	// Location is the zone for day buckets and returned instants.
	Location *time.Location
}

// Service is the inbound interface of the scheduling engine.
type Service struct {
	store     store.Store
	checker   *conflict.Checker
	lifecycle *Lifecycle
	locker    lock.Locker
	bus       *events.EventBus
	logger    zerolog.Logger
	opts      Options
	newID     func() string
}

// NewService creates a booking service. A nil locker means in-process locks; a nil bus disables events.
func NewService(st store.Store, locker lock.Locker, bus *events.EventBus, opts Options, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		store:     st,
		checker:   conflict.NewChecker(logger),
		lifecycle: NewLifecycle(),
		locker:    locker,
		bus:       bus,
		logger:    logger.With().Str("component", "booking").Logger(),
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// ProposeBooking places a new appointment. It is created as confirmed.
func (s *Service) ProposeBooking(ctx context.Context, candidate model.Appointment) (*model.Appointment, error) {
	appt := candidate
	if strings.TrimSpace(appt.ID) == "" {
		appt.ID = s.newID()
	}
	appt.Status = model.StatusConfirmed
	appt.Start = appt.Start.In(s.opts.Location)
	appt.CreatedAt, appt.UpdatedAt = time.Time{}, time.Time{}

	if err := appt.Validate(); err != nil {
		metrics.IncProposal("book", "invalid")
		return nil, err
	}

	keys := s.keysFor(&appt)
	err := s.runUnit(ctx, "book", keys, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetAppointment(ctx, appt.ID); err == nil {
			return apperr.Invalid("id", "appointment "+appt.ID+" already exists")
		} else if !errors.Is(err, store.ErrNotFound) {
			return apperr.Storage("get appointment", err)
		}
		if err := s.checker.CheckConflicts(ctx, tx, &appt, ""); err != nil {
			return err
		}
		return tx.Commit(ctx, &appt)
	})
	if err != nil {
		s.reject("book", &appt, err)
		return nil, err
	}

	metrics.IncProposal("book", "accepted")
	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("staff_id", appt.StaffID).
		Str("location_id", appt.LocationID).
		Time("start", appt.Start).
		Int("duration", appt.DurationMinutes).
		Msg("booking accepted")

	s.publish(events.Event{Type: events.AppointmentBooked, Appointment: appt})
	return s.localize(&appt), nil
}

// ProposeReschedule moves an existing appointment to the slot described by
// candidate. Client, location, staff, service, start, duration and notes are
// taken from candidate; status is kept. Terminal appointments cannot move.
func (s *Service) ProposeReschedule(ctx context.Context, appointmentID string, candidate model.Appointment) (*model.Appointment, error) {
	candidate.ID = appointmentID
	candidate.Start = candidate.Start.In(s.opts.Location)
	candidate.Status = ""
	if err := candidate.Validate(); err != nil {
		metrics.IncProposal("reschedule", "invalid")
		return nil, err
	}

	keys := append(s.keysFor(&candidate), appointmentKey(appointmentID))
	var (
		updated   model.Appointment
		prevStart time.Time
	)
	err := s.runUnit(ctx, "reschedule", keys, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return storeErr("get appointment", err)
		}
		if s.lifecycle.Terminal(current.Status) {
			return apperr.Invalid("status", fmt.Sprintf("cannot reschedule a %s appointment", current.Status))
		}

		prevStart = current.Start
		updated = *current
		updated.Client = candidate.Client
		updated.LocationID = candidate.LocationID
		updated.StaffID = candidate.StaffID
		updated.ServiceID = candidate.ServiceID
		updated.Start = candidate.Start
		updated.DurationMinutes = candidate.DurationMinutes
		updated.Notes = candidate.Notes

		if err := s.checker.CheckConflicts(ctx, tx, &updated, appointmentID); err != nil {
			return err
		}
		return tx.Commit(ctx, &updated)
	})
	if err != nil {
		s.reject("reschedule", &candidate, err)
		return nil, err
	}

	metrics.IncProposal("reschedule", "accepted")
	s.logger.Info().
		Str("appointment_id", appointmentID).
		Time("from", prevStart).
		Time("to", updated.Start).
		Msg("reschedule accepted")

	s.publish(events.Event{Type: events.AppointmentRescheduled, Appointment: updated, PreviousStart: prevStart})
	return s.localize(&updated), nil
}

// ChangeStatus applies a caller-driven status update. Unknown values are a
// validation error, illegal moves a *TransitionError, and the current status
// is accepted without a write.
func (s *Service) ChangeStatus(ctx context.Context, appointmentID string, status string) (*model.Appointment, error) {
	next, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		result  model.Appointment
		prev    model.Status
		changed bool
	)
	err = s.runUnit(ctx, "status", []string{appointmentKey(appointmentID)}, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return storeErr("get appointment", err)
		}
		prev = current.Status
		if err := s.lifecycle.Check(current.Status, next); err != nil {
			return err
		}
		result = *current
		if current.Status == next {
			return nil
		}
		result.Status = next
		changed = true
		return tx.Commit(ctx, &result)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appointmentID).Str("status", string(next)).Msg("status change rejected")
		return nil, err
	}

	if changed {
		metrics.IncTransition(string(prev), string(next))
		s.logger.Info().
			Str("appointment_id", appointmentID).
			Str("from", string(prev)).
			Str("to", string(next)).
			Msg("status changed")
		s.publish(events.Event{Type: events.AppointmentStatusChanged, Appointment: result, PrevStatus: prev})
	}
	return s.localize(&result), nil
}

// GetAppointment returns a stored appointment.
func (s *Service) GetAppointment(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	a, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, storeErr("get appointment", err)
	}
	return s.localize(a), nil
}

// runUnit acquires the keyed locks, runs fn in a store transaction and retries
// the whole unit when the store reports a concurrent modification.
func (s *Service) runUnit(ctx context.Context, op string, keys []string, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		err = s.attempt(ctx, keys, fn)
		if !errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		s.logger.Debug().Str("op", op).Int("attempt", attempt).Msg("concurrent modification, retrying")
		if ctx.Err() != nil {
			break
		}
	}
	metrics.IncStoreError(op)
	return apperr.Storage(op, err)
}

func (s *Service) attempt(ctx context.Context, keys []string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	release, err := lock.AcquireAll(ctx, s.locker, keys...)
	if err != nil {
		metrics.IncStoreError("lock")
		return apperr.Storage("lock", err)
	}
	defer release()

	err = s.store.InTx(ctx, fn)
	if err == nil || isDecision(err) {
		return err
	}
	metrics.IncStoreError("commit")
	s.logger.Error().Err(err).Msg("store transaction failed")
	return apperr.Storage("commit", err)
}

// isDecision reports errors that are answers rather than failures.
func isDecision(err error) bool {
	var (
		ce *apperr.ConflictError
		ve *apperr.ValidationError
		te *TransitionError
		se *apperr.StorageError
	)
	return errors.As(err, &ce) || errors.As(err, &ve) || errors.As(err, &te) || errors.As(err, &se) ||
		errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConcurrentModification)
}

func (s *Service) reject(op string, a *model.Appointment, err error) {
	if ce, ok := apperr.AsConflict(err); ok {
		metrics.IncProposal(op, "conflict")
		metrics.IncConflict(string(ce.Kind))
		s.logger.Warn().
			Str("staff_id", a.StaffID).
			Str("conflict_kind", string(ce.Kind)).
			Str("conflicting_id", ce.AppointmentID).
			Time("start", a.Start).
			Msg("proposal rejected")
		return
	}
	if errors.Is(err, apperr.ErrStorageUnavailable) {
		metrics.IncProposal(op, "unavailable")
		s.logger.Error().Err(err).Str("staff_id", a.StaffID).Msg("proposal failed")
		return
	}
	metrics.IncProposal(op, "invalid")
	s.logger.Warn().Err(err).Str("staff_id", a.StaffID).Msg("proposal rejected")
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// keysFor covers the neighbouring days too, so two bookings that overlap
// across midnight always share a key.
func (s *Service) keysFor(a *model.Appointment) []string {
	day, _ := model.DayBounds(a.Start)
	prev, next := model.NeighbourDays(a.Start)
	keys := make([]string, 0, 6)
	for _, d := range []time.Time{prev, day, next} {
		keys = append(keys, lock.StaffDayKey(a.StaffID, d), lock.ClientDayKey(a.Client.Phone, d))
	}
	return keys
}

func (s *Service) localize(a *model.Appointment) *model.Appointment {
	out := *a
	out.Start = out.Start.In(s.opts.Location)
	return &out
}

func appointmentKey(id string) string {
	return "appointment:" + id
}

// storeErr keeps ErrNotFound visible and wraps anything else as a storage failure.
func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Storage(op, err)
}
