package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"appointly/internal/apperr"
	"appointly/internal/events"
	"appointly/internal/model"
	"appointly/internal/store"
	"appointly/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 5, 1, hour, min, 0, 0, time.UTC)
}

func candidate(staff, location, phone string, start time.Time, minutes int) model.Appointment {
	return model.Appointment{
		Client:          model.Client{Name: "Client", Phone: phone},
		LocationID:      location,
		StaffID:         staff,
		ServiceID:       "cut",
		Start:           start,
		DurationMinutes: minutes,
	}
}

func newService(t *testing.T, st store.Store) (*Service, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	svc := NewService(st, nil, bus, Options{Location: time.UTC, StoreTimeout: time.Second}, zerolog.Nop())
	return svc, bus
}

func TestService_StaffScenario(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	first, err := svc.ProposeBooking(ctx, candidate("S", "L1", "111", at(9, 0), 60))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, first.Status)
	assert.NotEmpty(t, first.ID)

	_, err = svc.ProposeBooking(ctx, candidate("S", "L1", "222", at(9, 30), 60))
	ce, ok := apperr.AsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperr.ConflictStaffOverlap, ce.Kind)
	assert.Equal(t, at(9, 0), ce.Start)
	assert.Equal(t, at(10, 0), ce.End)

	_, err = svc.ProposeBooking(ctx, candidate("S", "L2", "333", at(14, 0), 60))
	ce, ok = apperr.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ConflictLocation, ce.Kind)

	_, err = svc.ProposeBooking(ctx, candidate("S", "L1", "444", at(10, 0), 60))
	assert.NoError(t, err)
}

func TestService_ClientScenario(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	_, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "0821234567", at(9, 0), 60))
	require.NoError(t, err)

	_, err = svc.ProposeBooking(ctx, candidate("S2", "L2", "0821234567", at(9, 45), 30))
	ce, ok := apperr.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ConflictClientOverlap, ce.Kind)
}

func TestService_CancelFreesSlot(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	a, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "111", at(9, 0), 60))
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, a.ID, "cancelled")
	require.NoError(t, err)

	_, err = svc.ProposeBooking(ctx, candidate("S1", "L1", "111", at(9, 0), 60))
	assert.NoError(t, err)
}

func TestService_ProposeBookingValidation(t *testing.T) {
	svc, _ := newService(t, memory.New())
	_, err := svc.ProposeBooking(context.Background(), candidate("S1", "L1", "", at(9, 0), 60))
	ve, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "client.phone", ve.Field)
}

func TestService_ProposeBookingDuplicateID(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	c := candidate("S1", "L1", "111", at(9, 0), 60)
	c.ID = "fixed"
	_, err := svc.ProposeBooking(ctx, c)
	require.NoError(t, err)

	c.Start = at(15, 0)
	_, err = svc.ProposeBooking(ctx, c)
	ve, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "id", ve.Field)
}

func TestService_ProposeReschedule(t *testing.T) {
	svc, bus := newService(t, memory.New())
	ctx := context.Background()

	var got []events.Event
	bus.Subscribe(events.AppointmentRescheduled, func(e events.Event) error {
		got = append(got, e)
		return nil
	})

	a, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "111", at(9, 0), 60))
	require.NoError(t, err)
	other, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "222", at(11, 0), 60))
	require.NoError(t, err)

	// Overlapping its own old slot is fine.
	moved, err := svc.ProposeReschedule(ctx, a.ID, candidate("S1", "L1", "111", at(9, 30), 60))
	require.NoError(t, err)
	assert.Equal(t, at(9, 30), moved.Start)
	assert.Equal(t, model.StatusConfirmed, moved.Status)
	require.Len(t, got, 1)
	assert.Equal(t, at(9, 0), got[0].PreviousStart)

	_, err = svc.ProposeReschedule(ctx, a.ID, candidate("S1", "L1", "111", at(10, 30), 60))
	ce, ok := apperr.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, other.ID, ce.AppointmentID)

	_, err = svc.ProposeReschedule(ctx, "missing", candidate("S1", "L1", "111", at(13, 0), 60))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_RescheduleTerminalRejected(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	a, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "111", at(9, 0), 60))
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, a.ID, "completed")
	require.NoError(t, err)

	_, err = svc.ProposeReschedule(ctx, a.ID, candidate("S1", "L1", "111", at(13, 0), 60))
	ve, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "status", ve.Field)
}

func TestService_ChangeStatus(t *testing.T) {
	svc, bus := newService(t, memory.New())
	ctx := context.Background()

	changes := 0
	bus.Subscribe(events.AppointmentStatusChanged, func(events.Event) error { changes++; return nil })

	a, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "111", at(9, 0), 60))
	require.NoError(t, err)

	same, err := svc.ChangeStatus(ctx, a.ID, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, same.Status)
	assert.Zero(t, changes)

	done, err := svc.ChangeStatus(ctx, a.ID, "no_show")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, done.Status)
	assert.Equal(t, 1, changes)

	_, err = svc.ChangeStatus(ctx, a.ID, "confirmed")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.StatusNoShow, te.From)

	_, err = svc.ChangeStatus(ctx, a.ID, "archived")
	_, ok := apperr.AsValidation(err)
	assert.True(t, ok)

	_, err = svc.ChangeStatus(ctx, "missing", "cancelled")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_RoundTrip(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	c := candidate("S1", "L1", "111", at(9, 15), 45)
	c.Notes = "fringe only"
	a, err := svc.ProposeBooking(ctx, c)
	require.NoError(t, err)

	got, err := svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.StaffID, got.StaffID)
	assert.Equal(t, a.LocationID, got.LocationID)
	assert.Equal(t, a.ServiceID, got.ServiceID)
	assert.True(t, a.Start.Equal(got.Start))
	assert.Equal(t, 45, got.DurationMinutes)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, "fringe only", got.Notes)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestService_ConcurrentProposalsOneWins(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ProposeBooking(ctx, candidate("S1", "L1", fmt.Sprintf("phone-%d", i), at(9, 0), 60))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			if _, ok := apperr.AsConflict(err); ok {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, rejected)
}

func TestService_OverlapAcrossMidnight(t *testing.T) {
	svc, _ := newService(t, memory.New())
	ctx := context.Background()

	late := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	early := time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC)

	first, err := svc.ProposeBooking(ctx, candidate("S1", "L1", "111", late, 120))
	require.NoError(t, err)

	_, err = svc.ProposeBooking(ctx, candidate("S1", "L1", "222", early, 60))
	ce, ok := apperr.AsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperr.ConflictStaffOverlap, ce.Kind)
	assert.Equal(t, first.ID, ce.AppointmentID)

	_, err = svc.ProposeBooking(ctx, candidate("S2", "L2", "111", early, 30))
	ce, ok = apperr.AsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperr.ConflictClientOverlap, ce.Kind)

	_, err = svc.ProposeBooking(ctx, candidate("S1", "L1", "333", time.Date(2024, 5, 2, 1, 30, 0, 0, time.UTC), 30))
	assert.NoError(t, err)
}

func TestService_ConcurrentProposalsAcrossMidnight(t *testing.T) {
	ctx := context.Background()
	starts := []struct {
		start   time.Time
		minutes int
	}{
		{time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC), 120},
		{time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC), 60},
	}

	for round := 0; round < 20; round++ {
		svc, _ := newService(t, memory.New())
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i, c := range starts {
			wg.Add(1)
			go func(i int, start time.Time, minutes int) {
				defer wg.Done()
				_, err := svc.ProposeBooking(ctx, candidate("S1", "L1", fmt.Sprintf("phone-%d", i), start, minutes))
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(i, c.start, c.minutes)
		}
		wg.Wait()
		require.Equal(t, 1, accepted, "round %d", round)
	}
}

func TestService_KeysForSharedAcrossMidnight(t *testing.T) {
	svc, _ := newService(t, memory.New())

	late := candidate("S1", "L1", "111", time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC), 120)
	early := candidate("S1", "L1", "111", time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC), 60)

	lateKeys := svc.keysFor(&late)
	earlyKeys := svc.keysFor(&early)
	assert.Len(t, lateKeys, 6)

	shared := 0
	for _, k := range lateKeys {
		for _, other := range earlyKeys {
			if k == other {
				shared++
			}
		}
	}
	assert.Equal(t, 4, shared)
}

// racyStore reports a concurrent modification on the first N commits.
type racyStore struct {
	*memory.Store
	failures int
	mu       sync.Mutex
}

func (r *racyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return fmt.Errorf("insert: %w", store.ErrConcurrentModification)
	}
	return r.Store.InTx(ctx, fn)
}

func TestService_RetriesConcurrentModification(t *testing.T) {
	st := &racyStore{Store: memory.New(), failures: 2}
	svc, _ := newService(t, st)

	_, err := svc.ProposeBooking(context.Background(), candidate("S1", "L1", "111", at(9, 0), 60))
	assert.NoError(t, err)
}

func TestService_RetriesExhausted(t *testing.T) {
	st := &racyStore{Store: memory.New(), failures: 10}
	svc, _ := newService(t, st)

	_, err := svc.ProposeBooking(context.Background(), candidate("S1", "L1", "111", at(9, 0), 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	assert.ErrorIs(t, err, store.ErrConcurrentModification)
}

type downStore struct {
	*memory.Store
}

func (downStore) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return nil, errors.New("down")
}

func (d downStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return errors.New("connection reset")
}

func TestService_StorageFailureFailsClosed(t *testing.T) {
	svc, _ := newService(t, downStore{Store: memory.New()})

	_, err := svc.ProposeBooking(context.Background(), candidate("S1", "L1", "111", at(9, 0), 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	_, isConflict := apperr.AsConflict(err)
	assert.False(t, isConflict)
}
