package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"appointly/internal/apperr"
	"appointly/internal/model"
	"appointly/internal/store"
	"appointly/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wednesday = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*Resolver, *memory.Store) {
	t.Helper()
	s := memory.New()

	tpl := model.NewScheduleTemplate("S1")
	tpl.Set(time.Wednesday, model.DaySchedule{Start: model.MustTimeOfDay("10:00"), End: model.MustTimeOfDay("14:00")})
	tpl.Set(time.Thursday, model.DaySchedule{Off: true, Start: model.MustTimeOfDay("10:00"), End: model.MustTimeOfDay("14:00")})
	require.NoError(t, s.SaveScheduleTemplate(context.Background(), tpl))

	r := NewResolver(s, s, time.UTC)
	r.now = func() time.Time { return wednesday.Add(-24 * time.Hour) }
	return r, s
}

func add(t *testing.T, s *memory.Store, a model.Appointment) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Commit(ctx, &a)
	}))
}

func TestResolver_WorkingInterval(t *testing.T) {
	r, _ := newFixture(t)
	ctx := context.Background()

	got, err := r.WorkingInterval(ctx, "S1", wednesday)
	require.NoError(t, err)
	assert.Equal(t, model.WorkingInterval, got.Kind)
	assert.Equal(t, "10:00", got.Start.String())
	assert.Equal(t, "14:00", got.End.String())

	// Off wins over the leftover hours.
	got, err = r.WorkingInterval(ctx, "S1", wednesday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, model.WorkingOff, got.Kind)

	got, err = r.WorkingInterval(ctx, "S1", wednesday.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, model.WorkingUnset, got.Kind)

	got, err = r.WorkingInterval(ctx, "nobody", wednesday)
	require.NoError(t, err)
	assert.Equal(t, model.WorkingUnset, got.Kind)
}

type brokenCatalog struct{}

func (brokenCatalog) GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error) {
	return nil, errors.New("db down")
}

func TestResolver_WorkingIntervalStorageError(t *testing.T) {
	r := NewResolver(brokenCatalog{}, memory.New(), time.UTC)
	_, err := r.WorkingInterval(context.Background(), "S1", wednesday)
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}

func TestResolver_FreeBusyForDay(t *testing.T) {
	r, s := newFixture(t)
	add(t, s, model.Appointment{ID: "b", StaffID: "S1", Start: wednesday.Add(12 * time.Hour), DurationMinutes: 30, Status: model.StatusPending})
	add(t, s, model.Appointment{ID: "a", StaffID: "S1", Start: wednesday.Add(10 * time.Hour), DurationMinutes: 60, Status: model.StatusConfirmed})
	add(t, s, model.Appointment{ID: "c", StaffID: "S1", Start: wednesday.Add(11 * time.Hour), DurationMinutes: 60, Status: model.StatusCancelled})

	busy, err := r.FreeBusyForDay(context.Background(), "S1", wednesday.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, wednesday.Add(10*time.Hour), busy[0].Start)
	assert.Equal(t, wednesday.Add(11*time.Hour), busy[0].End)
	assert.Equal(t, wednesday.Add(12*time.Hour), busy[1].Start)
}

func TestResolver_FreeSlots(t *testing.T) {
	r, s := newFixture(t)
	add(t, s, model.Appointment{ID: "a", StaffID: "S1", Start: wednesday.Add(11 * time.Hour), DurationMinutes: 60, Status: model.StatusConfirmed})

	tests := []struct {
		name     string
		date     time.Time
		duration time.Duration
		step     time.Duration
		want     []string
	}{
		{"hour slots", wednesday, time.Hour, time.Hour, []string{"10:00", "12:00", "13:00"}},
		{"half hour step", wednesday, time.Hour, 30 * time.Minute, []string{"10:00", "12:00", "12:30", "13:00"}},
		{"too long", wednesday, 5 * time.Hour, 0, nil},
		{"day off", wednesday.AddDate(0, 0, 1), time.Hour, 0, nil},
		{"unset day", wednesday.AddDate(0, 0, 2), time.Hour, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free, err := r.FreeSlots(context.Background(), "S1", tt.date, tt.duration, tt.step)
			require.NoError(t, err)
			var got []string
			for _, f := range free {
				got = append(got, f.Start.Format("15:04"))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_SlotsInPastUnavailable(t *testing.T) {
	r, _ := newFixture(t)
	r.now = func() time.Time { return wednesday.Add(12 * time.Hour) }

	slots, err := r.Slots(context.Background(), "S1", wednesday, time.Hour, time.Hour)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	assert.False(t, slots[0].Available)
	assert.False(t, slots[1].Available)
	assert.True(t, slots[2].Available)
	assert.True(t, slots[3].Available)
}

func TestResolver_SlotsRejectsBadDuration(t *testing.T) {
	r, _ := newFixture(t)
	_, err := r.Slots(context.Background(), "S1", wednesday, 0, 0)
	_, ok := apperr.AsValidation(err)
	assert.True(t, ok)
}
