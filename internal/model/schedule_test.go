package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", 540, false},
		{"9:30", 570, false},
		{"00:00", 0, false},
		{"24:00", 1440, false},
		{"24:30", 0, true},
		{"18:75", 0, true},
		{"1800", 0, true},
		{"ab:cd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDay_StringAndOn(t *testing.T) {
	tod := MustTimeOfDay("07:05")
	assert.Equal(t, "07:05", tod.String())
	assert.Equal(t, datetime(2024, 5, 1, 7, 5), tod.On(datetime(2024, 5, 1, 22, 10)))
}

func TestScheduleTemplate_WorkingOn(t *testing.T) {
	tpl := NewScheduleTemplate("S1")
	tpl.Set(time.Wednesday, DaySchedule{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:00")})
	// Off with leftover hours must still be reported as off.
	tpl.Set(time.Sunday, DaySchedule{Off: true, Start: MustTimeOfDay("10:00"), End: MustTimeOfDay("14:00")})

	wed := datetime(2024, 5, 1, 12, 0) // Wednesday
	sun := datetime(2024, 5, 5, 12, 0)
	mon := datetime(2024, 5, 6, 12, 0)

	got := tpl.WorkingOn(wed)
	assert.Equal(t, WorkingInterval, got.Kind)
	assert.Equal(t, "09:00", got.Start.String())
	assert.Equal(t, "17:00", got.End.String())

	span, ok := got.Span(wed)
	require.True(t, ok)
	assert.Equal(t, datetime(2024, 5, 1, 9, 0), span.Start)
	assert.Equal(t, datetime(2024, 5, 1, 17, 0), span.End)

	off := tpl.WorkingOn(sun)
	assert.Equal(t, WorkingOff, off.Kind)
	_, ok = off.Span(sun)
	assert.False(t, ok)

	assert.Equal(t, Unset, tpl.WorkingOn(mon))

	var missing *ScheduleTemplate
	assert.Equal(t, Unset, missing.WorkingOn(wed))
}

func TestScheduleTemplate_Validate(t *testing.T) {
	tpl := NewScheduleTemplate("S1")
	tpl.Set(time.Monday, DaySchedule{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:00")})
	tpl.Set(time.Tuesday, DaySchedule{Off: true})
	assert.NoError(t, tpl.Validate())

	tpl.Set(time.Friday, DaySchedule{Start: MustTimeOfDay("17:00"), End: MustTimeOfDay("09:00")})
	assert.Error(t, tpl.Validate())
}
