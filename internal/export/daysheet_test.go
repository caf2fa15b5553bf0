package export

import (
	"bytes"
	"testing"
	"time"

	"appointly/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteDaySheet(t *testing.T) {
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	appts := []model.Appointment{
		{ID: "b", Client: model.Client{Name: "Bob", Phone: "+200"}, LocationID: "L1", StaffID: "S1",
			Start: date.Add(13 * time.Hour), DurationMinutes: 30, Status: model.StatusConfirmed},
		{ID: "a", Client: model.Client{Name: "Ann", Phone: "+100"}, LocationID: "L1", StaffID: "S1",
			Start: date.Add(9 * time.Hour), DurationMinutes: 60, Status: model.StatusCancelled, Notes: "moved"},
	}
	hours := model.WorkingHours{Kind: model.WorkingInterval, Start: model.MustTimeOfDay("09:00"), End: model.MustTimeOfDay("17:00")}

	var buf bytes.Buffer
	require.NoError(t, WriteDaySheet(&buf, "S1", date, hours, appts))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	sheet := "S1 2024-05-01"
	assert.Equal(t, []string{sheet}, f.GetSheetList())

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Staff", "S1", "Date", "2024-05-01", "Hours", "09:00-17:00"}, rows[0])
	assert.Equal(t, daySheetColumns, rows[1])
	assert.Equal(t, []string{"09:00", "10:00", "Ann", "+100", "L1", "", "cancelled", "moved"}, rows[2])
	assert.Equal(t, "Bob", rows[3][2])
	assert.Equal(t, "13:30", rows[3][1])
}

func TestSheet_LongNameAndNoSheet(t *testing.T) {
	s := NewSheet()
	defer s.Close()

	assert.Error(t, s.WriteRow([]interface{}{"x"}))

	require.NoError(t, s.AddSheet("a-very-long-staff-identifier-2024-05-01"))
	assert.Len(t, s.currentSheet, 31)
	require.NoError(t, s.AddSheet("second"))
	assert.Equal(t, 2, len(s.file.GetSheetList()))
}

func TestHoursLabel(t *testing.T) {
	assert.Equal(t, "off", hoursLabel(model.WorkingHours{Kind: model.WorkingOff}))
	assert.Equal(t, "unset", hoursLabel(model.Unset))
}
