package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"appointly/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APPOINTLY_API_KEY", "secret")

	path := writeFile(t, dir, "config.yaml", `
database:
  driver: sqlite
  path: `+filepath.Join(dir, "data", "a.db")+`
http:
  api_key: ${APPOINTLY_API_KEY}
booking:
  timezone: UTC
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.HTTP.APIKey)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.Booking.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, "configs/staff.yaml", cfg.StaffPath)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"postgres without url", "database:\n  driver: postgres\n"},
		{"bad timezone", "database:\n  driver: memory\nbooking:\n  timezone: Mars/Olympus\n"},
		{"backup on mongo", "database:\n  driver: mongo\n  url: mongodb://x\nbackup:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

const staffYAML = `
defaults:
  hours: {start: "09:00", end: "17:00"}
  days_off: [6, 7]
staff:
  - id: S1
    name: Naledi
    hours:
      mon: {start: "10:00", end: "14:00"}
      sun: {start: "10:00", end: "12:00"}
  - id: S2
    name: Pieter
    hours:
      wed: {off: true, start: "09:00", end: "12:00"}
`

func TestLoadStaffConfig_Templates(t *testing.T) {
	path := writeFile(t, t.TempDir(), "staff.yaml", staffYAML)
	cfg, err := LoadStaffConfig(path)
	require.NoError(t, err)

	tpls := cfg.Templates()
	require.Len(t, tpls, 2)

	s1 := tpls[0]
	assert.Equal(t, "S1", s1.StaffID)
	assert.Equal(t, model.DaySchedule{Start: model.MustTimeOfDay("10:00"), End: model.MustTimeOfDay("14:00")}, s1.Days[time.Monday])
	assert.Equal(t, model.DaySchedule{Start: model.MustTimeOfDay("09:00"), End: model.MustTimeOfDay("17:00")}, s1.Days[time.Tuesday])
	// Own entry beats the default day off.
	assert.False(t, s1.Days[time.Sunday].Off)
	assert.True(t, s1.Days[time.Saturday].Off)

	s2 := tpls[1]
	wed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, model.WorkingOff, s2.WorkingOn(wed).Kind)
}

func TestStaffFile_NoDefaultsLeavesUnset(t *testing.T) {
	cfg := &StaffFile{Staff: []StaffConfig{{ID: "S1", Hours: map[string]*HoursConfig{"mon": {Start: "09:00", End: "10:00"}}}}}
	require.NoError(t, cfg.Validate())

	tpl := cfg.Templates()[0]
	assert.Len(t, tpl.Days, 1)
	tue := time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, model.WorkingUnset, tpl.WorkingOn(tue).Kind)
}

func TestStaffFile_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  StaffFile
	}{
		{"missing id", StaffFile{Staff: []StaffConfig{{Name: "x"}}}},
		{"duplicate id", StaffFile{Staff: []StaffConfig{{ID: "a"}, {ID: "a"}}}},
		{"unknown day", StaffFile{Staff: []StaffConfig{{ID: "a", Hours: map[string]*HoursConfig{"funday": {Off: true}}}}}},
		{"end before start", StaffFile{Staff: []StaffConfig{{ID: "a", Hours: map[string]*HoursConfig{"mon": {Start: "12:00", End: "09:00"}}}}}},
		{"bad format", StaffFile{Staff: []StaffConfig{{ID: "a", Hours: map[string]*HoursConfig{"mon": {Start: "9am", End: "10:00"}}}}}},
		{"bad day off", StaffFile{Defaults: StaffDefaultsConfig{DaysOff: []int{0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

type savedTemplates map[string]*model.ScheduleTemplate

func (s savedTemplates) SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error {
	s[tpl.StaffID] = tpl
	return nil
}

func TestSyncStaff(t *testing.T) {
	path := writeFile(t, t.TempDir(), "staff.yaml", staffYAML)
	cfg, err := LoadStaffConfig(path)
	require.NoError(t, err)

	saved := savedTemplates{}
	require.NoError(t, SyncStaff(context.Background(), saved, cfg))
	assert.Len(t, saved, 2)
	assert.Contains(t, saved, "S2")

	assert.Error(t, SyncStaff(context.Background(), saved, nil))
}

func TestWatchStaff(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "staff.yaml", staffYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *StaffFile, 4)
	err := WatchStaff(ctx, path, 10*time.Millisecond, func(c *StaffFile) { updates <- c }, nil)
	require.NoError(t, err)

	first := <-updates
	assert.Len(t, first.Staff, 2)

	require.NoError(t, os.WriteFile(path, []byte("staff:\n  - id: S9\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case next := <-updates:
		require.Len(t, next.Staff, 1)
		assert.Equal(t, "S9", next.Staff[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchStaff_InvalidEditKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "staff.yaml", staffYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *StaffFile, 4)
	errs := make(chan error, 4)
	err := WatchStaff(ctx, path, 10*time.Millisecond,
		func(c *StaffFile) { updates <- c },
		func(err error) { errs <- err })
	require.NoError(t, err)

	first := <-updates
	require.Len(t, first.Staff, 2)

	touch := func(body string, offset time.Duration) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		mod := time.Now().Add(offset)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	touch("staff: [\n", time.Minute)
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("invalid edit not reported")
	}
	select {
	case c := <-updates:
		t.Fatalf("invalid edit replaced the config with %d staff", len(c.Staff))
	case <-time.After(50 * time.Millisecond):
	}

	touch("staff:\n  - id: S9\n", 2*time.Minute)
	select {
	case next := <-updates:
		require.Len(t, next.Staff, 1)
		assert.Equal(t, "S9", next.Staff[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher stopped after an invalid edit")
	}
	assert.Empty(t, errs)
}
