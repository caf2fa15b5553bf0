package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"appointly/internal/model"
	"gopkg.in/yaml.v3"
)

// HoursConfig is one weekday's entry: "off" or a start/end pair.
type HoursConfig struct {
	Off   bool   `yaml:"off,omitempty"`
	Start string `yaml:"start,omitempty"` // "09:00"
	End   string `yaml:"end,omitempty"`   // "17:00"
}

// StaffConfig represents a single staff member's weekly template.
type StaffConfig struct {
	ID    string                  `yaml:"id"`
	Name  string                  `yaml:"name"`
	Hours map[string]*HoursConfig `yaml:"hours,omitempty"` // keyed by "mon".."sun"
}

// StaffDefaultsConfig fills in days a staff member does not list.
type StaffDefaultsConfig struct {
	Hours   *HoursConfig `yaml:"hours"`
	DaysOff []int        `yaml:"days_off"` // 1=Mon, 7=Sun
}

// StaffFile is the root configuration for staff.yaml.
type StaffFile struct {
	Staff    []StaffConfig       `yaml:"staff"`
	Defaults StaffDefaultsConfig `yaml:"defaults"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// LoadStaffConfig loads and validates staff templates from YAML file.
func LoadStaffConfig(path string) (*StaffFile, error) {
	if path == "" {
		path = "configs/staff.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read staff config: %w", err)
	}

	var cfg StaffFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse staff config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate staff config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *StaffFile) Validate() error {
	ids := make(map[string]bool)

	for i, s := range c.Staff {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("staff[%d]: id is required", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("staff[%d]: duplicate id %s", i, s.ID)
		}
		ids[s.ID] = true

		for day, h := range s.Hours {
			if _, ok := weekdayNames[strings.ToLower(day)]; !ok {
				return fmt.Errorf("staff[%d].hours: unknown day %q, expected mon..sun", i, day)
			}
			if err := validateHours(h, fmt.Sprintf("staff[%d].hours.%s", i, day)); err != nil {
				return err
			}
		}
	}

	if c.Defaults.Hours != nil {
		if err := validateHours(c.Defaults.Hours, "defaults.hours"); err != nil {
			return err
		}
	}

	for i, d := range c.Defaults.DaysOff {
		if d < 1 || d > 7 {
			return fmt.Errorf("defaults.days_off[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
		}
	}

	return nil
}

func validateHours(h *HoursConfig, prefix string) error {
	if h == nil {
		return fmt.Errorf("%s: empty entry", prefix)
	}
	if h.Off {
		return nil
	}
	if h.Start == "" {
		return fmt.Errorf("%s.start is required", prefix)
	}
	if h.End == "" {
		return fmt.Errorf("%s.end is required", prefix)
	}

	start, err := model.ParseTimeOfDay(h.Start)
	if err != nil {
		return fmt.Errorf("%s.start: %w", prefix, err)
	}
	end, err := model.ParseTimeOfDay(h.End)
	if err != nil {
		return fmt.Errorf("%s.end: %w", prefix, err)
	}
	if end <= start {
		return fmt.Errorf("%s: end must be after start", prefix)
	}
	return nil
}

// IsDayOff checks if a weekday is a default day off.
func (c *StaffFile) IsDayOff(weekday time.Weekday) bool {
	day := int(weekday)
	if day == 0 {
		day = 7
	}
	for _, d := range c.Defaults.DaysOff {
		if d == day {
			return true
		}
	}
	return false
}

// Templates converts the file into schedule templates. A staff member's own
// entry wins, then default days off, then default hours; a day with none of
// these stays unset.
func (c *StaffFile) Templates() []*model.ScheduleTemplate {
	out := make([]*model.ScheduleTemplate, 0, len(c.Staff))

	for _, s := range c.Staff {
		tpl := model.NewScheduleTemplate(s.ID)
		own := make(map[time.Weekday]*HoursConfig, len(s.Hours))
		for name, h := range s.Hours {
			own[weekdayNames[strings.ToLower(name)]] = h
		}

		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			switch h, ok := own[wd]; {
			case ok:
				tpl.Set(wd, toDaySchedule(h))
			case c.IsDayOff(wd):
				tpl.Set(wd, model.DaySchedule{Off: true})
			case c.Defaults.Hours != nil:
				tpl.Set(wd, toDaySchedule(c.Defaults.Hours))
			}
		}
		out = append(out, tpl)
	}
	return out
}

// toDaySchedule expects a validated entry. Off keeps any hours it was given.
func toDaySchedule(h *HoursConfig) model.DaySchedule {
	ds := model.DaySchedule{Off: h.Off}
	if start, err := model.ParseTimeOfDay(h.Start); err == nil {
		ds.Start = start
	}
	if end, err := model.ParseTimeOfDay(h.End); err == nil {
		ds.End = end
	}
	return ds
}

// TemplateSaver persists schedule templates.
type TemplateSaver interface {
	SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error
}

// SyncStaff writes every template from the file to the catalog.
func SyncStaff(ctx context.Context, catalog TemplateSaver, cfg *StaffFile) error {
	if cfg == nil {
		return fmt.Errorf("staff config is nil")
	}
	for _, tpl := range cfg.Templates() {
		if err := catalog.SaveScheduleTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("sync staff %s: %w", tpl.StaffID, err)
		}
	}
	return nil
}

// String returns a summary of the configuration.
func (c *StaffFile) String() string {
	return fmt.Sprintf("StaffFile: %d staff, %d default days off", len(c.Staff), len(c.Defaults.DaysOff))
}
