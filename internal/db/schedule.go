package db

import (
	"context"
	"fmt"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
)

// GetScheduleTemplate returns the weekly template of a staff member.
// A staff member without any rows is store.ErrNotFound.
func (db *DB) GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT day_of_week, is_off, start_time, end_time
		FROM staff_schedules
		WHERE staff_id = ?
		ORDER BY day_of_week`,
		staffID,
	)
	if err != nil {
		return nil, mapErr("query schedule", err)
	}
	defer rows.Close()

	tpl := model.NewScheduleTemplate(staffID)
	for rows.Next() {
		var (
			day        int
			off        bool
			start, end string
		)
		if err := rows.Scan(&day, &off, &start, &end); err != nil {
			return nil, mapErr("scan schedule", err)
		}

		ds := model.DaySchedule{Off: off}
		if start != "" {
			if ds.Start, err = model.ParseTimeOfDay(start); err != nil {
				return nil, fmt.Errorf("staff %s day %d start: %w", staffID, day, err)
			}
		}
		if end != "" {
			if ds.End, err = model.ParseTimeOfDay(end); err != nil {
				return nil, fmt.Errorf("staff %s day %d end: %w", staffID, day, err)
			}
		}
		tpl.Set(weekdayFromDB(day), ds)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate schedule", err)
	}

	if len(tpl.Days) == 0 {
		return nil, store.ErrNotFound
	}
	return tpl, nil
}

// SaveScheduleTemplate replaces all weekday rows of the template's staff member.
func (db *DB) SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("invalid template for %s: %w", tpl.StaffID, err)
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM staff_schedules WHERE staff_id = ?`, tpl.StaffID); err != nil {
		return mapErr("clear schedule", err)
	}

	now := time.Now()
	for wd, ds := range tpl.Days {
		start, end := "", ""
		if !ds.Off || ds.End > ds.Start {
			start, end = ds.Start.String(), ds.End.String()
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO staff_schedules (staff_id, day_of_week, is_off, start_time, end_time, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			tpl.StaffID, weekdayToDB(wd), ds.Off, start, end, now,
		)
		if err != nil {
			return mapErr(fmt.Sprintf("insert schedule day %d", weekdayToDB(wd)), err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return mapErr("commit schedule", err)
	}
	return nil
}
