package postgres

import (
	"context"
	"fmt"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day_of_week, is_off, start_time, end_time
		FROM staff_schedules
		WHERE staff_id = $1
		ORDER BY day_of_week
	`, staffID)
	if err != nil {
		return nil, mapErr("query schedule", err)
	}
	defer rows.Close()

	tpl := model.NewScheduleTemplate(staffID)
	for rows.Next() {
		var (
			day        int16
			off        bool
			start, end string
		)
		if err := rows.Scan(&day, &off, &start, &end); err != nil {
			return nil, mapErr("scan schedule", err)
		}
		ds, err := daySchedule(off, start, end)
		if err != nil {
			return nil, fmt.Errorf("staff %s day %d: %w", staffID, day, err)
		}
		tpl.Set(weekdayFromDB(int(day)), ds)
	}
	if rows.Err() != nil {
		return nil, mapErr("iterate schedule", rows.Err())
	}
	if len(tpl.Days) == 0 {
		return nil, store.ErrNotFound
	}
	return tpl, nil
}

func (s *Store) SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("invalid template for %s: %w", tpl.StaffID, err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM staff_schedules WHERE staff_id = $1`, tpl.StaffID); err != nil {
			return mapErr("clear schedule", err)
		}

		batch := &pgx.Batch{}
		for wd, ds := range tpl.Days {
			start, end := "", ""
			if !ds.Off || ds.End > ds.Start {
				start, end = ds.Start.String(), ds.End.String()
			}
			batch.Queue(`
				INSERT INTO staff_schedules (staff_id, day_of_week, is_off, start_time, end_time, updated_at)
				VALUES ($1, $2, $3, $4, $5, now())
			`, tpl.StaffID, weekdayToDB(wd), ds.Off, start, end)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return mapErr("insert schedule", err)
		}
		return nil
	})
}

func daySchedule(off bool, start, end string) (model.DaySchedule, error) {
	ds := model.DaySchedule{Off: off}
	var err error
	if start != "" {
		if ds.Start, err = model.ParseTimeOfDay(start); err != nil {
			return ds, err
		}
	}
	if end != "" {
		if ds.End, err = model.ParseTimeOfDay(end); err != nil {
			return ds, err
		}
	}
	return ds, nil
}

// weekdayToDB converts Go's weekday (0=Sun) to 1=Mon..7=Sun.
func weekdayToDB(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

func weekdayFromDB(day int) time.Weekday {
	if day == 7 {
		return time.Sunday
	}
	return time.Weekday(day)
}
