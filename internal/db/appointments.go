package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
)

const appointmentColumns = `id, client_name, client_phone, client_email, location_id, staff_id,
	service_id, starts_at, duration_minutes, status, notes, created_at, updated_at`

func (db *DB) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return db.queryDay(ctx, db.DB, "staff_id", staffID, dayStart, dayEnd, exclude)
}

func (db *DB) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return db.queryDay(ctx, db.DB, "client_phone", phone, dayStart, dayEnd, exclude)
}

func (db *DB) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	return db.getAppointment(ctx, db.DB, id)
}

// InTx runs fn inside a BEGIN IMMEDIATE transaction.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}

	if err := fn(ctx, &tx{db: db, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapErr("commit tx", err)
	}
	return nil
}

// queryDay lists appointments whose start falls in [dayStart, dayEnd).
func (db *DB) queryDay(ctx context.Context, q queryer, column, value string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	clause, statusArgs := excludeClause(exclude)
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE ` + column + ` = ? AND starts_at >= ? AND starts_at < ?` + clause + `
		ORDER BY starts_at`

	args := append([]any{value, dayStart.UnixNano(), dayEnd.UnixNano()}, statusArgs...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query appointments", err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := db.scan(rows)
		if err != nil {
			return nil, mapErr("scan appointment", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate appointments", err)
	}
	return out, nil
}

func (db *DB) getAppointment(ctx context.Context, q queryer, id string) (*model.Appointment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	a, err := db.scan(row)
	if err != nil {
		return nil, mapErr("get appointment", err)
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (db *DB) scan(s scanner) (*model.Appointment, error) {
	var (
		a       model.Appointment
		startNs int64
		status  string
	)
	err := s.Scan(
		&a.ID, &a.Client.Name, &a.Client.Phone, &a.Client.Email, &a.LocationID, &a.StaffID,
		&a.ServiceID, &startNs, &a.DurationMinutes, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Start = time.Unix(0, startNs).In(db.loc)
	a.Status = model.Status(status)
	return &a, nil
}

type tx struct {
	db *DB
	tx *sql.Tx
}

func (t *tx) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return t.db.queryDay(ctx, t.tx, "staff_id", staffID, dayStart, dayEnd, exclude)
}

func (t *tx) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return t.db.queryDay(ctx, t.tx, "client_phone", phone, dayStart, dayEnd, exclude)
}

func (t *tx) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	return t.db.getAppointment(ctx, t.tx, id)
}

// Commit upserts the appointment, preserving created_at of an existing row.
func (t *tx) Commit(ctx context.Context, a *model.Appointment) error {
	now := time.Now().UTC()

	var created time.Time
	err := t.tx.QueryRowContext(ctx, `SELECT created_at FROM appointments WHERE id = ?`, a.ID).Scan(&created)
	switch {
	case err == sql.ErrNoRows:
		created = now
	case err != nil:
		return mapErr("read created_at", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_name = excluded.client_name,
			client_phone = excluded.client_phone,
			client_email = excluded.client_email,
			location_id = excluded.location_id,
			staff_id = excluded.staff_id,
			service_id = excluded.service_id,
			starts_at = excluded.starts_at,
			duration_minutes = excluded.duration_minutes,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		a.ID, a.Client.Name, a.Client.Phone, a.Client.Email, a.LocationID, a.StaffID,
		a.ServiceID, a.Start.UnixNano(), a.DurationMinutes, string(a.Status), a.Notes, created, now,
	)
	if err != nil {
		return mapErr(fmt.Sprintf("commit appointment %s", a.ID), err)
	}

	a.CreatedAt = created
	a.UpdatedAt = now
	return nil
}
