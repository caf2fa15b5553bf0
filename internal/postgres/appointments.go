package postgres

import (
	"context"
	"fmt"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `id, client_name, client_phone, client_email, location_id, staff_id,
	service_id, starts_at, duration_minutes, status, notes, created_at, updated_at`

// pgxQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return s.queryDay(ctx, s.pool, "staff_id", staffID, dayStart, dayEnd, exclude)
}

func (s *Store) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return s.queryDay(ctx, s.pool, "client_phone", phone, dayStart, dayEnd, exclude)
}

func (s *Store) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	return s.getAppointment(ctx, s.pool, id, false)
}

// InTx runs fn in a read-committed transaction. Advisory locks taken by the
// day reads are held until commit or rollback.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr("begin tx", err)
	}
	defer func() { _ = pgTx.Rollback(context.Background()) }()

	if err := fn(ctx, &tx{s: s, tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return mapErr("commit tx", err)
	}
	return nil
}

func (s *Store) queryDay(ctx context.Context, q pgxQuerier, column, value string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	statuses := make([]string, len(exclude))
	for i, st := range exclude {
		statuses[i] = string(st)
	}

	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
			AND starts_at >= $2
			AND starts_at < $3
			AND NOT (status = ANY($4))
		ORDER BY starts_at ASC
	`, value, dayStart, dayEnd, statuses)
	if err != nil {
		return nil, mapErr("query appointments", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := s.scan(rows)
		if err != nil {
			return nil, mapErr("scan appointment", err)
		}
		appts = append(appts, *a)
	}
	if rows.Err() != nil {
		return nil, mapErr("iterate appointments", rows.Err())
	}
	return appts, nil
}

func (s *Store) getAppointment(ctx context.Context, q pgxQuerier, id string, forUpdate bool) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := s.scan(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapErr("get appointment", err)
	}
	return a, nil
}

func (s *Store) scan(row pgx.Row) (*model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(
		&a.ID, &a.Client.Name, &a.Client.Phone, &a.Client.Email, &a.LocationID, &a.StaffID,
		&a.ServiceID, &a.Start, &a.DurationMinutes, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Start = a.Start.In(s.loc)
	a.Status = model.Status(status)
	return &a, nil
}

type tx struct {
	s  *Store
	tx pgx.Tx
}

func (t *tx) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	if err := t.advisoryLock(ctx, "staff", staffID, dayStart); err != nil {
		return nil, err
	}
	return t.s.queryDay(ctx, t.tx, "staff_id", staffID, dayStart, dayEnd, exclude)
}

func (t *tx) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	if err := t.advisoryLock(ctx, "client", phone, dayStart); err != nil {
		return nil, err
	}
	return t.s.queryDay(ctx, t.tx, "client_phone", phone, dayStart, dayEnd, exclude)
}

func (t *tx) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	return t.s.getAppointment(ctx, t.tx, id, true)
}

// Commit upserts the row. Exclusion violations surface as store.ErrConcurrentModification.
func (t *tx) Commit(ctx context.Context, a *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, client_name, client_phone, client_email, location_id, staff_id,
			service_id, starts_at, ends_at, duration_minutes, status, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			client_name = EXCLUDED.client_name,
			client_phone = EXCLUDED.client_phone,
			client_email = EXCLUDED.client_email,
			location_id = EXCLUDED.location_id,
			staff_id = EXCLUDED.staff_id,
			service_id = EXCLUDED.service_id,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			duration_minutes = EXCLUDED.duration_minutes,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = now()
		RETURNING created_at, updated_at
	`, a.ID, a.Client.Name, a.Client.Phone, a.Client.Email, a.LocationID, a.StaffID,
		a.ServiceID, a.Start, a.End(), a.DurationMinutes, string(a.Status), a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Sprintf("commit appointment %s", a.ID), err)
	}
	return nil
}

// advisoryLock serializes transactions reading the same staff-day or client-day.
func (t *tx) advisoryLock(ctx context.Context, kind, id string, day time.Time) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, advisoryKey(kind, id, day)); err != nil {
		return mapErr("advisory lock", err)
	}
	return nil
}

func advisoryKey(kind, id string, day time.Time) string {
	return fmt.Sprintf("appointly:%s:%s:%s", kind, id, day.Format("2006-01-02"))
}
