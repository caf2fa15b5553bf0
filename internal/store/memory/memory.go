// Package memory is an in-process store used by tests and the "memory" driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
)

// Store keeps appointments and templates in maps. InTx holds the write lock
// for the whole transaction so check and commit are serialized.
type Store struct {
	mu           sync.RWMutex
	appointments map[string]model.Appointment
	templates    map[string]*model.ScheduleTemplate
	now          func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		appointments: make(map[string]model.Appointment),
		templates:    make(map[string]*model.ScheduleTemplate),
		now:          time.Now,
	}
}

func (s *Store) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(func(a *model.Appointment) bool { return a.StaffID == staffID }, dayStart, dayEnd, exclude), nil
}

func (s *Store) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(func(a *model.Appointment) bool { return a.Client.Phone == phone }, dayStart, dayEnd, exclude), nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

// InTx runs fn with exclusive access. Writes are staged and applied only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, staged: make(map[string]model.Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, a := range tx.staged {
		s.appointments[id] = a
	}
	return nil
}

func (s *Store) GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[staffID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTemplate(tpl), nil
}

func (s *Store) SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.StaffID] = copyTemplate(tpl)
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) get(id string) (*model.Appointment, error) {
	a, ok := s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) query(match func(a *model.Appointment) bool, dayStart, dayEnd time.Time, exclude []model.Status) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appointments {
		if !match(&a) || store.Excluded(a.Status, exclude) {
			continue
		}
		if a.Start.Before(dayStart) || !a.Start.Before(dayEnd) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

type memTx struct {
	s      *Store
	staged map[string]model.Appointment
}

func (t *memTx) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return t.s.query(func(a *model.Appointment) bool { return a.StaffID == staffID }, dayStart, dayEnd, exclude), nil
}

func (t *memTx) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return t.s.query(func(a *model.Appointment) bool { return a.Client.Phone == phone }, dayStart, dayEnd, exclude), nil
}

func (t *memTx) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	return t.s.get(id)
}

func (t *memTx) Commit(ctx context.Context, a *model.Appointment) error {
	now := t.s.now()
	if prev, ok := t.s.appointments[a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	t.staged[a.ID] = *a
	return nil
}

func copyTemplate(tpl *model.ScheduleTemplate) *model.ScheduleTemplate {
	out := model.NewScheduleTemplate(tpl.StaffID)
	for d, ds := range tpl.Days {
		out.Days[d] = ds
	}
	return out
}
