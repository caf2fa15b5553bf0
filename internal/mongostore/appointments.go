package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return s.find(ctx, dayFilter("staff_id", staffID, dayStart, dayEnd, exclude))
}

func (s *Store) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	return s.find(ctx, dayFilter("client.phone", phone, dayStart, dayEnd, exclude))
}

func (s *Store) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	var a model.Appointment
	if err := s.appointments.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return nil, mapErr("get appointment", err)
	}
	s.localize(&a)
	return &a, nil
}

// InTx runs fn inside a session transaction. ctx passed to fn carries the session.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(s.txOptions()); err != nil {
			return err
		}
		if err := fn(sc, &tx{s: s}); err != nil {
			_ = sc.AbortTransaction(context.Background())
			return err
		}
		return sc.CommitTransaction(sc)
	})
	// Errors from fn pass through untouched; driver errors get mapped.
	var se mongo.ServerError
	if err != nil && errors.As(err, &se) && !errors.Is(err, store.ErrConcurrentModification) {
		return mapErr("booking transaction", err)
	}
	return err
}

func (s *Store) find(ctx context.Context, filter bson.D) ([]model.Appointment, error) {
	cur, err := s.appointments.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, mapErr("query appointments", err)
	}
	defer cur.Close(ctx)

	var appts []model.Appointment
	if err := cur.All(ctx, &appts); err != nil {
		return nil, mapErr("decode appointments", err)
	}
	for i := range appts {
		s.localize(&appts[i])
	}
	return appts, nil
}

func (s *Store) localize(a *model.Appointment) {
	a.Start = a.Start.In(s.loc)
}

type tx struct {
	s *Store
}

func (t *tx) QueryByStaffAndDay(ctx context.Context, staffID string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	if err := t.touchGuard(ctx, guardID("staff", staffID, dayStart)); err != nil {
		return nil, err
	}
	return t.s.QueryByStaffAndDay(ctx, staffID, dayStart, dayEnd, exclude)
}

func (t *tx) QueryByClientPhoneAndDay(ctx context.Context, phone string, dayStart, dayEnd time.Time, exclude []model.Status) ([]model.Appointment, error) {
	if err := t.touchGuard(ctx, guardID("client", phone, dayStart)); err != nil {
		return nil, err
	}
	return t.s.QueryByClientPhoneAndDay(ctx, phone, dayStart, dayEnd, exclude)
}

func (t *tx) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	return t.s.GetAppointment(ctx, id)
}

// Commit replaces the document, keeping created_at of an existing one.
func (t *tx) Commit(ctx context.Context, a *model.Appointment) error {
	now := time.Now().UTC()

	var existing struct {
		CreatedAt time.Time `bson:"created_at"`
	}
	err := t.s.appointments.FindOne(ctx, bson.M{"_id": a.ID},
		options.FindOne().SetProjection(bson.M{"created_at": 1})).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		a.CreatedAt = now
	case err != nil:
		return mapErr("read created_at", err)
	default:
		a.CreatedAt = existing.CreatedAt
	}
	a.UpdatedAt = now

	_, err = t.s.appointments.ReplaceOne(ctx, bson.M{"_id": a.ID}, a, options.Replace().SetUpsert(true))
	if err != nil {
		return mapErr(fmt.Sprintf("commit appointment %s", a.ID), err)
	}
	return nil
}

// touchGuard writes the guard document so any other transaction touching the
// same day aborts with a write conflict.
func (t *tx) touchGuard(ctx context.Context, id string) error {
	_, err := t.s.guards.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"version": 1}, "$set": bson.M{"touched_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return mapErr("touch guard", err)
	}
	return nil
}
