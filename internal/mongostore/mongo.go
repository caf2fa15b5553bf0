// Package mongostore is the MongoDB appointment store. Check and commit run in a
// multi-document transaction that also bumps a guard document per staff-day
// and client-day, so two writers on the same day collide with a write conflict.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/model"
	"appointly/internal/store"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	appointmentsCollection = "appointments"
	schedulesCollection    = "staff_schedules"
	guardsCollection       = "booking_guards"

	codeWriteConflict = 112
)

// Store holds the client and collections.
type Store struct {
	client       *mongo.Client
	appointments *mongo.Collection
	schedules    *mongo.Collection
	guards       *mongo.Collection
	loc          *time.Location
	logger       zerolog.Logger
}

// Open connects to uri, pings and ensures indexes. Transactions need a replica set.
func Open(ctx context.Context, uri, database string, loc *time.Location, logger zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	db := client.Database(database)
	s := &Store{
		client:       client,
		appointments: db.Collection(appointmentsCollection),
		schedules:    db.Collection(schedulesCollection),
		guards:       db.Collection(guardsCollection),
		loc:          loc,
		logger:       logger.With().Str("component", "mongo").Logger(),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.logger.Info().Str("database", database).Msg("Connected to MongoDB")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.appointments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "staff_id", Value: 1}, {Key: "start", Value: 1}}},
		{Keys: bson.D{{Key: "client.phone", Value: 1}, {Key: "start", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping backs the /readyz check.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// dayFilter matches field == value with start in [dayStart, dayEnd) and status not excluded.
func dayFilter(field, value string, dayStart, dayEnd time.Time, exclude []model.Status) bson.D {
	filter := bson.D{
		{Key: field, Value: value},
		{Key: "start", Value: bson.D{{Key: "$gte", Value: dayStart}, {Key: "$lt", Value: dayEnd}}},
	}
	if len(exclude) > 0 {
		statuses := make(bson.A, len(exclude))
		for i, st := range exclude {
			statuses[i] = string(st)
		}
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$nin", Value: statuses}}})
	}
	return filter
}

func guardID(kind, id string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", kind, id, day.Format("2006-01-02"))
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if isConflict(err) {
		return fmt.Errorf("%s: %w", op, store.ErrConcurrentModification)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConflict(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(codeWriteConflict) || se.HasErrorLabel("TransientTransactionError")
	}
	return false
}

func (s *Store) txOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
}
