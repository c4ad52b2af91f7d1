// Package mongo is the MongoDB store, built on grove's mongodriver. Claims
// are taken one document at a time with FindOneAndUpdate.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/herald/store"
)

const (
	colEventTypes = "herald_event_types"
	colEndpoints  = "herald_endpoints"
	colEvents     = "herald_events"
	colDeliveries = "herald_deliveries"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store on MongoDB.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New returns a Store over an open grove database using the mongo driver.
func New(db *grove.DB) *Store {
	return &Store{db: db, mdb: mongodriver.Unwrap(db)}
}

// Open connects to dsn and returns a Store over the new connection.
// The DSN names the database in its path.
func Open(ctx context.Context, dsn string) (*Store, error) {
	drv := mongodriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("herald/mongo: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the indexes of every collection.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("herald/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEventTypes: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "group_name", Value: 1}}},
		},
		colEndpoints: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "enabled", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$gt": ""}}),
			},
		},
		colDeliveries: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "claimed_at", Value: 1}}},
			{Keys: bson.D{{Key: "endpoint_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "event_id", Value: 1}}},
		},
	}
}
