// Package mongo provides a MongoDB-backed transcript store. Records are kept
// one document per transcript with the record ID as _id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/MrWong99/voxrelay/pkg/store"
)

const (
	// DefaultDatabase is used when Options.Database is empty.
	DefaultDatabase = "voxrelay"
	// DefaultCollection is used when Options.Collection is empty.
	DefaultCollection = "transcripts"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Options configures the Mongo store.
type Options struct {
	// URI is the connection string, e.g. "mongodb://localhost:27017". Required.
	URI        string
	Database   string
	Collection string
}

// Store is a [store.Store] backed by a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// New connects, pings the primary and ensures the timestamp index exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo store: URI must not be empty")
	}
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo store: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo store: ping: %w", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo store: create index: %w", err)
	}
	return &Store{client: client, coll: coll, now: time.Now}, nil
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, r store.Record) (store.Record, error) {
	r = store.Prepare(r, s.now())
	if _, err := s.coll.InsertOne(ctx, r); err != nil {
		return store.Record{}, fmt.Errorf("mongo store: insert: %w", err)
	}
	return r, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	var r store.Record
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("mongo store: find one: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, limit int) ([]store.Record, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(store.Limit(limit)))
	cur, err := s.coll.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo store: find: %w", err)
	}
	records := []store.Record{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("mongo store: decode: %w", err)
	}
	for i := range records {
		records[i].Timestamp = records[i].Timestamp.UTC()
	}
	return records, nil
}

// Ping reports whether the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
