// Package store defines the persistence collaborator for saved transcripts.
//
// A [Record] is written once when the user saves a session and read back by
// listing. Backends live in sub-packages: postgres (pgx), mongo (the official
// driver) and badger (embedded, no server needed).
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by [Store.Get] when no record has the given ID.
var ErrNotFound = errors.New("store: record not found")

// DefaultListLimit is used by List when limit is not positive.
const DefaultListLimit = 50

// Record is one saved transcript.
type Record struct {
	ID         string    `json:"id" bson:"_id" msgpack:"id"`
	SessionID  string    `json:"session_id" bson:"session_id" msgpack:"session_id"`
	Name       string    `json:"name" bson:"name" msgpack:"name"`
	Transcript string    `json:"transcript" bson:"transcript" msgpack:"transcript"`
	Voice      string    `json:"voice" bson:"voice" msgpack:"voice"`
	Language   string    `json:"language,omitempty" bson:"language,omitempty" msgpack:"language,omitempty"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp" msgpack:"timestamp"`
}

// Store persists transcript records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts r and returns it with ID and Timestamp filled in.
	Save(ctx context.Context, r Record) (Record, error)

	// Get returns the record with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)

	// Close releases the backend's resources.
	Close(ctx context.Context) error
}

// Prepare fills in the fields Save is responsible for: a random ID when
// empty, now when Timestamp is zero, and a default name. Backends call it
// before writing.
func Prepare(r Record, now time.Time) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	r.Timestamp = r.Timestamp.UTC()
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = "Transcript " + r.Timestamp.Format("2006-01-02 15:04")
	}
	return r
}

// Limit normalises a List limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
