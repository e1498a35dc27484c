// Package postgres provides a PostgreSQL-backed transcript store.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close(ctx)
//	rec, err := s.Save(ctx, store.Record{Name: "Lecture 1", Transcript: text})
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxrelay/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL DEFAULT '',
    name        TEXT         NOT NULL,
    transcript  TEXT         NOT NULL,
    voice       TEXT         NOT NULL DEFAULT '',
    language    TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at DESC);
`

// Migrate creates the transcripts table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a [store.Store] backed by a single [pgxpool.Pool]. All operations
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, r store.Record) (store.Record, error) {
	r = store.Prepare(r, s.now())
	const q = `
		INSERT INTO transcripts (id, session_id, name, transcript, voice, language, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, q, r.ID, r.SessionID, r.Name, r.Transcript, r.Voice, r.Language, r.Timestamp); err != nil {
		return store.Record{}, fmt.Errorf("postgres store: save: %w", err)
	}
	return r, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	const q = `
		SELECT id, session_id, name, transcript, voice, language, created_at
		FROM   transcripts
		WHERE  id = $1`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return r, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, limit int) ([]store.Record, error) {
	const q = `
		SELECT id, session_id, name, transcript, voice, language, created_at
		FROM   transcripts
		ORDER  BY created_at DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if records == nil {
		records = []store.Record{}
	}
	return records, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (store.Record, error) {
	var r store.Record
	err := row.Scan(&r.ID, &r.SessionID, &r.Name, &r.Transcript, &r.Voice, &r.Language, &r.Timestamp)
	r.Timestamp = r.Timestamp.UTC()
	return r, err
}
