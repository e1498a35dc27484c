// Package badger provides an embedded transcript store on BadgerDB. Records
// are msgpack-encoded. It needs no external server, which makes it the
// default persistence backend.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voxrelay/pkg/store"
)

// Key layout:
//
//	rec/<id>                  → msgpack Record
//	ts/<unix-nanos 20 digits>/<id> → empty, time index for List
var (
	recPrefix = []byte("rec/")
	tsPrefix  = []byte("ts/")
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Options configures the Badger store.
type Options struct {
	// Dir is the directory for data files. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory. Intended for tests.
	InMemory bool
}

// Store is a [store.Store] on an embedded BadgerDB.
type Store struct {
	db        *badgerdb.DB
	now       func() time.Time
	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger store: Dir is required for on-disk mode")
	}
	dbOpts := badgerdb.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func recKey(id string) []byte {
	return append(bytes.Clone(recPrefix), id...)
}

func tsKey(ts time.Time, id string) []byte {
	return fmt.Appendf(bytes.Clone(tsPrefix), "%020d/%s", ts.UnixNano(), id)
}

// Save implements [store.Store].
func (s *Store) Save(_ context.Context, r store.Record) (store.Record, error) {
	r = store.Prepare(r, s.now())
	val, err := msgpack.Marshal(&r)
	if err != nil {
		return store.Record{}, fmt.Errorf("badger store: encode: %w", err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(recKey(r.ID), val); err != nil {
			return err
		}
		return txn.Set(tsKey(r.Timestamp, r.ID), nil)
	})
	if err != nil {
		return store.Record{}, fmt.Errorf("badger store: save: %w", err)
	}
	return r, nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	var r store.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return getRecord(txn, id, &r)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("badger store: get: %w", err)
	}
	return r, nil
}

func getRecord(txn *badgerdb.Txn, id string, r *store.Record) error {
	item, err := txn.Get(recKey(id))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := msgpack.Unmarshal(val, r); err != nil {
			return err
		}
		r.Timestamp = r.Timestamp.UTC()
		return nil
	})
}

// List implements [store.Store]. It walks the time index backwards.
func (s *Store) List(ctx context.Context, limit int) ([]store.Record, error) {
	limit = store.Limit(limit)
	records := []store.Record{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		iterOpts := badgerdb.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = tsPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Seeking past every digit lands on the newest key in reverse mode.
		seek := append(bytes.Clone(tsPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(tsPrefix) && len(records) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			_, id, ok := bytes.Cut(key[len(tsPrefix):], []byte("/"))
			if !ok {
				continue
			}
			var r store.Record
			if err := getRecord(txn, string(id), &r); err != nil {
				if errors.Is(err, badgerdb.ErrKeyNotFound) {
					continue
				}
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list: %w", err)
	}
	return records, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close(context.Context) error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// slogLogger routes badger's warnings and errors to slog and drops the rest.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any) {
	slog.Error("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Warningf(f string, v ...any) {
	slog.Warn("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
