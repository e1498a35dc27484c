// Package mock provides an in-memory store.Store for tests.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/store"
)

// Store is an in-memory store.Store. Set SaveErr or ListErr to inject errors.
type Store struct {
	mu      sync.Mutex
	records map[string]store.Record

	SaveErr error
	ListErr error

	// Saved records every successfully saved record in call order.
	Saved []store.Record

	Closed bool
}

var _ store.Store = (*Store)(nil)

// Save implements store.Store.
func (s *Store) Save(_ context.Context, r store.Record) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return store.Record{}, s.SaveErr
	}
	r = store.Prepare(r, time.Now())
	if s.records == nil {
		s.records = make(map[string]store.Record)
	}
	s.records[r.ID] = r
	s.Saved = append(s.Saved, r)
	return r, nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return r, nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, limit int) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]store.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if n := store.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
