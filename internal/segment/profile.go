package segment

import (
	"sync"
	"sync/atomic"
	"time"
)

// Profile is the silence test applied to buffered audio. A Profile is never
// mutated once published; changes publish a new one through [ProfileStore].
type Profile struct {
	// ThresholdDBFS is the level below which a 10 ms window counts as silent.
	ThresholdDBFS float64

	// MinSilence is the shortest run of silent windows that marks a boundary.
	MinSilence time.Duration

	// Version increases by one with every published profile.
	Version uint64
}

// ProfileStore holds the active [Profile]. Load is lock-free so the
// segmentation task can read it for every frame; writers are serialised.
type ProfileStore struct {
	cur atomic.Pointer[Profile]
	mu  sync.Mutex
}

// NewProfileStore publishes p as version 1.
func NewProfileStore(p Profile) *ProfileStore {
	s := &ProfileStore{}
	p.Version = 1
	s.cur.Store(&p)
	return s
}

// Load returns the active profile.
func (s *ProfileStore) Load() Profile {
	return *s.cur.Load()
}

// Swap publishes p with the next version number and returns it. p.Version is
// ignored.
func (s *ProfileStore) Swap(p Profile) Profile {
	return s.Update(func(Profile) Profile { return p })
}

// Update publishes fn(current) with the next version number and returns it.
func (s *ProfileStore) Update(fn func(Profile) Profile) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cur.Load()
	next := fn(*prev)
	next.Version = prev.Version + 1
	s.cur.Store(&next)
	return next
}

// SetThreshold publishes a copy of the active profile with a new threshold.
func (s *ProfileStore) SetThreshold(dbfs float64) Profile {
	return s.Update(func(p Profile) Profile {
		p.ThresholdDBFS = dbfs
		return p
	})
}

// SetMinSilence publishes a copy of the active profile with a new minimum
// silence duration.
func (s *ProfileStore) SetMinSilence(d time.Duration) Profile {
	return s.Update(func(p Profile) Profile {
		p.MinSilence = d
		return p
	})
}
