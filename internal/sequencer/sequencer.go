// Package sequencer restores capture order before audio reaches the speaker.
//
// Dispatch workers finish in any order. The [Sequencer] plays the item whose
// sequence number is next, holds items that arrive early in a reorder heap
// and discards items that arrive late or twice. Playback is synchronous, so
// at most one clip is on the device at a time.
package sequencer

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// Player renders a clip and returns once it has been played.
type Player interface {
	Play(ctx context.Context, clip audio.Clip) error
}

// PlayerFunc adapts a function to [Player].
type PlayerFunc func(ctx context.Context, clip audio.Clip) error

// Play implements [Player].
func (f PlayerFunc) Play(ctx context.Context, clip audio.Clip) error { return f(ctx, clip) }

// Option configures a [Sequencer].
type Option func(*Sequencer)

// WithFirstSeq sets the first expected sequence number. Defaults to 1.
func WithFirstSeq(seq uint64) Option {
	return func(s *Sequencer) { s.next = seq }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithClock overrides the clock used for end-to-end latency.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// Sequencer owns the reorder heap. Offer and Run must be used from a single
// goroutine, the playback task; Next, Held and Played are safe from any.
type Sequencer struct {
	player  Player
	metrics *observe.Metrics
	now     func() time.Time

	next uint64
	held itemHeap
	seen map[uint64]struct{}

	nextSnap   atomic.Uint64
	heldSnap   atomic.Int64
	playedSnap atomic.Uint64
}

// New returns a Sequencer that plays through player.
func New(player Player, opts ...Option) *Sequencer {
	s := &Sequencer{
		player: player,
		next:   1,
		seen:   make(map[uint64]struct{}),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	heap.Init(&s.held)
	s.nextSnap.Store(s.next)
	return s
}

// Offer handles one arriving item. An in-order item is played, followed by
// any held successors; an early item is held; a late or duplicate item is
// discarded. Offer returns when everything playable has been played. Play
// errors are logged and do not stop the sequence.
func (s *Sequencer) Offer(ctx context.Context, item types.PlaybackItem) {
	switch {
	case item.Seq < s.next:
		s.discard(ctx, item, "late")
		return
	case item.Seq > s.next:
		if _, dup := s.seen[item.Seq]; dup {
			s.discard(ctx, item, "duplicate")
			return
		}
		s.seen[item.Seq] = struct{}{}
		heap.Push(&s.held, item)
		s.publish(ctx)
		return
	}

	s.play(ctx, item)
	s.next++
	for s.held.Len() > 0 && s.held[0].Seq == s.next {
		it := heap.Pop(&s.held).(types.PlaybackItem)
		delete(s.seen, it.Seq)
		s.play(ctx, it)
		s.next++
	}
	s.publish(ctx)
}

// Run is the playback task. It offers every item from items until the
// channel is closed. Once ctx is done, items are still received but
// discarded, so producers never block on a stopped session.
func (s *Sequencer) Run(ctx context.Context, items <-chan types.PlaybackItem) {
	for item := range items {
		if ctx.Err() != nil {
			s.discard(ctx, item, "stopped")
			continue
		}
		s.Offer(ctx, item)
	}
	if n := s.held.Len(); n > 0 {
		slog.Debug("sequencer: items left waiting for a predecessor", "held", n, "next", s.next)
	}
}

func (s *Sequencer) play(ctx context.Context, item types.PlaybackItem) {
	if item.Empty() {
		s.metrics.RecordPlayback(ctx, observe.PlaybackEmpty)
		s.playedSnap.Add(1)
		return
	}
	if !item.SealedAt.IsZero() {
		s.metrics.EndToEndLatency.Record(ctx, s.now().Sub(item.SealedAt).Seconds())
	}
	err := s.player.Play(ctx, item.Audio)
	s.playedSnap.Add(1)
	if err == nil {
		s.metrics.RecordPlayback(ctx, observe.PlaybackPlayed)
		return
	}
	// Stale covers everything that did not reach the speaker.
	s.metrics.RecordPlayback(ctx, observe.PlaybackStale)
	if !errors.Is(err, context.Canceled) {
		slog.Warn("sequencer: playback failed", "seq", item.Seq, "err", err)
	}
}

func (s *Sequencer) discard(ctx context.Context, item types.PlaybackItem, reason string) {
	s.metrics.RecordPlayback(ctx, observe.PlaybackStale)
	slog.Debug("sequencer: discarding item", "seq", item.Seq, "next", s.next, "reason", reason)
}

func (s *Sequencer) publish(ctx context.Context) {
	s.nextSnap.Store(s.next)
	s.heldSnap.Store(int64(s.held.Len()))
	s.metrics.SequencerHeld.Record(ctx, int64(s.held.Len()))
}

// Next returns the sequence number the sequencer is waiting for.
func (s *Sequencer) Next() uint64 { return s.nextSnap.Load() }

// Held returns the number of items waiting for a predecessor.
func (s *Sequencer) Held() int { return int(s.heldSnap.Load()) }

// Played returns how many items have left the sequencer in order, empty ones
// included.
func (s *Sequencer) Played() uint64 { return s.playedSnap.Load() }
