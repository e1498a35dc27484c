// Package segment cuts the captured frame stream into [types.Segment] values.
//
// The [Engine] is a small state machine. Every frame is appended to a buffer,
// then two flush triggers are evaluated against the whole buffer: a silent
// run of at least [Profile.MinSilence], and the urgent flush once the oldest
// buffered frame is older than [Config.UrgentFlush]. When a trigger fires the
// buffer is sealed if it is long enough and discarded otherwise. The
// [Runner] drives an Engine from the frame queue and hands sealed segments to
// dispatch.
package segment

import (
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// State is the engine's position in the accumulate/evaluate/seal cycle.
type State int32

const (
	// StateAccumulating means the buffer is shorter than the sealing floor.
	StateAccumulating State = iota

	// StateEvaluating means the buffer is long enough to seal and is tested
	// against the triggers on every frame.
	StateEvaluating

	// StateSealing is held only while a triggered buffer is cut.
	StateSealing
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateEvaluating:
		return "evaluating"
	case StateSealing:
		return "sealing"
	default:
		return "unknown"
	}
}

// Config holds the timing floors and ceiling.
type Config struct {
	// MinSegment is the length at which a triggered buffer is sealed in the
	// [types.BandSegment] band. Default 1.5s.
	MinSegment time.Duration

	// MinAccumulated is the length below which a triggered buffer is
	// discarded. Default 2s.
	MinAccumulated time.Duration

	// UrgentFlush is the maximum age of the oldest buffered frame before a
	// flush is forced. Default 10s.
	UrgentFlush time.Duration
}

// DefaultConfig returns the stock floors and ceiling.
func DefaultConfig() Config {
	return Config{
		MinSegment:     1500 * time.Millisecond,
		MinAccumulated: 2 * time.Second,
		UrgentFlush:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSegment <= 0 {
		c.MinSegment = d.MinSegment
	}
	if c.MinAccumulated <= 0 {
		c.MinAccumulated = d.MinAccumulated
	}
	if c.UrgentFlush <= 0 {
		c.UrgentFlush = d.UrgentFlush
	}
	return c
}

// floor is the shortest buffer that may be sealed.
func (c Config) floor() time.Duration {
	return max(c.MinSegment, c.MinAccumulated)
}

// Outcome reports what a Push or Tick did. The zero value means the buffer
// keeps accumulating.
type Outcome struct {
	// Segment is set when the buffer was sealed.
	Segment *types.Segment

	// Discarded is set when a trigger fired on a buffer below the floor.
	Discarded bool

	// Trigger is the rule that fired, if any.
	Trigger types.Trigger

	// Duration is the length of the sealed or discarded buffer.
	Duration time.Duration
}

// Fired reports whether a trigger fired.
func (o Outcome) Fired() bool { return o.Trigger != "" }

// Option configures an [Engine].
type Option func(*Engine)

// WithClock overrides the clock used for the urgent-flush check and seal
// timestamps. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFirstSeq sets the sequence number of the first sealed segment.
// Defaults to 1.
func WithFirstSeq(seq uint64) Option {
	return func(e *Engine) { e.nextSeq.Store(seq) }
}

// Engine is the segmentation state machine. Push, Tick and Reset must be
// called from one goroutine; the snapshot accessors are safe from any.
type Engine struct {
	cfg      Config
	profiles *ProfileStore
	now      func() time.Time

	buf      []byte
	times    []time.Time
	first    time.Time
	format   audio.Format
	lastSeal time.Time

	state    atomic.Int32
	nextSeq  atomic.Uint64
	buffered atomic.Int64
}

// NewEngine returns an Engine reading the active profile from profiles.
func NewEngine(cfg Config, profiles *ProfileStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		profiles: profiles,
		now:      time.Now,
	}
	e.nextSeq.Store(1)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Push appends f to the buffer and evaluates the triggers. A frame whose
// format differs from the buffered audio first discards the buffer, since
// the two cannot share one segment.
func (e *Engine) Push(f audio.Frame) Outcome {
	if len(f.Data) == 0 {
		return e.Tick()
	}
	if len(e.buf) > 0 && f.Format != e.format {
		e.reset()
	}
	if len(e.buf) == 0 {
		e.first = f.CapturedAt
		if e.first.IsZero() {
			e.first = e.now()
		}
		e.format = f.Format
	}
	e.buf = append(e.buf, f.Data...)
	e.times = append(e.times, f.CapturedAt)
	return e.evaluate()
}

// Tick evaluates the triggers without new audio so the urgent flush can fire
// while the device is quiet or stalled. It is a no-op on an empty buffer.
func (e *Engine) Tick() Outcome {
	if len(e.buf) == 0 {
		return Outcome{}
	}
	return e.evaluate()
}

// Reset drops the buffer and returns how much audio was in it.
func (e *Engine) Reset() time.Duration {
	d := e.duration()
	e.reset()
	return d
}

func (e *Engine) evaluate() Outcome {
	dur := e.duration()
	e.buffered.Store(int64(dur))
	if dur < e.cfg.floor() {
		e.state.Store(int32(StateAccumulating))
	} else {
		e.state.Store(int32(StateEvaluating))
	}

	profile := e.profiles.Load()
	now := e.now()

	var trigger types.Trigger
	switch {
	case audio.DetectSilence(e.buf, e.format, profile.ThresholdDBFS, profile.MinSilence):
		trigger = types.TriggerSilence
	case now.Sub(e.first) > e.cfg.UrgentFlush:
		trigger = types.TriggerUrgent
	default:
		return Outcome{}
	}

	e.state.Store(int32(StateSealing))
	if dur < e.cfg.MinAccumulated {
		e.reset()
		return Outcome{Discarded: true, Trigger: trigger, Duration: dur}
	}
	return Outcome{Segment: e.seal(now, trigger, dur), Trigger: trigger, Duration: dur}
}

func (e *Engine) seal(now time.Time, trigger types.Trigger, dur time.Duration) *types.Segment {
	band := types.BandSegment
	if dur < e.cfg.MinSegment {
		band = types.BandAccumulated
	}
	// Seal times are strictly increasing even under a coarse clock.
	if !now.After(e.lastSeal) {
		now = e.lastSeal.Add(time.Nanosecond)
	}
	e.lastSeal = now

	seg := &types.Segment{
		Seq:          e.nextSeq.Add(1) - 1,
		PCM:          e.buf,
		Format:       e.format,
		FirstFrameAt: e.first,
		SealedAt:     now,
		FrameTimes:   e.times,
		Trigger:      trigger,
		Band:         band,
	}
	// The segment owns the old slices; start fresh ones.
	e.buf, e.times = nil, nil
	e.reset()
	return seg
}

func (e *Engine) reset() {
	e.buf = e.buf[:0]
	e.times = e.times[:0]
	e.first = time.Time{}
	e.buffered.Store(0)
	e.state.Store(int32(StateAccumulating))
}

func (e *Engine) duration() time.Duration {
	if len(e.buf) == 0 {
		return 0
	}
	return e.format.Duration(len(e.buf))
}

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

// NextSeq returns the sequence number the next sealed segment will get.
func (e *Engine) NextSeq() uint64 { return e.nextSeq.Load() }

// Buffered returns the length of audio currently buffered.
func (e *Engine) Buffered() time.Duration { return time.Duration(e.buffered.Load()) }
