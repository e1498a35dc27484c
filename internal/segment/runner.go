package segment

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// DefaultPollInterval bounds how long the runner waits for a frame before
// re-evaluating the urgent flush.
const DefaultPollInterval = 250 * time.Millisecond

// Sink receives sealed segments. Submit must not block on network I/O.
// Close is called exactly once, after the last Submit.
type Sink interface {
	Submit(seg types.Segment)
	Close()
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithPollInterval sets how often the runner evaluates the urgent flush
// while no frames arrive.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// Runner is the segmentation task: the only reader of the frame queue and
// the only writer to the sink, which keeps sequence numbers monotonic.
type Runner struct {
	engine  *Engine
	frames  <-chan audio.Frame
	sink    Sink
	poll    time.Duration
	metrics *observe.Metrics

	lag atomic.Int64
}

// NewRunner returns a Runner that feeds frames into engine and sealed
// segments into sink.
func NewRunner(engine *Engine, frames <-chan audio.Frame, sink Sink, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		frames: frames,
		sink:   sink,
		poll:   DefaultPollInterval,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run consumes frames until ctx is cancelled or the frame channel is
// closed. On cancellation frames already queued are still segmented; the
// partial buffer left afterwards is discarded. The sink is closed before Run
// returns.
func (r *Runner) Run(ctx context.Context) {
	defer r.sink.Close()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-r.frames:
			if !ok {
				r.finish(ctx)
				return
			}
			r.push(ctx, f)
		case <-ticker.C:
			r.handle(ctx, r.engine.Tick())
		case <-ctx.Done():
			r.drain(ctx)
			r.finish(ctx)
			return
		}
	}
}

func (r *Runner) push(ctx context.Context, f audio.Frame) {
	if !f.CapturedAt.IsZero() {
		r.lag.Store(int64(r.engine.now().Sub(f.CapturedAt)))
	}
	r.handle(ctx, r.engine.Push(f))
}

// drain segments whatever is already queued without waiting for more.
func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case f, ok := <-r.frames:
			if !ok {
				return
			}
			r.push(ctx, f)
		default:
			return
		}
	}
}

func (r *Runner) finish(ctx context.Context) {
	if d := r.engine.Reset(); d > 0 {
		slog.Debug("segment: discarding partial buffer on stop", "duration", d)
		r.metrics.RecordDiscarded(ctx, "stopped")
	}
}

func (r *Runner) handle(ctx context.Context, out Outcome) {
	switch {
	case out.Segment != nil:
		seg := out.Segment
		r.metrics.RecordSealed(ctx, string(seg.Trigger), string(seg.Band), out.Duration)
		slog.Debug("segment: sealed",
			"seq", seg.Seq,
			"trigger", seg.Trigger,
			"band", seg.Band,
			"duration", out.Duration,
		)
		r.sink.Submit(*seg)
	case out.Discarded:
		r.metrics.RecordDiscarded(ctx, "too_short")
		slog.Debug("segment: discarded short buffer", "trigger", out.Trigger, "duration", out.Duration)
	}
}

// Lag returns the age of the most recently received frame at the moment it
// was dequeued.
func (r *Runner) Lag() time.Duration { return time.Duration(r.lag.Load()) }

// Engine returns the runner's engine.
func (r *Runner) Engine() *Engine { return r.engine }
