package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Capture turns an [InputStream] into a sequence of fixed-size [audio.Frame]
// values. ReadFrame must be called from a single goroutine.
type Capture struct {
	stream     InputStream
	format     audio.Format
	frameBytes int
	now        func() time.Time
	onOverflow func()
	overflows  atomic.Uint64
}

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithClock overrides the clock used to stamp frames. Defaults to time.Now.
func WithClock(now func() time.Time) CaptureOption {
	return func(c *Capture) { c.now = now }
}

// WithOverflowHook registers fn to be called on every device overflow.
func WithOverflowHook(fn func()) CaptureOption {
	return func(c *Capture) { c.onOverflow = fn }
}

// NewCapture wraps stream, which must have been opened with cfg.
func NewCapture(stream InputStream, cfg StreamConfig, opts ...CaptureOption) *Capture {
	c := &Capture{
		stream:     stream,
		format:     audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		frameBytes: cfg.FrameBytes(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ReadFrame blocks for the next frame. A device overflow is not an error: it
// yields a silent frame of the usual size so duration arithmetic downstream
// stays correct.
func (c *Capture) ReadFrame() (audio.Frame, error) {
	buf := make([]byte, c.frameBytes)
	err := c.stream.Read(buf)
	switch {
	case err == nil:
	case errors.Is(err, ErrOverflow):
		c.overflows.Add(1)
		if c.onOverflow != nil {
			c.onOverflow()
		}
		slog.Debug("device: input overflow, substituting silence", "bytes", c.frameBytes)
		buf = audio.Silence(c.frameBytes)
	default:
		return audio.Frame{}, fmt.Errorf("device: read frame: %w", err)
	}
	return audio.Frame{Data: buf, Format: c.format, CapturedAt: c.now()}, nil
}

// Format returns the PCM format of captured frames.
func (c *Capture) Format() audio.Format { return c.format }

// FrameBytes returns the size of every frame returned by ReadFrame.
func (c *Capture) FrameBytes() int { return c.frameBytes }

// Overflows returns the number of overflows substituted with silence so far.
func (c *Capture) Overflows() uint64 { return c.overflows.Load() }

// Close closes the underlying stream.
func (c *Capture) Close() error { return c.stream.Close() }
