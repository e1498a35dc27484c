// Package calibrate measures the ambient noise level and derives the
// silence threshold the segmentation engine works with.
//
// The threshold is advisory. A bad measurement degrades segmentation but
// never stops the pipeline, so nothing in this package fails because no audio
// arrived: it falls back to [Config.DefaultThreshold] instead.
package calibrate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Config tunes a measurement.
type Config struct {
	// Window is how much audio to measure. Default 2s.
	Window time.Duration

	// Margin is subtracted from the measured level. Zero is a valid
	// margin; [DefaultConfig] uses 10 dB.
	Margin float64

	// DefaultThreshold is returned when nothing was captured. Default -40 dBFS.
	DefaultThreshold float64

	// Grace is how long past Window the measurement may wait for audio
	// before giving up. Default 1s.
	Grace time.Duration
}

// DefaultConfig returns the stock calibration settings.
func DefaultConfig() Config {
	return Config{
		Window:           2 * time.Second,
		Margin:           10,
		DefaultThreshold: -40,
		Grace:            time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Margin < 0 {
		c.Margin = 0
	}
	if c.DefaultThreshold == 0 {
		c.DefaultThreshold = d.DefaultThreshold
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	return c
}

// Result is the outcome of a measurement.
type Result struct {
	// MeasuredDBFS is the level of the captured audio. It is
	// [audio.SilenceFloorDBFS] when nothing was captured.
	MeasuredDBFS float64

	// ThresholdDBFS is MeasuredDBFS minus the margin, or the default
	// threshold when Fallback is set. It never drops below
	// [MinThresholdDBFS].
	ThresholdDBFS float64

	// Captured is how much audio was measured.
	Captured time.Duration

	// Fallback reports that the capture held nothing to measure: no audio
	// at all, or only digital silence.
	Fallback bool
}

// MinThresholdDBFS is the lowest threshold Compute returns. Anything lower
// sits under [audio.SilenceFloorDBFS], where no window could ever count as
// silent.
const MinThresholdDBFS = audio.SilenceFloorDBFS + 1

// Compute derives a [Result] from captured PCM.
func Compute(pcm []byte, format audio.Format, cfg Config) Result {
	cfg = cfg.withDefaults()
	if len(pcm) == 0 || !format.Valid() {
		return Result{
			MeasuredDBFS:  audio.SilenceFloorDBFS,
			ThresholdDBFS: cfg.DefaultThreshold,
			Fallback:      true,
		}
	}
	res := Result{
		MeasuredDBFS: audio.DBFS(pcm),
		Captured:     format.Duration(len(pcm)),
	}
	if res.MeasuredDBFS <= audio.SilenceFloorDBFS {
		// Loopback devices deliver exact zeros while nobody talks.
		res.ThresholdDBFS = cfg.DefaultThreshold
		res.Fallback = true
		return res
	}
	res.ThresholdDBFS = max(res.MeasuredDBFS-cfg.Margin, MinThresholdDBFS)
	return res
}

// Source yields captured frames. [device.Capture] implements it.
type Source interface {
	ReadFrame() (audio.Frame, error)
}

// Measure reads frames from src until Window worth of audio has arrived,
// Window+Grace has elapsed or src fails, and computes the threshold from
// whatever was read. The deadline is checked between frames. Only a
// cancelled ctx is returned as an error.
func Measure(ctx context.Context, src Source, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(cfg.Window + cfg.Grace)

	var (
		pcm    []byte
		format audio.Format
	)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		f, err := src.ReadFrame()
		if err != nil {
			slog.Warn("calibrate: read failed, using what was captured", "err", err)
			break
		}
		format = f.Format
		pcm = append(pcm, f.Data...)
		if format.Duration(len(pcm)) >= cfg.Window {
			break
		}
	}
	res := Compute(pcm, format, cfg)
	logResult(res)
	return res, nil
}

func logResult(res Result) {
	if res.Fallback {
		slog.Warn("calibrate: nothing to measure, using default threshold",
			"threshold_dbfs", res.ThresholdDBFS,
			"captured", res.Captured,
		)
		return
	}
	slog.Info("calibrate: ambient level measured",
		"measured_dbfs", res.MeasuredDBFS,
		"threshold_dbfs", res.ThresholdDBFS,
		"captured", res.Captured,
	)
}

// Tap collects frames offered by a running capture loop, so the level can be
// measured without a second reader on the device.
type Tap struct {
	cfg Config

	mu     sync.Mutex
	pcm    []byte
	format audio.Format
	closed bool
	done   chan struct{}
}

// NewTap returns a Tap that collects cfg.Window of audio.
func NewTap(cfg Config) *Tap {
	return &Tap{cfg: cfg.withDefaults(), done: make(chan struct{})}
}

// Offer hands a frame to the tap. It reports whether the tap kept the frame;
// false means the tap is already full or closed. Offer never blocks.
func (t *Tap) Offer(f audio.Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.format = f.Format
	t.pcm = append(t.pcm, f.Data...)
	if t.format.Duration(len(t.pcm)) >= t.cfg.Window {
		t.closeLocked()
	}
	return true
}

// Done is closed once the window is full or the tap was closed.
func (t *Tap) Done() <-chan struct{} { return t.done }

// Close stops collecting. It is safe to call more than once.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *Tap) closeLocked() {
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

// Wait blocks until the window is full or Window+Grace has passed, then
// closes the tap and computes the result from what it holds. Only a
// cancelled ctx is returned as an error.
func (t *Tap) Wait(ctx context.Context) (Result, error) {
	timer := time.NewTimer(t.cfg.Window + t.cfg.Grace)
	defer timer.Stop()

	select {
	case <-t.done:
	case <-timer.C:
	case <-ctx.Done():
		t.Close()
		return Result{}, ctx.Err()
	}
	t.Close()

	t.mu.Lock()
	pcm, format := t.pcm, t.format
	t.mu.Unlock()

	res := Compute(pcm, format, t.cfg)
	logResult(res)
	return res, nil
}
