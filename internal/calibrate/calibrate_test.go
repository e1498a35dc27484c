package calibrate_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/calibrate"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/audio/device/mock"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// square returns d of a square wave with amplitude amp. amp 1036 is about
// -30 dBFS.
func square(d time.Duration, amp int16) []byte {
	n := mono16k.Bytes(d) / 2
	b := make([]byte, n*2)
	for i := range n {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func frame(d time.Duration, amp int16) audio.Frame {
	return audio.Frame{Data: square(d, amp), Format: mono16k, CapturedAt: time.Now()}
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.1 }

// sparse returns d of digital silence with a single 1 every 100 samples,
// about -110 dBFS.
func sparse(d time.Duration) []byte {
	b := make([]byte, mono16k.Bytes(d))
	for i := 0; i < len(b)/2; i += 100 {
		binary.LittleEndian.PutUint16(b[i*2:], 1)
	}
	return b
}

// windowed returns the default config with a different window.
func windowed(d time.Duration) calibrate.Config {
	cfg := calibrate.DefaultConfig()
	cfg.Window = d
	return cfg
}

func TestCompute(t *testing.T) {
	t.Parallel()
	cfg := calibrate.DefaultConfig()

	tests := []struct {
		name          string
		pcm           []byte
		format        audio.Format
		wantThreshold float64
		wantFallback  bool
	}{
		{name: "ambient noise", pcm: square(time.Second, 1036), format: mono16k, wantThreshold: -40},
		{name: "empty buffer", pcm: nil, format: mono16k, wantThreshold: -40, wantFallback: true},
		{name: "no format", pcm: square(time.Second, 1036), wantThreshold: -40, wantFallback: true},
		{name: "digital silence", pcm: make([]byte, mono16k.Bytes(2*time.Second)), format: mono16k, wantThreshold: -40, wantFallback: true},
		{name: "near the floor", pcm: sparse(time.Second), format: mono16k, wantThreshold: calibrate.MinThresholdDBFS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := calibrate.Compute(tt.pcm, tt.format, cfg)
			if res.Fallback != tt.wantFallback {
				t.Errorf("Fallback = %v, want %v", res.Fallback, tt.wantFallback)
			}
			if !near(res.ThresholdDBFS, tt.wantThreshold) {
				t.Errorf("ThresholdDBFS = %.2f, want %.2f", res.ThresholdDBFS, tt.wantThreshold)
			}
		})
	}
}

func TestCompute_CustomMargin(t *testing.T) {
	t.Parallel()
	res := calibrate.Compute(square(time.Second, 1036), mono16k, calibrate.Config{Margin: 6})
	if !near(res.MeasuredDBFS, -30) || !near(res.ThresholdDBFS, -36) {
		t.Errorf("measured %.2f threshold %.2f, want -30 and -36", res.MeasuredDBFS, res.ThresholdDBFS)
	}
	if res.Captured != time.Second {
		t.Errorf("Captured = %s, want 1s", res.Captured)
	}
}

func TestCompute_ZeroMargin(t *testing.T) {
	t.Parallel()
	cfg := calibrate.DefaultConfig()
	cfg.Margin = 0
	res := calibrate.Compute(square(time.Second, 1036), mono16k, cfg)
	if !near(res.ThresholdDBFS, res.MeasuredDBFS) {
		t.Errorf("threshold %.2f, want the measured %.2f", res.ThresholdDBFS, res.MeasuredDBFS)
	}
}

// A quiet calibration must still leave a threshold that silence can fall
// under, or every segment would wait for the urgent flush.
func TestCompute_ThresholdDetectsSilence(t *testing.T) {
	t.Parallel()
	quiet := make([]byte, mono16k.Bytes(time.Second))
	for name, pcm := range map[string][]byte{
		"digital silence": make([]byte, mono16k.Bytes(2*time.Second)),
		"near the floor":  sparse(2 * time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := calibrate.Compute(pcm, mono16k, calibrate.DefaultConfig())
			if !audio.DetectSilence(quiet, mono16k, res.ThresholdDBFS, 700*time.Millisecond) {
				t.Errorf("threshold %.1f dBFS never detects silence", res.ThresholdDBFS)
			}
		})
	}
}

func captureFrom(stream *mock.InputStream) *device.Capture {
	return device.NewCapture(stream, device.StreamConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 1600})
}

func TestMeasure_ReadsWindow(t *testing.T) {
	t.Parallel()
	stream := &mock.InputStream{Fill: square(100*time.Millisecond, 1036)}
	res, err := calibrate.Measure(context.Background(), captureFrom(stream), windowed(500*time.Millisecond))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if res.Fallback {
		t.Fatal("unexpected fallback")
	}
	if res.Captured != 500*time.Millisecond {
		t.Errorf("Captured = %s, want 500ms", res.Captured)
	}
	if stream.Reads != 5 {
		t.Errorf("reads = %d, want 5", stream.Reads)
	}
	if !near(res.ThresholdDBFS, -40) {
		t.Errorf("ThresholdDBFS = %.2f", res.ThresholdDBFS)
	}
}

func TestMeasure_OverflowCountsAsSilence(t *testing.T) {
	t.Parallel()
	stream := &mock.InputStream{
		Frames:         [][]byte{nil, nil},
		EOFWhenDrained: true,
	}
	res, err := calibrate.Measure(context.Background(), captureFrom(stream), calibrate.DefaultConfig())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if res.MeasuredDBFS != audio.SilenceFloorDBFS {
		t.Errorf("MeasuredDBFS = %v", res.MeasuredDBFS)
	}
	if !res.Fallback || res.ThresholdDBFS != -40 || res.Captured == 0 {
		t.Errorf("result = %+v, want captured silence to fall back to -40", res)
	}
}

func TestMeasure_FallbackWhenNothingCaptured(t *testing.T) {
	t.Parallel()
	stream := &mock.InputStream{EOFWhenDrained: true}
	res, err := calibrate.Measure(context.Background(), captureFrom(stream), calibrate.DefaultConfig())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !res.Fallback || res.ThresholdDBFS != -40 {
		t.Errorf("result = %+v, want fallback to -40", res)
	}
}

func TestMeasure_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := calibrate.Measure(ctx, captureFrom(&mock.InputStream{}), calibrate.DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTap_FillsWindow(t *testing.T) {
	t.Parallel()
	tap := calibrate.NewTap(windowed(300 * time.Millisecond))

	for i := range 3 {
		if !tap.Offer(frame(100*time.Millisecond, 1036)) {
			t.Fatalf("frame %d rejected", i)
		}
	}
	select {
	case <-tap.Done():
	default:
		t.Fatal("tap should be done after a full window")
	}
	if tap.Offer(frame(100*time.Millisecond, 1036)) {
		t.Error("a full tap must reject further frames")
	}

	res, err := tap.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Captured != 300*time.Millisecond || !near(res.ThresholdDBFS, -40) {
		t.Errorf("result = %+v", res)
	}
}

func TestTap_TimesOutWithPartialAudio(t *testing.T) {
	t.Parallel()
	tap := calibrate.NewTap(calibrate.Config{Window: 50 * time.Millisecond, Grace: 10 * time.Millisecond})
	tap.Offer(frame(20*time.Millisecond, 1036))

	res, err := tap.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Fallback || res.Captured != 20*time.Millisecond {
		t.Errorf("result = %+v, want 20ms measured", res)
	}
}

func TestTap_TimesOutEmpty(t *testing.T) {
	t.Parallel()
	tap := calibrate.NewTap(calibrate.Config{Window: 20 * time.Millisecond, Grace: 10 * time.Millisecond})
	res, err := tap.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !res.Fallback {
		t.Error("expected fallback")
	}
}

func TestTap_WaitCancelled(t *testing.T) {
	t.Parallel()
	tap := calibrate.NewTap(calibrate.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tap.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if tap.Offer(frame(10*time.Millisecond, 1)) {
		t.Error("cancelled tap must stop accepting frames")
	}
}

var _ calibrate.Source = (*device.Capture)(nil)
