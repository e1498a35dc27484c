package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxrelay/internal/calibrate"
	"github.com/MrWong99/voxrelay/internal/dispatch"
	"github.com/MrWong99/voxrelay/internal/queue"
	"github.com/MrWong99/voxrelay/internal/segment"
	"github.com/MrWong99/voxrelay/internal/sequencer"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/audio/playback"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// StartOptions selects the devices for a session. Empty selectors fall back
// to the configured devices, then to the first capable device.
type StartOptions struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// ProfileState is the active silence profile as shown in [State].
type ProfileState struct {
	ThresholdDBFS float64 `json:"threshold_dbfs"`
	MinSilenceMS  int64   `json:"min_silence_ms"`
	Version       uint64  `json:"version"`
}

// State is a point-in-time snapshot of the pipeline.
type State struct {
	Running   bool      `json:"running"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	InputDevice  string `json:"input_device,omitempty"`
	OutputDevice string `json:"output_device,omitempty"`

	Profile ProfileState `json:"profile"`

	// Segmenter is the segmentation engine's state.
	Segmenter string `json:"segmenter,omitempty"`

	// NextSeq is the sequence number the next sealed segment gets.
	NextSeq uint64 `json:"next_seq"`

	// NextPlayback is the sequence number the sequencer is waiting for.
	NextPlayback uint64 `json:"next_playback"`

	InFlight int `json:"in_flight"`
	Pending  int `json:"pending"`
	Held     int `json:"held"`

	QueuedFrames  int     `json:"queued_frames"`
	DroppedFrames uint64  `json:"dropped_frames"`
	Overflows     uint64  `json:"overflows"`
	LagSeconds    float64 `json:"lag_seconds"`

	Voice           string `json:"voice"`
	TargetLanguage  string `json:"target_language,omitempty"`
	TranscriptLines int    `json:"transcript_lines"`
}

// session is one Start→Stop run. Its goroutines hold no reference to the
// App's mutex; they only touch the session's own components.
type session struct {
	id      string
	started time.Time
	input   device.Info
	output  device.Info

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	// ready is set once the pipeline fields below capture are assigned.
	// Readers must check it before touching them.
	ready atomic.Bool

	capture   *device.Capture
	outStream device.OutputStream
	frames    *queue.Queue[audio.Frame]
	profiles  *segment.ProfileStore
	runner    *segment.Runner
	disp      *dispatch.Dispatcher
	seq       *sequencer.Sequencer
	log       *transcript.Log

	tapMu sync.Mutex
	tap   *calibrate.Tap
	// tapOnly keeps tapped frames out of the frame queue. Set for the
	// initial calibration, which runs before segmentation starts.
	tapOnly bool

	wg   sync.WaitGroup
	done chan struct{}
}

// Start opens the devices, calibrates and starts a new session. Starting
// while a session is running is a no-op. A device selector that matches
// nothing fails immediately with [device.ErrNoDevice].
//
// The session counts as running from the moment its devices are open. A
// Stop during calibration ends it there and Start returns [ErrStopped]
// without launching the pipeline.
func (a *App) Start(ctx context.Context, opts StartOptions) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	closed, prev := a.closed, a.sess
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if prev != nil && prev.running.Load() {
		return nil
	}
	if prev != nil {
		// The previous session must release the devices first.
		select {
		case <-prev.done:
		case <-ctx.Done():
			return fmt.Errorf("app: waiting for previous session: %w", ctx.Err())
		}
	}

	sess, err := a.openSession(opts)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.sess = sess
	a.log = sess.log
	a.mu.Unlock()
	a.metrics.ActiveSessions.Add(context.Background(), 1)
	onEnd := func() { a.metrics.ActiveSessions.Add(context.Background(), -1) }
	abort := func(err error) error {
		sess.running.Store(false)
		sess.cancel()
		go sess.finish(onEnd)
		return err
	}

	// ── Capture and initial calibration ──────────────────────────────────
	tap := calibrate.NewTap(a.calibrationConfig())
	sess.setTap(tap, true)
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		a.captureLoop(sess)
	}()

	stopTap := context.AfterFunc(sess.ctx, tap.Close)
	res, err := tap.Wait(ctx)
	stopTap()
	sess.clearTap(tap)
	switch {
	case sess.ctx.Err() != nil:
		slog.Info("session stopped during calibration", "session_id", sess.id)
		return abort(ErrStopped)
	case err != nil:
		return abort(fmt.Errorf("app: calibrate: %w", err))
	}

	// ── Segmentation, dispatch and playback ──────────────────────────────
	sess.profiles = segment.NewProfileStore(segment.Profile{
		ThresholdDBFS: res.ThresholdDBFS,
		MinSilence:    a.currentMinSilence(),
	})
	engine := segment.NewEngine(a.segmentConfig(), sess.profiles)

	disp, err := dispatch.New(a.base, a.stages, a, a.dispatchConfig(),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithTranscriptSink(func(u types.TranscriptUnit) {
			if sess.log.Add(u) {
				slog.Info("transcript", "session_id", sess.id, "seq", u.Seq, "text", u.Final())
			}
		}),
	)
	if err != nil {
		return abort(fmt.Errorf("app: %w", err))
	}
	sess.disp = disp
	sess.runner = segment.NewRunner(engine, sess.frames.C(), disp,
		segment.WithPollInterval(a.cfg.Segmentation.PollInterval),
		segment.WithMetrics(a.metrics),
	)
	sess.seq = sequencer.New(playback.New(sess.outStream, sess.capture.Format()),
		sequencer.WithMetrics(a.metrics),
	)
	sess.ready.Store(true)

	sess.wg.Add(3)
	go func() {
		defer sess.wg.Done()
		sess.runner.Run(sess.ctx)
	}()
	go func() {
		defer sess.wg.Done()
		defer sess.closeOutput()
		sess.seq.Run(sess.ctx, disp.Items())
	}()
	go func() {
		defer sess.wg.Done()
		a.monitorLag(sess)
	}()
	go sess.finish(onEnd)

	slog.Info("session started",
		"session_id", sess.id,
		"input", sess.input.Name,
		"output", sess.output.Name,
		"threshold_dbfs", res.ThresholdDBFS,
		"calibration_fallback", res.Fallback,
	)
	return nil
}

// openSession selects and opens both devices. On failure nothing is left
// open.
func (a *App) openSession(opts StartOptions) (*session, error) {
	inSel, outSel := opts.Input, opts.Output
	if inSel == "" {
		inSel = a.cfg.Audio.InputDevice
	}
	if outSel == "" {
		outSel = a.cfg.Audio.OutputDevice
	}
	in, err := device.SelectInput(a.host, inSel)
	if err != nil {
		return nil, fmt.Errorf("app: select input: %w", err)
	}
	out, err := device.SelectOutput(a.host, outSel)
	if err != nil {
		return nil, fmt.Errorf("app: select output: %w", err)
	}

	streamCfg := device.StreamConfig{
		SampleRate:      a.cfg.Audio.SampleRate,
		Channels:        a.cfg.Audio.Channels,
		FramesPerBuffer: a.cfg.Audio.FramesPerBuffer,
	}
	inStream, err := a.host.OpenInput(in, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("app: open input %q: %w", in.Name, err)
	}
	outStream, err := a.host.OpenOutput(out, streamCfg)
	if err != nil {
		_ = inStream.Close()
		return nil, fmt.Errorf("app: open output %q: %w", out.Name, err)
	}

	sess := &session{
		id:        uuid.NewString(),
		started:   time.Now().UTC(),
		input:     in,
		output:    out,
		frames:    queue.New[audio.Frame](a.cfg.Audio.FrameQueue),
		log:       transcript.NewLog(),
		outStream: outStream,
		done:      make(chan struct{}),
	}
	sess.ctx, sess.cancel = context.WithCancel(a.base)
	sess.capture = device.NewCapture(inStream, streamCfg, device.WithOverflowHook(func() {
		a.metrics.DeviceOverflows.Add(sess.ctx, 1)
	}))
	sess.running.Store(true)
	return sess, nil
}

// Stop ends the running session. It reports whether a session was stopped;
// stopping while stopped is a no-op. Stop does not wait: frames already
// queued are still segmented, admitted segments finish dispatch, and their
// results are discarded by the sequencer.
func (a *App) Stop() bool {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil || !sess.running.CompareAndSwap(true, false) {
		return false
	}
	sess.cancel()
	slog.Info("session stopping", "session_id", sess.id)
	return true
}

// Recalibrate measures the ambient level from the live input and swaps in a
// new silence profile. The segmentation engine picks it up on its next
// frame. When nothing could be measured the current profile is kept.
func (a *App) Recalibrate(ctx context.Context) (calibrate.Result, error) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil || !sess.running.Load() || !sess.ready.Load() {
		return calibrate.Result{}, ErrNotRunning
	}

	tap := calibrate.NewTap(a.calibrationConfig())
	sess.setTap(tap, false)
	res, err := tap.Wait(ctx)
	sess.clearTap(tap)
	if err != nil {
		return calibrate.Result{}, fmt.Errorf("app: recalibrate: %w", err)
	}
	if res.Fallback {
		slog.Warn("app: recalibration had nothing to measure, keeping current profile", "session_id", sess.id)
		return res, nil
	}
	p := sess.profiles.SetThreshold(res.ThresholdDBFS)
	slog.Info("app: recalibrated", "session_id", sess.id, "threshold_dbfs", p.ThresholdDBFS, "version", p.Version)
	return res, nil
}

// State returns a snapshot of the current, or most recent, session plus the
// live settings.
func (a *App) State() State {
	a.mu.Lock()
	sess, log := a.sess, a.log
	a.mu.Unlock()

	st := State{
		Voice:          a.Voice().Name,
		TargetLanguage: a.TargetLanguage(),
		Profile:        ProfileState{MinSilenceMS: a.currentMinSilence().Milliseconds()},
	}
	if log != nil {
		st.TranscriptLines = log.Len()
	}
	if sess == nil {
		return st
	}
	st.Running = sess.running.Load()
	st.SessionID = sess.id
	st.StartedAt = sess.started
	st.InputDevice = sess.input.Name
	st.OutputDevice = sess.output.Name
	st.Overflows = sess.capture.Overflows()
	st.QueuedFrames = sess.frames.Len()
	st.DroppedFrames = sess.frames.Dropped()
	if !sess.ready.Load() {
		return st
	}
	p := sess.profiles.Load()
	st.Profile = ProfileState{
		ThresholdDBFS: p.ThresholdDBFS,
		MinSilenceMS:  p.MinSilence.Milliseconds(),
		Version:       p.Version,
	}
	eng := sess.runner.Engine()
	st.Segmenter = eng.State().String()
	st.NextSeq = eng.NextSeq()
	st.LagSeconds = sess.runner.Lag().Seconds()
	st.InFlight = sess.disp.InFlight()
	st.Pending = sess.disp.Pending()
	st.NextPlayback = sess.seq.Next()
	st.Held = sess.seq.Held()
	return st
}

// captureLoop is the sole reader of the input device and the sole producer
// into the frame queue. It exits at the first read after the session stops
// or on a device error, closing the stream and the queue.
func (a *App) captureLoop(sess *session) {
	defer sess.frames.Close()
	defer func() {
		if err := sess.capture.Close(); err != nil {
			slog.Warn("app: close input stream", "session_id", sess.id, "err", err)
		}
	}()

	for sess.ctx.Err() == nil {
		f, err := sess.capture.ReadFrame()
		if err != nil {
			if sess.ctx.Err() == nil {
				slog.Error("app: capture stopped", "session_id", sess.id, "err", err)
			}
			return
		}
		a.metrics.FramesCaptured.Add(sess.ctx, 1)
		if sess.offer(f) {
			continue
		}
		if _, evicted, ok := sess.frames.Push(f); !ok {
			return
		} else if evicted {
			a.metrics.FramesDropped.Add(sess.ctx, 1)
			slog.Debug("app: frame queue full, dropped oldest frame", "session_id", sess.id)
		}
	}
}

// monitorLag publishes the capture lag until segmentation stops.
func (a *App) monitorLag(sess *session) {
	interval := a.cfg.Segmentation.PollInterval
	if interval <= 0 {
		interval = segment.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.disp.Done():
			return
		case <-ticker.C:
			a.metrics.CaptureLag.Record(context.Background(), sess.runner.Lag().Seconds())
		}
	}
}

func (s *session) setTap(t *calibrate.Tap, only bool) {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	if s.tap != nil {
		s.tap.Close()
	}
	s.tap, s.tapOnly = t, only
}

func (s *session) clearTap(t *calibrate.Tap) {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	if s.tap == t {
		s.tap, s.tapOnly = nil, false
	}
	t.Close()
}

// offer hands f to an active calibration tap. It reports whether the frame
// was consumed and must not be queued.
func (s *session) offer(f audio.Frame) bool {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	if s.tap == nil {
		return false
	}
	if !s.tap.Offer(f) {
		s.tap, s.tapOnly = nil, false
		return false
	}
	return s.tapOnly
}

func (s *session) closeOutput() {
	if err := s.outStream.Close(); err != nil {
		slog.Warn("app: close output stream", "session_id", s.id, "err", err)
	}
}

// finish waits for every session goroutine, then marks the session done and
// calls onEnd if set.
func (s *session) finish(onEnd func()) {
	s.wg.Wait()
	if !s.ready.Load() {
		s.closeOutput()
	}
	s.running.Store(false)
	if onEnd != nil {
		onEnd()
	}
	slog.Info("session ended", "session_id", s.id)
	close(s.done)
}
