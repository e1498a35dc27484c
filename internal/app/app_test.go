package app_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxrelay/internal/app"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	devicemock "github.com/MrWong99/voxrelay/pkg/audio/device/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
	storemock "github.com/MrWong99/voxrelay/pkg/store/mock"
)

// 100 ms frames at 16 kHz mono.
const framesPerBuffer = 1600

// testConfig returns a config with defaults applied and timings shortened
// for tests.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Audio.FramesPerBuffer = framesPerBuffer
	cfg.Audio.CalibrationWindow = 200 * time.Millisecond
	cfg.Segmentation.MinSilence = 300 * time.Millisecond
	cfg.Segmentation.PollInterval = 20 * time.Millisecond
	config.ApplyDefaults(cfg)
	return cfg
}

func testHost(in *devicemock.InputStream) *devicemock.Host {
	return &devicemock.Host{
		DeviceList: []device.Info{
			{Index: 0, Name: "USB Microphone", MaxInputChannels: 1, DefaultSampleRate: 16000},
			{Index: 1, Name: "Desk Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		},
		Input:  in,
		Output: &devicemock.OutputStream{},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, host device.Host, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, host, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func testProviders() *app.Providers {
	return &app.Providers{
		STT: &sttmock.Transcriber{Result: stt.Result{Text: "hello world", Language: "en"}},
		TTS: &ttsmock.Synthesizer{},
	}
}

// square returns one frame of a square wave with the given amplitude.
func square(amp int16) []byte {
	b := make([]byte, framesPerBuffer*2)
	for i := range framesPerBuffer {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

// feed releases one device read per queued frame, then closes the gate so
// the next read fails and capture ends.
func feed(gate chan struct{}, n int) {
	go func() {
		for range n {
			gate <- struct{}{}
		}
		close(gate)
	}()
}

// pace releases device reads every few milliseconds until stop is closed,
// then closes the gate.
func pace(gate chan struct{}, stop <-chan struct{}) {
	go func() {
		defer close(gate)
		for {
			select {
			case <-stop:
				return
			case gate <- struct{}{}:
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	host := testHost(nil)

	tests := []struct {
		name      string
		cfg       *config.Config
		host      device.Host
		providers *app.Providers
	}{
		{"nil config", nil, host, testProviders()},
		{"nil host", testConfig(), nil, testProviders()},
		{"nil providers", testConfig(), host, nil},
		{"missing stt", testConfig(), host, &app.Providers{TTS: &ttsmock.Synthesizer{}}},
		{"missing tts", testConfig(), host, &app.Providers{STT: &sttmock.Transcriber{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(context.Background(), tt.cfg, tt.host, tt.providers); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_InitialSettings(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Voices.Selected = "Voice 2"
	cfg.Translation.Enabled = true
	cfg.Translation.Target = "fr"

	a := newApp(t, cfg, testHost(nil), testProviders())

	if v := a.Voice(); v.Name != "Voice 2" || v.ID != "CYw3kZ02Hs0563khs1Fj" {
		t.Errorf("Voice() = %+v, want Voice 2", v)
	}
	if got := a.TargetLanguage(); got != "fr" {
		t.Errorf("TargetLanguage() = %q, want fr", got)
	}
	st := a.State()
	if st.Running || st.SessionID != "" {
		t.Errorf("fresh app state = %+v, want not running", st)
	}
	if st.Profile.MinSilenceMS != 300 {
		t.Errorf("MinSilenceMS = %d, want 300", st.Profile.MinSilenceMS)
	}
}

func TestStart_NoMatchingDevice(t *testing.T) {
	t.Parallel()
	host := testHost(&devicemock.InputStream{})
	a := newApp(t, testConfig(), host, testProviders())

	err := a.Start(context.Background(), app.StartOptions{Input: "headset"})
	if !errors.Is(err, device.ErrNoDevice) {
		t.Fatalf("Start err = %v, want ErrNoDevice", err)
	}
	if a.State().Running {
		t.Error("session should not be running")
	}
	if len(host.OpenedInput) != 0 {
		t.Error("no stream should be opened when selection fails")
	}
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	// 200 ms of room noise for calibration, 2.5 s of speech, 0.5 s of silence.
	var frames [][]byte
	frames = append(frames, repeat(square(100), 2)...)
	frames = append(frames, repeat(square(3000), 25)...)
	frames = append(frames, repeat(make([]byte, framesPerBuffer*2), 5)...)

	gate := make(chan struct{})
	in := &devicemock.InputStream{Frames: frames, Gate: gate}
	host := testHost(in)
	transcriber := &sttmock.Transcriber{Result: stt.Result{Text: "hello world", Language: "en"}}
	synth := &ttsmock.Synthesizer{}
	st := &storemock.Store{}

	a := newApp(t, testConfig(), host, &app.Providers{STT: transcriber, TTS: synth}, app.WithStore(st))

	feed(gate, len(frames))
	if err := a.Start(context.Background(), app.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Capture ends when the gate closes; the session then winds down.
	waitFor(t, "session to end", func() bool { return !a.State().Running })

	if got := transcriber.CallCount(); got != 1 {
		t.Fatalf("STT calls = %d, want 1", got)
	}
	if got := synth.Texts(); len(got) != 1 || got[0] != "hello world" {
		t.Errorf("TTS texts = %q, want [hello world]", got)
	}

	var played []byte
	for _, w := range host.Output.Writes() {
		played = append(played, w...)
	}
	if want := ttsmock.TextClip("hello world").Data; string(played) != string(want) {
		t.Errorf("played %q, want %q", played, want)
	}

	lines := a.Transcript()
	if len(lines) != 1 || lines[0].Text != "hello world" || lines[0].Seq != 1 {
		t.Fatalf("transcript = %+v, want one line for seq 1", lines)
	}

	state := a.State()
	if state.SessionID == "" || state.NextSeq != 2 || state.NextPlayback != 2 {
		t.Errorf("state = %+v, want session id and next seq 2", state)
	}
	if state.Profile.Version != 1 || state.Profile.ThresholdDBFS > -55 || state.Profile.ThresholdDBFS < -65 {
		t.Errorf("profile = %+v, want calibrated threshold near -60 dBFS", state.Profile)
	}
	if !in.IsClosed() {
		t.Error("input stream should be closed when the session ends")
	}

	rec, err := a.SaveTranscript(context.Background(), "standup")
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if rec.Name != "standup" || rec.Transcript != "hello world" || rec.Voice != tts.DefaultVoiceName || rec.SessionID != state.SessionID {
		t.Errorf("saved record = %+v", rec)
	}
	recs, err := a.Transcripts(context.Background(), 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Transcripts = %v, %v; want one record", recs, err)
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	stop := make(chan struct{})
	in := &devicemock.InputStream{Gate: gate, Fill: square(100)}
	host := testHost(in)
	a := newApp(t, testConfig(), host, testProviders())

	if a.Stop() {
		t.Error("Stop before Start should report false")
	}

	pace(gate, stop)
	defer close(stop)

	if err := a.Start(context.Background(), app.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := a.State().SessionID
	if err := a.Start(context.Background(), app.StartOptions{}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := a.State().SessionID; got != first {
		t.Errorf("second Start replaced the session: %q != %q", got, first)
	}
	if n := len(host.OpenedInput); n != 1 {
		t.Errorf("input opened %d times, want 1", n)
	}

	if !a.Stop() {
		t.Error("first Stop should report true")
	}
	if a.Stop() {
		t.Error("second Stop should report false")
	}
	if a.State().Running {
		t.Error("state still running after Stop")
	}
}

func TestStop_DuringCalibration(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	synth := &ttsmock.Synthesizer{}
	providers := testProviders()
	providers.TTS = synth
	a := newApp(t, testConfig(), testHost(&devicemock.InputStream{Gate: gate, Fill: square(100)}), providers)

	started := make(chan error, 1)
	go func() { started <- a.Start(context.Background(), app.StartOptions{}) }()

	waitFor(t, "session to open", func() bool { return a.State().Running })
	if !a.Stop() {
		t.Fatal("Stop during calibration should report true")
	}

	select {
	case err := <-started:
		if !errors.Is(err, app.ErrStopped) {
			t.Errorf("Start err = %v, want ErrStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	close(gate)

	st := a.State()
	if st.Running {
		t.Error("session still running after Stop during calibration")
	}
	if st.Segmenter != "" || st.NextPlayback != 0 {
		t.Errorf("pipeline was launched: %+v", st)
	}
	if n := synth.CallCount(); n != 0 {
		t.Errorf("synthesizer called %d times", n)
	}
}

func TestStart_AfterStopCreatesNewSession(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	stop := make(chan struct{})
	host := testHost(&devicemock.InputStream{Gate: gate, Fill: square(100)})
	a := newApp(t, testConfig(), host, testProviders())

	pace(gate, stop)
	defer close(stop)

	if err := a.Start(context.Background(), app.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := a.State().SessionID
	a.Stop()

	// The mock hands out the same stream again; reopen it for the next session.
	host.Input = &devicemock.InputStream{Gate: gate, Fill: square(100)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Start(ctx, app.StartOptions{}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	st := a.State()
	if !st.Running || st.SessionID == first {
		t.Errorf("restart state = %+v, want a new running session", st)
	}
}

func TestRecalibrate(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	stop := make(chan struct{})
	// Quiet room at start, louder afterwards.
	in := &devicemock.InputStream{Gate: gate, Frames: repeat(square(100), 2), Fill: square(1000)}
	a := newApp(t, testConfig(), testHost(in), testProviders())

	if _, err := a.Recalibrate(context.Background()); !errors.Is(err, app.ErrNotRunning) {
		t.Fatalf("Recalibrate before Start err = %v, want ErrNotRunning", err)
	}

	pace(gate, stop)
	defer close(stop)
	if err := a.Start(context.Background(), app.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := a.State().Profile

	res, err := a.Recalibrate(context.Background())
	if err != nil {
		t.Fatalf("Recalibrate: %v", err)
	}
	if res.Fallback {
		t.Fatal("recalibration should have captured audio")
	}
	after := a.State().Profile
	if after.Version != before.Version+1 {
		t.Errorf("version = %d, want %d", after.Version, before.Version+1)
	}
	if after.ThresholdDBFS <= before.ThresholdDBFS {
		t.Errorf("threshold %.1f should rise above %.1f in a louder room", after.ThresholdDBFS, before.ThresholdDBFS)
	}
	a.Stop()
}

func TestSettings(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testHost(nil), testProviders())

	v, err := a.SetVoice("voice 3")
	if err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	if v.Name != "Voice 3" || a.Voice().ID != "bVMeCyTHy58xNoL34h3p" {
		t.Errorf("voice = %+v / %+v, want Voice 3", v, a.Voice())
	}

	if _, err := a.SetVoice("Narrator"); !errors.Is(err, app.ErrUnknownVoice) {
		t.Errorf("unknown voice err = %v, want ErrUnknownVoice", err)
	}
	if a.Voice().Name != "Voice 3" {
		t.Error("unknown voice must not change the selection")
	}

	tests := []struct {
		in, want string
	}{
		{"ES", "es"},
		{"pt-BR", "pt"},
		{"German", "de"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := a.SetTargetLanguage(tt.in); got != tt.want {
			t.Errorf("SetTargetLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got := a.TargetLanguage(); got != tt.want {
			t.Errorf("TargetLanguage() after %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	old := testConfig()
	a := newApp(t, old, testHost(nil), testProviders())

	next := testConfig()
	next.Voices.Selected = "Voice 2"
	next.Translation.Enabled = true
	next.Translation.Target = "it"
	next.Segmentation.MinSilence = 900 * time.Millisecond
	next.Server.ListenAddr = ":9090"

	a.ApplyConfig(old, next)

	st := a.State()
	if st.Voice != "Voice 2" {
		t.Errorf("voice = %q, want Voice 2", st.Voice)
	}
	if st.TargetLanguage != "it" {
		t.Errorf("target = %q, want it", st.TargetLanguage)
	}
	if st.Profile.MinSilenceMS != 900 {
		t.Errorf("min silence = %dms, want 900", st.Profile.MinSilenceMS)
	}
}

func TestTranscripts_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no store", func(t *testing.T) {
		t.Parallel()
		a := newApp(t, testConfig(), testHost(nil), testProviders())
		if _, err := a.SaveTranscript(context.Background(), "x"); !errors.Is(err, app.ErrNoStore) {
			t.Errorf("SaveTranscript err = %v, want ErrNoStore", err)
		}
		if _, err := a.Transcripts(context.Background(), 0); !errors.Is(err, app.ErrNoStore) {
			t.Errorf("Transcripts err = %v, want ErrNoStore", err)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		a := newApp(t, testConfig(), testHost(nil), testProviders(), app.WithStore(&storemock.Store{}))
		if _, err := a.SaveTranscript(context.Background(), "x"); !errors.Is(err, app.ErrEmptyTranscript) {
			t.Errorf("SaveTranscript err = %v, want ErrEmptyTranscript", err)
		}
	})

	t.Run("list error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("db down")
		a := newApp(t, testConfig(), testHost(nil), testProviders(), app.WithStore(&storemock.Store{ListErr: boom}))
		if _, err := a.Transcripts(context.Background(), 5); !errors.Is(err, boom) {
			t.Errorf("Transcripts err = %v, want %v", err, boom)
		}
	})
}

func TestDevices(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testHost(nil), testProviders())
	inputs, outputs, err := a.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(inputs) != 1 || inputs[0] != "USB Microphone" {
		t.Errorf("inputs = %q", inputs)
	}
	if len(outputs) != 1 || outputs[0] != "Desk Speakers" {
		t.Errorf("outputs = %q", outputs)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	closed := 0
	a, err := app.New(context.Background(), testConfig(), testHost(nil), testProviders(),
		app.WithMetrics(testMetrics(t)),
		app.WithStore(st),
		app.WithCloser(func() error { closed++; return nil }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !st.Closed {
		t.Error("store not closed")
	}
	if closed != 1 {
		t.Errorf("closer ran %d times, want 1", closed)
	}

	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if closed != 1 {
		t.Errorf("closer ran %d times after second Shutdown, want 1", closed)
	}
	if err := a.Start(ctx, app.StartOptions{}); !errors.Is(err, app.ErrClosed) {
		t.Errorf("Start after Shutdown err = %v, want ErrClosed", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), testHost(nil), testProviders(),
		app.WithMetrics(testMetrics(t)),
		app.WithStore(&storemock.Store{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown err = %v, want context.Canceled", err)
	}
}
