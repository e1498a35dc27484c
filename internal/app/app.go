// Package app wires the voxrelay pipeline into a controllable application.
//
// The App owns everything that outlives a single session: providers, the
// transcript store, the voice catalogue and the user's live settings. Start
// opens the audio devices and runs one session (capture → segmentation →
// dispatch → playback); Stop ends it; Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, ...) and pass a mock [device.Host].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/calibrate"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/dispatch"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/polish"
	"github.com/MrWong99/voxrelay/internal/segment"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/store"
	"github.com/MrWong99/voxrelay/pkg/store/badger"
	"github.com/MrWong99/voxrelay/pkg/store/mongo"
	"github.com/MrWong99/voxrelay/pkg/store/postgres"
)

var (
	// ErrNotRunning is returned by operations that need an active session.
	ErrNotRunning = errors.New("app: no session is running")

	// ErrNoStore is returned when transcripts are saved or listed without a
	// configured storage backend.
	ErrNoStore = errors.New("app: no transcript store configured")

	// ErrEmptyTranscript is returned when there is nothing to save.
	ErrEmptyTranscript = errors.New("app: transcript is empty")

	// ErrUnknownVoice is returned by SetVoice for a name not in the catalogue.
	ErrUnknownVoice = errors.New("app: unknown voice")

	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("app: shut down")

	// ErrStopped is returned by Start when Stop ended the session during
	// its initial calibration.
	ErrStopped = errors.New("app: session stopped while starting")
)

// Providers holds one interface value per provider slot. STT and TTS are
// required; a nil LLM disables polishing and a nil Translator disables
// translation. Populated by main.go via the config registry.
type Providers struct {
	STT        stt.Transcriber
	TTS        tts.Synthesizer
	LLM        llm.Provider
	Translator translate.Translator
}

// App owns all subsystem lifetimes and runs at most one session at a time.
type App struct {
	cfg       *config.Config
	host      device.Host
	providers *Providers
	stages    dispatch.Stages
	store     store.Store
	metrics   *observe.Metrics
	catalog   *tts.Catalog

	// base is cancelled at Shutdown. Dispatch workers use it so that work
	// admitted before a Stop still completes.
	base       context.Context
	cancelBase context.CancelFunc

	settingsMu sync.RWMutex
	voice      string
	target     string
	minSilence time.Duration

	// lifecycle serialises Start. mu guards the fields below it and is never
	// held across a blocking call.
	lifecycle sync.Mutex

	mu     sync.Mutex
	sess   *session
	log    *transcript.Log
	closed bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics used by every session. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCloser registers fn to run during Shutdown, after the store closes.
// main.go uses it for providers that hold native resources.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the App. It opens the transcript store named by
// cfg.Storage.Backend unless one was injected with [WithStore]. host is the
// audio backend sessions open their devices on.
func New(ctx context.Context, cfg *config.Config, host device.Host, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if host == nil {
		return nil, errors.New("app: audio host is nil")
	}
	if providers == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: STT and TTS providers are required")
	}

	a := &App{
		cfg:        cfg,
		host:       host,
		providers:  providers,
		target:     cfg.Translation.EffectiveTarget(),
		minSilence: cfg.Segmentation.MinSilence,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.base, a.cancelBase = context.WithCancel(context.Background())

	// ── 1. Voice catalogue ───────────────────────────────────────────────
	catalog, err := tts.NewCatalog(cfg.Voices.Catalog, catalogFallback(cfg.Voices))
	if err != nil {
		return nil, fmt.Errorf("app: voices: %w", err)
	}
	a.catalog = catalog
	v, _ := catalog.Resolve(cfg.Voices.Selected)
	a.voice = v.Name

	// ── 2. Dispatch stages ───────────────────────────────────────────────
	a.stages = dispatch.Stages{
		STT:        providers.STT,
		Translator: providers.Translator,
		TTS:        providers.TTS,
	}
	if cfg.Dispatch.Polish {
		if providers.LLM == nil {
			slog.Warn("app: dispatch.polish is set but no LLM provider is configured, polishing disabled")
		} else {
			a.stages.Polisher = polish.New(providers.LLM)
		}
	}

	// ── 3. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.cancelBase()
		return nil, err
	}

	slog.Info("app initialised",
		"voice", a.voice,
		"target_language", a.target,
		"polish", a.stages.Polisher != nil,
		"translate", a.stages.Translator != nil,
		"storage", cfg.Storage.Backend,
	)
	return a, nil
}

// initStore opens the configured storage backend when none was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		st := a.cfg.Storage
		var (
			s   store.Store
			err error
		)
		switch st.Backend {
		case config.StoragePostgres:
			s, err = postgres.NewStore(ctx, st.PostgresDSN)
		case config.StorageMongo:
			s, err = mongo.New(ctx, mongo.Options{
				URI:        st.MongoURI,
				Database:   st.MongoDatabase,
				Collection: st.MongoCollection,
			})
		case config.StorageBadger:
			s, err = badger.Open(badger.Options{Dir: st.BadgerDir})
		default:
			return nil
		}
		if err != nil {
			return fmt.Errorf("app: open %s store: %w", st.Backend, err)
		}
		a.store = s
		slog.Info("app: transcript store ready", "backend", st.Backend)
	}

	s := a.store
	a.closers = append([]func() error{func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Close(ctx)
	}}, a.closers...)
	return nil
}

// catalogFallback picks the voice unknown names resolve to.
func catalogFallback(v config.VoicesConfig) string {
	for name := range v.Catalog {
		if strings.EqualFold(name, tts.DefaultVoiceName) {
			return name
		}
	}
	return v.Selected
}

// Store returns the transcript store, or nil when none is configured.
func (a *App) Store() store.Store { return a.store }

// Metrics returns the metrics sessions record into.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Settings ────────────────────────────────────────────────────────────────

// Voice implements [dispatch.Settings]. It resolves the selected name on
// every call so a hot-reloaded catalogue takes effect immediately.
func (a *App) Voice() tts.Voice {
	a.settingsMu.RLock()
	name := a.voice
	a.settingsMu.RUnlock()
	v, _ := a.catalog.Resolve(name)
	return v
}

// TargetLanguage implements [dispatch.Settings]. Empty disables translation.
func (a *App) TargetLanguage() string {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.target
}

// Voices returns every voice name in the catalogue.
func (a *App) Voices() []string { return a.catalog.Names() }

// SetVoice selects the voice used for segments synthesized from now on.
func (a *App) SetVoice(name string) (tts.Voice, error) {
	v, ok := a.catalog.Resolve(name)
	if !ok {
		return tts.Voice{}, fmt.Errorf("%w: %q (have %s)", ErrUnknownVoice, name, strings.Join(a.catalog.Names(), ", "))
	}
	a.settingsMu.Lock()
	a.voice = v.Name
	a.settingsMu.Unlock()
	slog.Info("app: voice selected", "voice", v.Name, "voice_id", v.ID)
	return v, nil
}

// SetTargetLanguage changes the translation target for segments dispatched
// from now on. An empty code disables translation. It returns the
// normalised code.
func (a *App) SetTargetLanguage(code string) string {
	code = stt.NormalizeLanguage(code)
	a.settingsMu.Lock()
	a.target = code
	a.settingsMu.Unlock()
	if code != "" && a.stages.Translator == nil {
		slog.Warn("app: target language set but no translator is configured", "target_language", code)
	}
	slog.Info("app: target language changed", "target_language", code)
	return code
}

func (a *App) currentMinSilence() time.Duration {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.minSilence
}

// ─── Devices and transcripts ─────────────────────────────────────────────────

// Devices lists the names of input-capable and output-capable devices.
func (a *App) Devices() (inputs, outputs []string, err error) {
	return device.List(a.host)
}

// Transcript returns the lines of the current, or most recent, session.
func (a *App) Transcript() []transcript.Line {
	a.mu.Lock()
	log := a.log
	a.mu.Unlock()
	if log == nil {
		return nil
	}
	return log.Lines()
}

// SaveTranscript writes the current transcript to the store under name. An
// empty name gets a timestamped default.
func (a *App) SaveTranscript(ctx context.Context, name string) (store.Record, error) {
	if a.store == nil {
		return store.Record{}, ErrNoStore
	}
	a.mu.Lock()
	log, sessionID := a.log, ""
	if a.sess != nil {
		sessionID = a.sess.id
	}
	a.mu.Unlock()
	if log == nil || log.Len() == 0 {
		return store.Record{}, ErrEmptyTranscript
	}

	rec, err := a.store.Save(ctx, store.Record{
		SessionID:  sessionID,
		Name:       name,
		Transcript: log.Text(),
		Voice:      a.Voice().Name,
		Language:   a.TargetLanguage(),
	})
	if err != nil {
		return store.Record{}, fmt.Errorf("app: save transcript: %w", err)
	}
	slog.Info("app: transcript saved", "id", rec.ID, "name", rec.Name, "lines", log.Len())
	return rec, nil
}

// Transcripts lists saved transcripts, newest first.
func (a *App) Transcripts(ctx context.Context, limit int) ([]store.Record, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	recs, err := a.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("app: list transcripts: %w", err)
	}
	return recs, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session, waits for its goroutines and then runs the
// closers. It respects the context deadline: if ctx expires first, in-flight
// dispatch work is abandoned, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		sess := a.sess
		a.mu.Unlock()

		a.Stop()
		if sess != nil {
			select {
			case <-sess.done:
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded while draining session", "session_id", sess.id)
			}
		}
		a.cancelBase()

		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) calibrationConfig() calibrate.Config {
	return calibrate.Config{
		Window:           a.cfg.Audio.CalibrationWindow,
		Margin:           a.cfg.Audio.Margin(),
		DefaultThreshold: a.cfg.Audio.DefaultThreshold,
	}
}

func (a *App) segmentConfig() segment.Config {
	s := a.cfg.Segmentation
	return segment.Config{
		MinSegment:     s.MinSegment,
		MinAccumulated: s.MinAccumulated,
		UrgentFlush:    s.UrgentFlush,
	}
}

func (a *App) dispatchConfig() dispatch.Config {
	d := a.cfg.Dispatch
	return dispatch.Config{
		Concurrency:        d.Concurrency,
		PendingQueue:       d.PendingQueue,
		Language:           d.Language,
		TranslateToEnglish: d.TranslateToEnglish,
		SourceLanguage:     a.cfg.Translation.Source,
		STTTimeout:         d.STTTimeout,
		PolishTimeout:      d.PolishTimeout,
		TranslateTimeout:   d.TranslateTimeout,
		TTSTimeout:         d.TTSTimeout,
	}
}
