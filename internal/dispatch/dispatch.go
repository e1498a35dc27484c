// Package dispatch turns sealed segments into playback items.
//
// Each segment runs through speech-to-text, an optional polish pass, optional
// translation and speech synthesis. At most [Config.Concurrency] segments are
// inside those stages at once; the rest wait in a small pending queue and are
// admitted in submission order. Workers finish out of order, so every item
// carries its segment's sequence number for the playback sequencer.
//
// No stage retries. A failed transcription yields an empty item, a failed
// polish or translation falls back to the text it was given, and a failed
// synthesis yields an empty item. Every admitted segment, including one
// evicted from a full pending queue, produces exactly one item so the
// sequencer never waits for a number that will not arrive.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/queue"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// Defaults for [Config].
const (
	DefaultConcurrency      = 2
	DefaultPendingQueue     = 8
	DefaultItemBuffer       = 16
	DefaultSTTTimeout       = 30 * time.Second
	DefaultPolishTimeout    = 10 * time.Second
	DefaultTranslateTimeout = 10 * time.Second
	DefaultTTSTimeout       = 10 * time.Second
)

// Config tunes a [Dispatcher]. Zero values take the defaults above.
type Config struct {
	Concurrency  int
	PendingQueue int
	ItemBuffer   int

	// Language is the speech-to-text language hint. Empty means detect.
	Language string

	// TranslateToEnglish asks the transcriber for English output.
	TranslateToEnglish bool

	// SourceLanguage is passed to the translator when the transcriber did not
	// report a language. Defaults to [translate.AutoDetect].
	SourceLanguage string

	STTTimeout       time.Duration
	PolishTimeout    time.Duration
	TranslateTimeout time.Duration
	TTSTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	setDefault(&c.Concurrency, DefaultConcurrency)
	setDefault(&c.PendingQueue, DefaultPendingQueue)
	setDefault(&c.ItemBuffer, DefaultItemBuffer)
	setDefault(&c.STTTimeout, DefaultSTTTimeout)
	setDefault(&c.PolishTimeout, DefaultPolishTimeout)
	setDefault(&c.TranslateTimeout, DefaultTranslateTimeout)
	setDefault(&c.TTSTimeout, DefaultTTSTimeout)
	if c.SourceLanguage == "" {
		c.SourceLanguage = translate.AutoDetect
	}
	return c
}

func setDefault[T int | time.Duration](v *T, d T) {
	if *v <= 0 {
		*v = d
	}
}

// Polisher edits transcribed text. On failure it returns the text it was
// given together with the error.
type Polisher interface {
	Polish(ctx context.Context, text string) (string, error)
}

// Stages holds the backends. STT and TTS are required; Polisher and
// Translator may be nil to skip their stage.
type Stages struct {
	STT        stt.Transcriber
	Polisher   Polisher
	Translator translate.Translator
	TTS        tts.Synthesizer
}

// Settings supplies the values the user can change while a session runs.
// Both methods are called once per segment from worker goroutines.
type Settings interface {
	Voice() tts.Voice
	TargetLanguage() string
}

// StaticSettings is a fixed [Settings].
type StaticSettings struct {
	VoiceValue tts.Voice
	Target     string
}

// Voice implements [Settings].
func (s StaticSettings) Voice() tts.Voice { return s.VoiceValue }

// TargetLanguage implements [Settings].
func (s StaticSettings) TargetLanguage() string { return s.Target }

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTranscriptSink registers fn to receive every unit that has text, as
// soon as its text is final and before synthesis. fn runs on a worker
// goroutine and must be safe for concurrent use.
func WithTranscriptSink(fn func(types.TranscriptUnit)) Option {
	return func(d *Dispatcher) { d.onUnit = fn }
}

// Dispatcher runs the stages for submitted segments. Submit and Close are
// meant for a single producer, the segmentation task.
type Dispatcher struct {
	cfg      Config
	stages   Stages
	settings Settings
	metrics  *observe.Metrics
	onUnit   func(types.TranscriptUnit)

	ctx     context.Context
	pending *queue.Queue[types.Segment]
	sem     *semaphore.Weighted
	items   chan types.PlaybackItem
	wg      sync.WaitGroup

	inFlight atomic.Int64
	done     chan struct{}
}

// New starts a Dispatcher. Worker calls derive from ctx; cancelling it aborts
// in-flight provider calls and turns queued segments into empty items. Stop
// the producer with [Dispatcher.Close] instead when in-flight work should
// finish normally.
func New(ctx context.Context, stages Stages, settings Settings, cfg Config, opts ...Option) (*Dispatcher, error) {
	if stages.STT == nil {
		return nil, errors.New("dispatch: a transcriber is required")
	}
	if stages.TTS == nil {
		return nil, errors.New("dispatch: a synthesizer is required")
	}
	if settings == nil {
		return nil, errors.New("dispatch: settings are required")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:      cfg,
		stages:   stages,
		settings: settings,
		ctx:      ctx,
		pending:  queue.New[types.Segment](cfg.PendingQueue),
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		items:    make(chan types.PlaybackItem, cfg.ItemBuffer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	go d.admit()
	return d, nil
}

// Submit queues seg without blocking. When the pending queue is full the
// oldest waiting segment is evicted and answered with an empty item.
// Submitting after Close drops seg silently.
func (d *Dispatcher) Submit(seg types.Segment) {
	old, evicted, ok := d.pending.Push(seg)
	if !ok || !evicted {
		return
	}
	// The goroutine holds only the empty item, not the evicted PCM.
	item := emptyItem(old)
	observe.Logger(d.ctx).Warn("dispatch: pending queue full, dropping oldest segment",
		"seq", item.Seq,
		"pending", d.pending.Cap(),
	)
	d.metrics.RecordDiscarded(d.ctx, "queue_full")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.emit(item)
	}()
}

// Close stops accepting segments. Queued and in-flight segments still
// complete; the item channel is closed after the last item.
func (d *Dispatcher) Close() { d.pending.Close() }

// Items returns the channel of finished items, in completion order.
func (d *Dispatcher) Items() <-chan types.PlaybackItem { return d.items }

// Done is closed after the item channel has been closed.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// InFlight returns the number of segments inside the stages.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Pending returns the number of segments waiting for admission.
func (d *Dispatcher) Pending() int { return d.pending.Len() }

// admit is the admission gate: it takes segments in submission order and
// starts a worker once a slot is free.
func (d *Dispatcher) admit() {
	defer close(d.done)
	defer close(d.items)

	for seg := range d.pending.C() {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.emit(emptyItem(seg))
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sem.Release(1)
			d.process(seg)
		}()
	}
	d.wg.Wait()
}

func (d *Dispatcher) process(seg types.Segment) {
	ctx, span := observe.StartSegmentSpan(d.ctx, seg.Seq, seg.Duration())
	defer span.End()

	d.inFlight.Add(1)
	d.metrics.InFlight.Add(ctx, 1)
	defer func() {
		d.inFlight.Add(-1)
		d.metrics.InFlight.Add(ctx, -1)
	}()

	item := emptyItem(seg)
	defer func() { d.emit(item) }()

	unit, ok := d.transcribe(ctx, seg)
	if !ok {
		return
	}
	unit = d.polish(ctx, unit)
	unit = d.translate(ctx, unit)
	if d.onUnit != nil {
		d.onUnit(unit)
	}
	item.Audio = d.synthesize(ctx, unit)
}

func (d *Dispatcher) transcribe(ctx context.Context, seg types.Segment) (types.TranscriptUnit, bool) {
	var res stt.Result
	err := d.stage(ctx, observe.StageSTT, d.cfg.STTTimeout, func(ctx context.Context) error {
		var err error
		res, err = d.stages.STT.Transcribe(ctx, stt.Request{
			PCM:       seg.PCM,
			Format:    seg.Format,
			Language:  d.cfg.Language,
			Translate: d.cfg.TranslateToEnglish,
		})
		return err
	})
	log := observe.Logger(ctx)
	if err != nil {
		log.Warn("dispatch: transcription failed, dropping segment", "seq", seg.Seq, "err", err)
		return types.TranscriptUnit{}, false
	}
	if res.Text == "" {
		log.Debug("dispatch: empty transcription", "seq", seg.Seq)
		d.metrics.RecordDiscarded(ctx, "empty_transcript")
		return types.TranscriptUnit{}, false
	}

	lang := stt.NormalizeLanguage(res.Language)
	if lang == "" {
		lang = stt.NormalizeLanguage(d.cfg.Language)
	}
	return types.TranscriptUnit{Seq: seg.Seq, Text: res.Text, RawText: res.Text, Language: lang}, true
}

func (d *Dispatcher) polish(ctx context.Context, u types.TranscriptUnit) types.TranscriptUnit {
	if d.stages.Polisher == nil {
		return u
	}
	var text string
	err := d.stage(ctx, observe.StagePolish, d.cfg.PolishTimeout, func(ctx context.Context) error {
		var err error
		text, err = d.stages.Polisher.Polish(ctx, u.Text)
		return err
	})
	if err != nil {
		observe.Logger(ctx).Debug("dispatch: polish fell back to raw text", "seq", u.Seq, "err", err)
		return u
	}
	if text != "" {
		u.Text = text
	}
	return u
}

func (d *Dispatcher) translate(ctx context.Context, u types.TranscriptUnit) types.TranscriptUnit {
	target := d.settings.TargetLanguage()
	source := u.Language
	if source == "" {
		source = d.cfg.SourceLanguage
	}
	if d.stages.Translator == nil || !translate.Needed(source, target) {
		return u
	}
	var res translate.Result
	err := d.stage(ctx, observe.StageTranslate, d.cfg.TranslateTimeout, func(ctx context.Context) error {
		var err error
		res, err = d.stages.Translator.Translate(ctx, u.Text, source, target)
		return err
	})
	if err != nil {
		observe.Logger(ctx).Warn("dispatch: translation failed, keeping original text",
			"seq", u.Seq,
			"target", target,
			"err", err,
		)
		return u
	}
	if res.Text != "" {
		u.Text = res.Text
		u.Translated = true
	}
	return u
}

func (d *Dispatcher) synthesize(ctx context.Context, u types.TranscriptUnit) (clip audio.Clip) {
	text := u.Final()
	if text == "" {
		return clip
	}
	voice := d.settings.Voice()
	err := d.stage(ctx, observe.StageTTS, d.cfg.TTSTimeout, func(ctx context.Context) error {
		var err error
		clip, err = d.stages.TTS.Synthesize(ctx, text, voice)
		return err
	})
	if err != nil {
		observe.Logger(ctx).Warn("dispatch: synthesis failed, emitting silence",
			"seq", u.Seq,
			"voice", voice.Name,
			"err", err,
		)
		return audio.Clip{}
	}
	return clip
}

// stage runs fn under its own span and timeout and records its latency.
func (d *Dispatcher) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "dispatch."+name)
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(sctx)
	d.metrics.RecordStage(ctx, name, time.Since(start), err != nil)
	observe.FailSpan(span, err)
	return err
}

func (d *Dispatcher) emit(item types.PlaybackItem) {
	d.items <- item
}

func emptyItem(seg types.Segment) types.PlaybackItem {
	return types.PlaybackItem{Seq: seg.Seq, SealedAt: seg.SealedAt}
}
