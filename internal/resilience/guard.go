package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// Provider kinds used as the "kind" metric attribute.
const (
	KindSTT       = "stt"
	KindTTS       = "tts"
	KindLLM       = "llm"
	KindTranslate = "translate"
)

// GuardConfig configures one guarded provider.
type GuardConfig struct {
	// Provider is the backend name used in logs and metric attributes.
	Provider string

	// Breaker tunes the circuit breaker. Its Name defaults to
	// "<kind>/<provider>".
	Breaker BreakerConfig

	// Metrics receives request and error counters. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// guard holds what every Guard* type shares.
type guard struct {
	provider string
	kind     string
	breaker  *Breaker
	metrics  *observe.Metrics
}

func newGuard(kind string, cfg GuardConfig) guard {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = kind + "/" + cfg.Provider
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return guard{
		provider: cfg.Provider,
		kind:     kind,
		breaker:  NewBreaker(cfg.Breaker),
		metrics:  cfg.Metrics,
	}
}

func (g *guard) do(ctx context.Context, fn func(context.Context) error) error {
	err := g.breaker.Do(ctx, fn)
	status := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "rejected"
	case err != nil:
		status = "error"
		g.metrics.RecordProviderError(ctx, g.provider, g.kind)
	}
	g.metrics.RecordProviderRequest(ctx, g.provider, g.kind, status)
	return err
}

// Breaker exposes the underlying breaker, mainly for health reporting.
func (g *guard) Breaker() *Breaker { return g.breaker }

// GuardedTranscriber wraps an [stt.Transcriber].
type GuardedTranscriber struct {
	guard
	next stt.Transcriber
}

var _ stt.Transcriber = (*GuardedTranscriber)(nil)

// GuardTranscriber wraps next with a breaker.
func GuardTranscriber(next stt.Transcriber, cfg GuardConfig) *GuardedTranscriber {
	return &GuardedTranscriber{guard: newGuard(KindSTT, cfg), next: next}
}

// Transcribe implements [stt.Transcriber].
func (g *GuardedTranscriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	var res stt.Result
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.next.Transcribe(ctx, req)
		return err
	})
	return res, err
}

// GuardedSynthesizer wraps a [tts.Synthesizer].
type GuardedSynthesizer struct {
	guard
	next tts.Synthesizer
}

var _ tts.Synthesizer = (*GuardedSynthesizer)(nil)

// GuardSynthesizer wraps next with a breaker.
func GuardSynthesizer(next tts.Synthesizer, cfg GuardConfig) *GuardedSynthesizer {
	return &GuardedSynthesizer{guard: newGuard(KindTTS, cfg), next: next}
}

// Synthesize implements [tts.Synthesizer].
func (g *GuardedSynthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	var clip audio.Clip
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		clip, err = g.next.Synthesize(ctx, text, voice)
		return err
	})
	return clip, err
}

// GuardedTranslator wraps a [translate.Translator].
type GuardedTranslator struct {
	guard
	next translate.Translator
}

var _ translate.Translator = (*GuardedTranslator)(nil)

// GuardTranslator wraps next with a breaker.
func GuardTranslator(next translate.Translator, cfg GuardConfig) *GuardedTranslator {
	return &GuardedTranslator{guard: newGuard(KindTranslate, cfg), next: next}
}

// Translate implements [translate.Translator].
func (g *GuardedTranslator) Translate(ctx context.Context, text, source, target string) (translate.Result, error) {
	var res translate.Result
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.next.Translate(ctx, text, source, target)
		return err
	})
	return res, err
}

// GuardedLLM wraps an [llm.Provider].
type GuardedLLM struct {
	guard
	next llm.Provider
}

var _ llm.Provider = (*GuardedLLM)(nil)

// GuardLLM wraps next with a breaker.
func GuardLLM(next llm.Provider, cfg GuardConfig) *GuardedLLM {
	return &GuardedLLM{guard: newGuard(KindLLM, cfg), next: next}
}

// Complete implements [llm.Provider].
func (g *GuardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.next.Complete(ctx, req)
		return err
	})
	return resp, err
}
