package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxrelay/internal/app"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxrelay/pkg/provider/llm/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voxrelay/pkg/provider/stt/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/translate/google"
	"github.com/MrWong99/voxrelay/pkg/provider/translate/llmtranslate"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voxrelay/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires every built-in provider factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// any-llm covers every backend; groq is overridden below to run on the
	// openai-go client, which also serves the STT side.
	for _, backend := range anyllm.Backends() {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("groq", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oallm.WithModel(entry.Model))
		}
		return oallm.New(entry.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	for _, providerName := range []string{"groq", "openai"} {
		reg.RegisterSTT(providerName, func(entry config.ProviderEntry) (stt.Transcriber, error) {
			var opts []oastt.Option
			switch {
			case entry.BaseURL != "":
				opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
			case providerName == "openai":
				opts = append(opts, oastt.WithBaseURL("https://api.openai.com/v1"))
			}
			if entry.Model != "" {
				opts = append(opts, oastt.WithModel(entry.Model))
			}
			return oastt.New(entry.APIKey, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	elevenFactory := func(transport elevenlabs.Transport) config.Factory[tts.Synthesizer] {
		return func(entry config.ProviderEntry) (tts.Synthesizer, error) {
			opts := []elevenlabs.Option{elevenlabs.WithTransport(transport)}
			if entry.Model != "" {
				opts = append(opts, elevenlabs.WithModel(entry.Model))
			}
			if entry.BaseURL != "" {
				opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
			}
			return elevenlabs.New(entry.APIKey, opts...)
		}
	}
	reg.RegisterTTS("elevenlabs", elevenFactory(elevenlabs.TransportHTTP))
	reg.RegisterTTS("elevenlabs-ws", elevenFactory(elevenlabs.TransportWebSocket))

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Translation ───────────────────────────────────────────────────────────

	reg.RegisterTranslator("google", func(entry config.ProviderEntry, _ llm.Provider) (translate.Translator, error) {
		var opts []google.Option
		if entry.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(entry.BaseURL))
		}
		return google.New(opts...), nil
	})

	reg.RegisterTranslator("llm", func(_ config.ProviderEntry, model llm.Provider) (translate.Translator, error) {
		if model == nil {
			return nil, errors.New("the llm translator needs providers.llm to be configured")
		}
		return llmtranslate.New(model), nil
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// builtProviders is the result of [buildProviders]: the guarded providers
// for the app, the readiness checks for their breakers and the cleanups for
// native resources.
type builtProviders struct {
	providers *app.Providers
	checks    []health.Checker
	closers   []func() error
}

// buildProviders instantiates the configured providers and wraps each in a
// circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (*builtProviders, error) {
	out := &builtProviders{providers: &app.Providers{}}
	ps := out.providers

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		g := resilience.GuardLLM(p, resilience.GuardConfig{Provider: entry.Name})
		ps.LLM = g
		out.checks = append(out.checks, health.BreakerCheck("llm", g.Breaker()))
		slog.Info("provider created", "kind", "llm", "name", entry.Name)
	}

	entry := cfg.Providers.STT
	sttP, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	if c, ok := sttP.(interface{ Close() error }); ok {
		out.closers = append(out.closers, c.Close)
	}
	gs := resilience.GuardTranscriber(sttP, resilience.GuardConfig{Provider: entry.Name})
	ps.STT = gs
	out.checks = append(out.checks, health.BreakerCheck("stt", gs.Breaker()))
	slog.Info("provider created", "kind", "stt", "name", entry.Name)

	entry = cfg.Providers.TTS
	ttsP, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
	}
	gt := resilience.GuardSynthesizer(ttsP, resilience.GuardConfig{Provider: entry.Name})
	ps.TTS = gt
	out.checks = append(out.checks, health.BreakerCheck("tts", gt.Breaker()))
	slog.Info("provider created", "kind", "tts", "name", entry.Name)

	if entry := cfg.Providers.Translate; entry.Name != "" {
		// The llm translator shares the guarded LLM, so an open llm breaker
		// fails translation fast too.
		p, err := reg.CreateTranslator(entry, ps.LLM)
		if err != nil {
			return nil, fmt.Errorf("create translate provider %q: %w", entry.Name, err)
		}
		g := resilience.GuardTranslator(p, resilience.GuardConfig{Provider: entry.Name})
		ps.Translator = g
		out.checks = append(out.checks, health.BreakerCheck("translate", g.Breaker()))
		slog.Info("provider created", "kind", "translate", "name", entry.Name)
	}

	return out, nil
}
