package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list since a custom factory may still be
// registered under them.
var ValidProviderNames = map[string][]string{
	"stt":       {"groq", "openai", "whisper", "whisper-native", "deepgram"},
	"tts":       {"elevenlabs", "elevenlabs-ws", "openai", "coqui"},
	"llm":       {"groq", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"translate": {"google", "llm"},
}

// Load reads the YAML configuration file at path, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills empty credentials from
// the environment ([SecretsFromEnv]), applies defaults and validates it. An
// empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	secrets, err := SecretsFromEnv()
	if err != nil {
		return nil, err
	}
	ApplySecrets(cfg, secrets)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent and returns every problem joined
// into one error. It expects defaults to have been applied.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	a := cfg.Audio
	if a.SampleRate <= 0 {
		add("audio.sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		add("audio.channels must be 1 or 2, got %d", a.Channels)
	}
	if a.FramesPerBuffer <= 0 {
		add("audio.frames_per_buffer must be positive, got %d", a.FramesPerBuffer)
	}
	if a.FrameQueue <= 0 {
		add("audio.frame_queue must be positive, got %d", a.FrameQueue)
	}
	if a.CalibrationWindow <= 0 {
		add("audio.calibration_window must be positive, got %s", a.CalibrationWindow)
	}
	if m := a.Margin(); m < 0 {
		add("audio.calibration_margin_db must not be negative, got %.1f", m)
	}
	if a.DefaultThreshold > 0 {
		add("audio.default_threshold_dbfs must be at most 0, got %.1f", a.DefaultThreshold)
	}

	s := cfg.Segmentation
	for name, d := range map[string]int64{
		"min_silence":     int64(s.MinSilence),
		"urgent_flush":    int64(s.UrgentFlush),
		"min_segment":     int64(s.MinSegment),
		"min_accumulated": int64(s.MinAccumulated),
		"poll_interval":   int64(s.PollInterval),
	} {
		if d <= 0 {
			add("segmentation.%s must be positive", name)
		}
	}
	if s.UrgentFlush > 0 && s.UrgentFlush < max(s.MinSegment, s.MinAccumulated) {
		add("segmentation.urgent_flush %s is shorter than the minimum segment length", s.UrgentFlush)
	}

	d := cfg.Dispatch
	if d.Concurrency <= 0 {
		add("dispatch.concurrency must be positive, got %d", d.Concurrency)
	}
	if d.PendingQueue <= 0 {
		add("dispatch.pending_queue must be positive, got %d", d.PendingQueue)
	}
	if d.Polish && cfg.Providers.LLM.Name == "" {
		add("dispatch.polish requires providers.llm")
	}

	if cfg.Providers.STT.Name == "" {
		add("providers.stt.name is required")
	}
	if cfg.Providers.TTS.Name == "" {
		add("providers.tts.name is required")
	}
	if cfg.Translation.Enabled {
		if cfg.Providers.Translate.Name == "" {
			add("translation.enabled requires providers.translate")
		}
		if cfg.Providers.Translate.Name == "llm" && cfg.Providers.LLM.Name == "" {
			add("providers.translate %q requires providers.llm", "llm")
		}
		if strings.TrimSpace(cfg.Translation.Target) == "" {
			add("translation.target is required when translation is enabled")
		}
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("translate", cfg.Providers.Translate.Name)

	if !hasVoice(cfg.Voices.Catalog, cfg.Voices.Selected) {
		add("voices.selected %q is not in voices.catalog", cfg.Voices.Selected)
	}
	for name, id := range cfg.Voices.Catalog {
		if strings.TrimSpace(id) == "" {
			add("voices.catalog[%q] has an empty voice id", name)
		}
	}

	st := cfg.Storage
	switch {
	case !st.Backend.IsValid():
		add("storage.backend %q is invalid; valid values: none, postgres, mongo, badger", st.Backend)
	case st.Backend == StoragePostgres && st.PostgresDSN == "":
		add("storage.postgres_dsn is required for the postgres backend")
	case st.Backend == StorageMongo && st.MongoURI == "":
		add("storage.mongo_uri is required for the mongo backend")
	}

	return errors.Join(errs...)
}

func hasVoice(catalog map[string]string, name string) bool {
	for n := range catalog {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if known := ValidProviderNames[kind]; slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
