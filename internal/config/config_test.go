package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
)

const minimalYAML = `
providers:
  stt:
    name: groq
  tts:
    name: elevenlabs
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"sample_rate", cfg.Audio.SampleRate, 16000},
		{"channels", cfg.Audio.Channels, 1},
		{"frames_per_buffer", cfg.Audio.FramesPerBuffer, 4096},
		{"frame_queue", cfg.Audio.FrameQueue, 64},
		{"calibration_window", cfg.Audio.CalibrationWindow, 2 * time.Second},
		{"calibration_margin", cfg.Audio.Margin(), 10.0},
		{"default_threshold", cfg.Audio.DefaultThreshold, -40.0},
		{"min_silence", cfg.Segmentation.MinSilence, 700 * time.Millisecond},
		{"urgent_flush", cfg.Segmentation.UrgentFlush, 10 * time.Second},
		{"min_segment", cfg.Segmentation.MinSegment, 1500 * time.Millisecond},
		{"min_accumulated", cfg.Segmentation.MinAccumulated, 2 * time.Second},
		{"poll_interval", cfg.Segmentation.PollInterval, 250 * time.Millisecond},
		{"concurrency", cfg.Dispatch.Concurrency, 2},
		{"pending_queue", cfg.Dispatch.PendingQueue, 8},
		{"stt_timeout", cfg.Dispatch.STTTimeout, 30 * time.Second},
		{"tts_timeout", cfg.Dispatch.TTSTimeout, 10 * time.Second},
		{"translate_timeout", cfg.Dispatch.TranslateTimeout, 10 * time.Second},
		{"selected_voice", cfg.Voices.Selected, "Voice 1"},
		{"catalog_size", len(cfg.Voices.Catalog), 3},
		{"translation_source", cfg.Translation.Source, "auto"},
		{"effective_target", cfg.Translation.EffectiveTarget(), ""},
		{"storage_backend", cfg.Storage.Backend, config.StorageNone},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_ZeroMarginKept(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + "audio:\n  calibration_margin_db: 0\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Audio.Margin(); got != 0 {
		t.Errorf("Margin() = %v, want an explicit 0 to be kept", got)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	const yaml = `
server:
  listen_addr: "127.0.0.1:9090"
  log_level: debug
audio:
  input_device: "USB Mic"
  output_device: "Speakers"
  sample_rate: 16000
  channels: 1
segmentation:
  min_silence: 500ms
  urgent_flush: 8s
dispatch:
  concurrency: 4
  language: de
  polish: true
providers:
  stt:
    name: whisper
    base_url: http://localhost:8081
  tts:
    name: coqui
    base_url: http://localhost:5002
    options:
      api_mode: xtts
  llm:
    name: groq
    model: llama-3.1-8b-instant
  translate:
    name: google
voices:
  selected: Narrator
  catalog:
    Narrator: speaker_1
translation:
  enabled: true
storage:
  backend: badger
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Segmentation.MinSilence != 500*time.Millisecond {
		t.Errorf("min_silence = %s", cfg.Segmentation.MinSilence)
	}
	if cfg.Dispatch.Concurrency != 4 || !cfg.Dispatch.Polish || cfg.Dispatch.Language != "de" {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if got := config.OptString(cfg.Providers.TTS.Options, "api_mode"); got != "xtts" {
		t.Errorf("api_mode = %q", got)
	}
	if got := cfg.Translation.EffectiveTarget(); got != "es" {
		t.Errorf("target = %q, want default es", got)
	}
	if cfg.Storage.BadgerDir != config.DefaultBadgerDir {
		t.Errorf("badger_dir = %q", cfg.Storage.BadgerDir)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"tls half set", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} }, "server.tls"},
		{"three channels", func(c *config.Config) { c.Audio.Channels = 3 }, "audio.channels"},
		{"positive threshold", func(c *config.Config) { c.Audio.DefaultThreshold = 3 }, "default_threshold_dbfs"},
		{"negative margin", func(c *config.Config) { m := -1.0; c.Audio.CalibrationMargin = &m }, "calibration_margin_db"},
		{"zero min silence", func(c *config.Config) { c.Segmentation.MinSilence = 0 }, "segmentation.min_silence"},
		{"flush below minimum", func(c *config.Config) { c.Segmentation.UrgentFlush = time.Second }, "urgent_flush"},
		{"zero concurrency", func(c *config.Config) { c.Dispatch.Concurrency = 0 }, "dispatch.concurrency"},
		{"polish without llm", func(c *config.Config) { c.Dispatch.Polish = true }, "dispatch.polish"},
		{"missing stt", func(c *config.Config) { c.Providers.STT.Name = "" }, "providers.stt.name"},
		{"missing tts", func(c *config.Config) { c.Providers.TTS.Name = "" }, "providers.tts.name"},
		{"translation without provider", func(c *config.Config) {
			c.Translation = config.TranslationConfig{Enabled: true, Target: "fr"}
		}, "providers.translate"},
		{"llm translator without llm", func(c *config.Config) {
			c.Translation = config.TranslationConfig{Enabled: true, Target: "fr"}
			c.Providers.Translate.Name = "llm"
		}, "requires providers.llm"},
		{"unknown voice", func(c *config.Config) { c.Voices.Selected = "Voice 9" }, "voices.selected"},
		{"empty voice id", func(c *config.Config) { c.Voices.Catalog["Voice 4"] = " " }, "empty voice id"},
		{"bad backend", func(c *config.Config) { c.Storage.Backend = "sqlite" }, "storage.backend"},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Backend = config.StoragePostgres }, "postgres_dsn"},
		{"mongo without uri", func(c *config.Config) { c.Storage.Backend = config.StorageMongo }, "mongo_uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Dispatch.Concurrency = 0
	cfg.Providers.TTS.Name = ""

	err := config.Validate(cfg)
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("err = %v, want a joined error", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Errorf("joined errors = %d, want 3: %v", n, err)
	}
}

func TestValidate_VoiceNameCaseInsensitive(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Voices.Selected = "voice 2"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func validConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "groq"},
			TTS: config.ProviderEntry{Name: "elevenlabs"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}
