// Package config provides the configuration schema, loader, secret overlay,
// provider registry and hot-reload watcher for voxrelay.
package config

import (
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageBackend selects where saved transcripts go.
type StorageBackend string

const (
	StorageNone     StorageBackend = "none"
	StoragePostgres StorageBackend = "postgres"
	StorageMongo    StorageBackend = "mongo"
	StorageBadger   StorageBackend = "badger"
)

// IsValid reports whether b is a recognised backend.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageNone, StoragePostgres, StorageMongo, StorageBadger:
		return true
	}
	return false
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultFramesPerBuffer   = 4096
	DefaultFrameQueue        = 64
	DefaultCalibrationWindow = 2 * time.Second
	DefaultCalibrationMargin = 10.0
	DefaultThresholdDBFS     = -40.0
	DefaultMinSilence        = 700 * time.Millisecond
	DefaultUrgentFlush       = 10 * time.Second
	DefaultMinSegment        = 1500 * time.Millisecond
	DefaultMinAccumulated    = 2 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultConcurrency       = 2
	DefaultPendingQueue      = 8
	DefaultSTTTimeout        = 30 * time.Second
	DefaultPolishTimeout     = 10 * time.Second
	DefaultTranslateTimeout  = 10 * time.Second
	DefaultTTSTimeout        = 10 * time.Second
	DefaultTargetLanguage    = "es"
	DefaultMongoDatabase     = "voxrelay"
	DefaultMongoCollection   = "transcripts"
	DefaultBadgerDir         = "data/transcripts"
)

// Config is the root configuration structure, usually loaded with [Load].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Voices       VoicesConfig       `yaml:"voices"`
	Translation  TranslationConfig  `yaml:"translation"`
	Storage      StorageConfig      `yaml:"storage"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the control API address (e.g. ":8080").
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig selects the devices and capture parameters.
type AudioConfig struct {
	// InputDevice and OutputDevice are case-insensitive name substrings.
	// Empty picks the first capable device.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// FrameQueue bounds the capture → segmentation queue. The oldest frame
	// is dropped when it is full.
	FrameQueue int `yaml:"frame_queue"`

	CalibrationWindow time.Duration `yaml:"calibration_window"`

	// CalibrationMargin is a pointer so an explicit 0 dB survives
	// [ApplyDefaults]. Read it through [AudioConfig.Margin].
	CalibrationMargin *float64 `yaml:"calibration_margin_db"`

	// DefaultThreshold is used when calibration captures nothing.
	DefaultThreshold float64 `yaml:"default_threshold_dbfs"`
}

// Margin returns the calibration margin in dB.
func (a AudioConfig) Margin() float64 {
	if a.CalibrationMargin == nil {
		return DefaultCalibrationMargin
	}
	return *a.CalibrationMargin
}

// SegmentationConfig tunes the segmentation engine.
type SegmentationConfig struct {
	MinSilence     time.Duration `yaml:"min_silence"`
	UrgentFlush    time.Duration `yaml:"urgent_flush"`
	MinSegment     time.Duration `yaml:"min_segment"`
	MinAccumulated time.Duration `yaml:"min_accumulated"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// DispatchConfig tunes the dispatch pipeline.
type DispatchConfig struct {
	Concurrency  int `yaml:"concurrency"`
	PendingQueue int `yaml:"pending_queue"`

	// Language is the STT language hint. Empty lets the backend detect it.
	Language string `yaml:"language"`

	// TranslateToEnglish uses the STT backend's translate mode.
	TranslateToEnglish bool `yaml:"translate_to_english"`

	// Polish runs the LLM grammar pass. Requires providers.llm.
	Polish bool `yaml:"polish"`

	STTTimeout       time.Duration `yaml:"stt_timeout"`
	PolishTimeout    time.Duration `yaml:"polish_timeout"`
	TranslateTimeout time.Duration `yaml:"translate_timeout"`
	TTSTimeout       time.Duration `yaml:"tts_timeout"`
}

// ProvidersConfig selects the backend for each provider kind by registry
// name.
type ProvidersConfig struct {
	STT       ProviderEntry `yaml:"stt"`
	TTS       ProviderEntry `yaml:"tts"`
	LLM       ProviderEntry `yaml:"llm"`
	Translate ProviderEntry `yaml:"translate"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered factory (e.g. "groq", "elevenlabs").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// VoicesConfig is the named voice catalogue.
type VoicesConfig struct {
	// Selected is the voice used at startup.
	Selected string `yaml:"selected"`

	// Catalog maps display names to provider voice IDs. Empty uses
	// [tts.DefaultVoices].
	Catalog map[string]string `yaml:"catalog"`
}

// TranslationConfig controls the optional translation stage.
type TranslationConfig struct {
	Enabled bool `yaml:"enabled"`

	// Target is the ISO-639-1 target language.
	Target string `yaml:"target"`

	// Source is the source language or "auto".
	Source string `yaml:"source"`
}

// EffectiveTarget returns the target language, or "" when translation is
// disabled.
func (t TranslationConfig) EffectiveTarget() string {
	if !t.Enabled {
		return ""
	}
	return t.Target
}

// StorageConfig selects the transcript store.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	PostgresDSN string `yaml:"postgres_dsn"`

	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`

	// BadgerDir is the database directory. Empty with backend badger uses
	// [DefaultBadgerDir].
	BadgerDir string `yaml:"badger_dir"`
}

// ApplyDefaults fills every zero-valued tunable in cfg.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	a := &cfg.Audio
	setDefault(&a.SampleRate, DefaultSampleRate)
	setDefault(&a.Channels, DefaultChannels)
	setDefault(&a.FramesPerBuffer, DefaultFramesPerBuffer)
	setDefault(&a.FrameQueue, DefaultFrameQueue)
	setDefault(&a.CalibrationWindow, DefaultCalibrationWindow)
	if a.CalibrationMargin == nil {
		m := DefaultCalibrationMargin
		a.CalibrationMargin = &m
	}
	setDefault(&a.DefaultThreshold, DefaultThresholdDBFS)

	s := &cfg.Segmentation
	setDefault(&s.MinSilence, DefaultMinSilence)
	setDefault(&s.UrgentFlush, DefaultUrgentFlush)
	setDefault(&s.MinSegment, DefaultMinSegment)
	setDefault(&s.MinAccumulated, DefaultMinAccumulated)
	setDefault(&s.PollInterval, DefaultPollInterval)

	d := &cfg.Dispatch
	setDefault(&d.Concurrency, DefaultConcurrency)
	setDefault(&d.PendingQueue, DefaultPendingQueue)
	setDefault(&d.STTTimeout, DefaultSTTTimeout)
	setDefault(&d.PolishTimeout, DefaultPolishTimeout)
	setDefault(&d.TranslateTimeout, DefaultTranslateTimeout)
	setDefault(&d.TTSTimeout, DefaultTTSTimeout)

	if len(cfg.Voices.Catalog) == 0 {
		cfg.Voices.Catalog = tts.DefaultVoices()
	}
	setDefault(&cfg.Voices.Selected, tts.DefaultVoiceName)

	if cfg.Translation.Enabled {
		setDefault(&cfg.Translation.Target, DefaultTargetLanguage)
	}
	setDefault(&cfg.Translation.Source, "auto")

	st := &cfg.Storage
	setDefault(&st.Backend, StorageNone)
	setDefault(&st.MongoDatabase, DefaultMongoDatabase)
	setDefault(&st.MongoCollection, DefaultMongoCollection)
	if st.Backend == StorageBadger {
		setDefault(&st.BadgerDir, DefaultBadgerDir)
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
