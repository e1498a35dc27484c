package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secrets are credentials read from the environment. They fill provider and
// storage fields the YAML leaves empty, so config files can be committed
// without keys.
type Secrets struct {
	GroqAPIKey       string `env:"GROQ_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	DeepgramAPIKey   string `env:"DEEPGRAM_API_KEY"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	DatabaseURL      string `env:"DATABASE_URL"`
	MongoConnection  string `env:"MONGO_CONNECTION"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	return nil
}

// SecretsFromEnv parses [Secrets] from the process environment.
func SecretsFromEnv() (Secrets, error) {
	s, err := env.ParseAs[Secrets]()
	if err != nil {
		return Secrets{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return s, nil
}

// keyFor returns the API key matching a provider name.
func (s Secrets) keyFor(provider string) string {
	switch provider {
	case "groq":
		return s.GroqAPIKey
	case "openai":
		return s.OpenAIAPIKey
	case "elevenlabs", "elevenlabs-ws":
		return s.ElevenLabsAPIKey
	case "deepgram":
		return s.DeepgramAPIKey
	case "anthropic":
		return s.AnthropicAPIKey
	}
	return ""
}

// ApplySecrets copies credentials from s into every empty field of cfg they
// apply to.
func ApplySecrets(cfg *Config, s Secrets) {
	for _, e := range []*ProviderEntry{
		&cfg.Providers.STT,
		&cfg.Providers.TTS,
		&cfg.Providers.LLM,
		&cfg.Providers.Translate,
	} {
		if e.APIKey == "" {
			e.APIKey = s.keyFor(e.Name)
		}
	}
	setDefault(&cfg.Storage.PostgresDSN, s.DatabaseURL)
	setDefault(&cfg.Storage.MongoURI, s.MongoConnection)
}
