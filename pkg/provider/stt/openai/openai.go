// Package openai provides a transcriber backed by any OpenAI-compatible audio
// API. With the default base URL it targets Groq's hosted Whisper
// (whisper-large-v3-turbo); pointing it at api.openai.com works unchanged.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"

	// DefaultModel is the Whisper variant used when none is configured.
	DefaultModel = "whisper-large-v3-turbo"
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Provider implements stt.Transcriber using the audio transcription and
// translation endpoints.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL. Defaults to [DefaultBaseURL].
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the transcription model. Defaults to [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{baseURL: DefaultBaseURL, model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		// No retries: a late transcription of stale audio is worse than none.
		option.WithMaxRetries(0),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe uploads req.PCM as WAV. With req.Translate set the translation
// endpoint is used and the result is English.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	file := oai.File(bytes.NewReader(audio.EncodeWAV(req.PCM, req.Format)), "audio.wav", "audio/wav")

	if req.Translate {
		res, err := p.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
			File:        file,
			Model:       oai.AudioModel(p.model),
			Temperature: param.NewOpt(0.0),
		})
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai stt: translation: %w", err)
		}
		return stt.Result{Text: strings.TrimSpace(res.Text), Language: "en"}, nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:        file,
		Model:       oai.AudioModel(p.model),
		Temperature: param.NewOpt(0.0),
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}
	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcription: %w", err)
	}
	return stt.Result{Text: strings.TrimSpace(res.Text), Language: req.Language}, nil
}
