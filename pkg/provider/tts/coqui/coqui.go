// Package coqui synthesizes speech on a self-hosted Coqui TTS server. Two
// server flavours are supported:
//
//   - [APIModeStandard]: the stock tts-server. GET /api/tts with query
//     parameters; voices from GET /details.
//   - [APIModeXTTS]: the XTTS v2 API server. POST /tts_to_audio/ with a JSON
//     body; voices from GET /studio_speakers.
//
// Both answer with a 16-bit WAV file, returned unchanged in an [audio.Clip].
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("es"))
//	clip, err := p.Synthesize(ctx, "Hola", tts.Voice{ID: "p225"})
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Provider is safe for concurrent use.
type Provider struct {
	serverURL string
	language  string
	apiMode   APIMode
	client    *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the synthesis language. The default is "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the HTTP timeout per request. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour. The default is [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// New returns a Provider for the server at serverURL, e.g.
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the XTTS synthesis body.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements [tts.Synthesizer]. XTTS needs a voice; the standard
// server accepts an empty one for single-speaker models.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, errors.New("coqui: text must not be empty")
	}

	var req *http.Request
	var err error
	switch p.apiMode {
	case APIModeXTTS:
		if voice.ID == "" {
			return audio.Clip{}, errors.New("coqui: xtts mode needs a voice id")
		}
		req, err = p.xttsRequest(ctx, text, voice.ID)
	default:
		req, err = p.standardRequest(ctx, text, voice.ID)
	}
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return audio.Clip{}, err
	}
	if _, _, err := audio.DecodeWAVHeader(wav); err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: %w", err)
	}
	return audio.Clip{Data: wav, Container: audio.ContainerWAV}, nil
}

func (p *Provider) standardRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	q := url.Values{"text": {text}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
}

func (p *Provider) xttsRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	body, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: speaker, Language: p.language})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", req.URL.Path, err)
	}
	return body, nil
}

// ListVoices returns the server's speakers sorted by name. Name and ID are
// both the speaker identifier. A single-speaker standard model is listed
// under its model name.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	path := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		path = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var names []string
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(body, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode %s: %w", path, err)
		}
		names = slices.Collect(maps.Keys(speakers))
	} else {
		var details struct {
			ModelName string   `json:"model_name"`
			Speakers  []string `json:"speakers"`
		}
		if err := json.Unmarshal(body, &details); err != nil {
			return nil, fmt.Errorf("coqui: decode %s: %w", path, err)
		}
		names = details.Speakers
		if len(names) == 0 {
			names = []string{cmp.Or(details.ModelName, "default")}
		}
	}
	slices.Sort(names)

	voices := make([]tts.Voice, len(names))
	for i, n := range names {
		voices[i] = tts.Voice{Name: n, ID: n}
	}
	return voices, nil
}
