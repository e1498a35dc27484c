// Package elevenlabs provides an ElevenLabs-backed synthesizer.
//
// Two transports are supported. The default [TransportHTTP] POSTs the whole
// line to the streaming text-to-speech endpoint and reads back an MP3 file.
// [TransportWebSocket] uses the stream-input socket with a PCM output format
// and assembles the base64 audio chunks into a raw PCM clip, which skips MP3
// decoding on playback.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultPCMFormat = "pcm_16000"
	defaultTimeout   = 10 * time.Second

	httpPathFmt = "/v1/text-to-speech/%s/stream"
	wsPathFmt   = "/v1/text-to-speech/%s/stream-input"
)

// Transport selects how requests reach ElevenLabs.
type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
)

// Compile-time assertion that Provider implements tts.Synthesizer.
var _ tts.Synthesizer = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTransport selects the HTTP (MP3) or WebSocket (PCM) transport.
func WithTransport(t Transport) Option {
	return func(p *Provider) {
		p.transport = t
	}
}

// WithBaseURL overrides the API origin. Intended for tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request deadline. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithVoiceSettings overrides stability and similarity boost (defaults 0.5
// and 0.7).
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarity}
	}
}

// Provider implements tts.Synthesizer backed by the ElevenLabs API.
type Provider struct {
	apiKey     string
	model      string
	transport  Transport
	baseURL    string
	timeout    time.Duration
	settings   voiceSettings
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		transport:  TransportHTTP,
		baseURL:    defaultBaseURL,
		timeout:    defaultTimeout,
		settings:   voiceSettings{Stability: 0.5, SimilarityBoost: 0.7},
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.transport {
	case TransportHTTP, TransportWebSocket:
	default:
		return nil, fmt.Errorf("elevenlabs: unknown transport %q", p.transport)
	}
	return p, nil
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Synthesizer.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	if voice.ID == "" {
		return audio.Clip{}, errors.New("elevenlabs: voice.ID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, errors.New("elevenlabs: text must not be empty")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if p.transport == TransportWebSocket {
		return p.synthesizeWS(ctx, text, voice)
	}
	return p.synthesizeHTTP(ctx, text, voice)
}

// ---- HTTP transport ----

type httpRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (p *Provider) synthesizeHTTP(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	body, err := json.Marshal(httpRequest{Text: text, ModelID: p.model, VoiceSettings: p.settings})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}
	endpoint := p.baseURL + fmt.Sprintf(httpPathFmt, url.PathEscape(voice.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audio.Clip{}, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return audio.Clip{Data: data, Container: audio.ContainerMP3}, nil
}

// ---- WebSocket transport ----

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage carries one text fragment; an empty Text ends the input.
type textMessage struct {
	Text string `json:"text"`
}

// audioResponse is the JSON message received from ElevenLabs over the socket.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Provider) wsURL(voiceID string) (string, error) {
	u, err := url.Parse(p.baseURL + fmt.Sprintf(wsPathFmt, url.PathEscape(voiceID)))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("model_id", p.model)
	q.Set("output_format", defaultPCMFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) synthesizeWS(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	wsURL, err := p.wsURL(voice.ID)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: build URL: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	// ElevenLabs requires a single space as the first text value.
	msgs := []any{
		boiMessage{Text: " ", VoiceSettings: &p.settings, XiAPIKey: p.apiKey},
		textMessage{Text: text + " "},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return audio.Clip{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return audio.Clip{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return audio.Clip{}, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return audio.Clip{}, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	return audio.Clip{
		Data:      pcm,
		Container: audio.ContainerPCM,
		Format:    audio.Format{SampleRate: pcmRate(defaultPCMFormat), Channels: 1},
	}, nil
}

// pcmRate extracts the sample rate from an output format such as "pcm_16000".
func pcmRate(format string) int {
	_, rate, ok := strings.Cut(format, "_")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(rate)
	return n
}
