// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. Each request opens its own stream, sends the whole
// segment followed by CloseStream, and joins the final results Deepgram
// returns before closing the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunkBytes is the size of each binary audio message.
	sendChunkBytes = 8192
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language used when a request carries no hint. An
// empty language enables Deepgram's language detection.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Intended for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Transcriber backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req.PCM to Deepgram and returns the concatenated final
// transcripts. Deepgram has no translate mode; req.Translate is ignored and
// the caller is expected to translate the returned text itself.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(req, lang)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendAudio(ctx, conn, req.PCM)
	}()

	var (
		parts    []string
		detected string
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if r.language != "" {
			detected = r.language
		}
		if r.isFinal && r.text != "" {
			parts = append(parts, r.text)
		}
		if r.fromFinalize {
			break
		}
	}
	if err := <-writeErr; err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if detected == "" && lang != "" {
		detected = lang
	}
	return stt.Result{Text: strings.Join(parts, " "), Language: detected}, nil
}

// sendAudio writes pcm as binary frames and then asks Deepgram to flush and
// close the stream.
func sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += sendChunkBytes {
		end := min(off+sendChunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the Deepgram streaming endpoint URL for a request.
func (p *Provider) buildURL(req stt.Request, lang string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	channels := req.Format.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.Format.SampleRate))
	q.Set("channels", strconv.Itoa(channels))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response parsing ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		DetectedLanguage string `json:"detected_language"`
		Alternatives     []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text         string
	isFinal      bool
	fromFinalize bool
	language     string
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// ok=false for anything that is not a Results event with an alternative.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	lang := resp.Channel.DetectedLanguage
	if lang == "" && len(alt.Languages) > 0 {
		lang = alt.Languages[0]
	}
	return result{
		text:         strings.TrimSpace(alt.Transcript),
		isFinal:      resp.IsFinal,
		fromFinalize: resp.FromFinalize,
		language:     lang,
	}, true
}
