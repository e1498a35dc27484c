// Package whisper transcribes with whisper.cpp, either through a running
// whisper-server ([Provider]) or linked in-process ([NativeProvider]).
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, stt.Request{PCM: pcm, Format: format})
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// autoLanguage asks the server to detect the language.
	autoLanguage = "auto"
)

var _ stt.Transcriber = (*Provider)(nil)

// Provider uploads each segment as a WAV file to whisper-server's
// POST /inference. It is safe for concurrent use.
type Provider struct {
	endpoint string
	model    string
	language string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the model
// the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language for requests without a hint.
// The default is "en"; "auto" lets the server detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider for the server at serverURL, e.g.
// "http://localhost:8081".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(serverURL, "/") + "/inference",
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// inferenceResponse is the server's response_format=json body.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe implements [stt.Transcriber].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	lang := cmp.Or(req.Language, p.language)

	body, contentType, err := p.form(req, lang)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build form: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: post inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: decode response: %w", err)
	}

	res := stt.Result{Text: strings.TrimSpace(out.Text), Language: out.Language}
	switch {
	case req.Translate:
		res.Language = "en"
	case res.Language == "" && lang != autoLanguage:
		res.Language = lang
	}
	return res, nil
}

// form builds the multipart body: the WAV file plus the decoding fields.
func (p *Provider) form(req stt.Request, lang string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	file, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := file.Write(audio.EncodeWAV(req.PCM, req.Format)); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"temperature", "0.0"},
		{"language", lang},
		{"model", p.model},
	}
	if req.Translate {
		fields = append(fields, [2]string{"translate", "true"})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
