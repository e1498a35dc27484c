// Package google provides a translator backed by the public Google Translate
// "gtx" web endpoint. It needs no API key and is intended for light use.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

const (
	defaultEndpoint = "https://translate.googleapis.com/translate_a/single"
	defaultTimeout  = 10 * time.Second
)

// Compile-time assertion that Provider implements translate.Translator.
var _ translate.Translator = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithEndpoint overrides the endpoint URL. Intended for tests.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithHTTPClient replaces the default HTTP client (10 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements translate.Translator.
type Provider struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a Provider with default settings.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Translate implements translate.Translator.
func (p *Provider) Translate(ctx context.Context, text, source, target string) (translate.Result, error) {
	if target == "" {
		return translate.Result{}, errors.New("google: target language must not be empty")
	}
	if source == "" {
		source = translate.AutoDetect
	}

	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", source)
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return translate.Result{}, fmt.Errorf("google: create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return translate.Result{}, fmt.Errorf("google: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return translate.Result{}, fmt.Errorf("google: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return translate.Result{}, fmt.Errorf("google: decode response: %w", err)
	}
	out, detected, err := parseResponse(body)
	if err != nil {
		return translate.Result{}, err
	}
	if detected == "" {
		detected = source
	}
	return translate.Result{Text: out, Source: detected}, nil
}

// parseResponse extracts the translated sentences and the detected source
// language from the gtx array response:
//
//	[[["Hola","Hello",null,null,10]], null, "en", ...]
func parseResponse(body []json.RawMessage) (string, string, error) {
	if len(body) == 0 {
		return "", "", errors.New("google: empty response")
	}
	var sentences [][]any
	if err := json.Unmarshal(body[0], &sentences); err != nil {
		return "", "", fmt.Errorf("google: unexpected sentence block: %w", err)
	}
	var b strings.Builder
	for _, s := range sentences {
		if len(s) == 0 {
			continue
		}
		if part, ok := s[0].(string); ok {
			b.WriteString(part)
		}
	}
	var detected string
	if len(body) > 2 {
		_ = json.Unmarshal(body[2], &detected)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", "", errors.New("google: response contained no translation")
	}
	return out, detected, nil
}
