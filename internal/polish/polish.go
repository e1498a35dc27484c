// Package polish runs a light grammar pass over transcribed text with a
// language model.
//
// The [Polisher] asks the model to fix grammar and awkward phrasing only.
// Its answer is then compared with the input token by token; when too little
// of the original wording survives, the answer is treated as a rewrite and
// the raw text is kept. Every failure path returns the raw text alongside the
// error, so callers can always continue with the returned string.
package polish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 300
	defaultMinOverlap  = 0.5
)

// ErrDrift is returned when the polished text departs too far from the input.
var ErrDrift = errors.New("polish: answer drifted from the transcript")

const systemPrompt = `You are a real-time transcription polisher for a live speech assistant.
Lightly edit the given text ONLY for grammar, clarity and natural flow.
Preserve the speaker's meaning, technical vocabulary and intent exactly.
Do NOT add information, interpretations or commentary.
Keep the tone conversational when the input is conversational.
Reply with the polished text only.`

// Option configures a [Polisher].
type Option func(*Polisher)

// WithTemperature sets the sampling temperature. Default 0.3.
func WithTemperature(t float64) Option {
	return func(p *Polisher) { p.temperature = t }
}

// WithMaxTokens caps the answer length. Default 300.
func WithMaxTokens(n int) Option {
	return func(p *Polisher) { p.maxTokens = n }
}

// WithMinOverlap sets the share of input words, in order, that the answer
// must keep. Default 0.5. Zero disables the check.
func WithMinOverlap(f float64) Option {
	return func(p *Polisher) { p.minOverlap = f }
}

// Polisher is safe for concurrent use. The model is whatever the provider was
// built with; the stock configuration uses llama-3.1-8b-instant on Groq.
type Polisher struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	minOverlap  float64
}

// New returns a Polisher backed by provider.
func New(provider llm.Provider, opts ...Option) *Polisher {
	p := &Polisher{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		minOverlap:  defaultMinOverlap,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Polish returns the edited text. Blank input is returned unchanged without a
// model call. On error the raw text is returned with it.
func (p *Polisher) Polish(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return raw, nil
	}

	req := llm.UserPrompt(systemPrompt, raw)
	req.Temperature = p.temperature
	req.MaxTokens = p.maxTokens

	resp, err := p.llm.Complete(ctx, req)
	if err != nil {
		return raw, fmt.Errorf("polish: complete: %w", err)
	}

	out := clean(resp.Content)
	if out == "" {
		return raw, nil
	}
	if p.minOverlap > 0 && overlap(raw, out) < p.minOverlap {
		return raw, ErrDrift
	}
	return out, nil
}

// clean strips code fences and wrapping quotes some models add.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimSuffix(after, "```")
		s = strings.TrimSpace(s)
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
