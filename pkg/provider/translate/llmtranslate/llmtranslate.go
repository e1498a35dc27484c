// Package llmtranslate implements translate.Translator on top of any
// llm.Provider.
package llmtranslate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

const systemPrompt = "You are a translation engine. Translate the user's text into the language with ISO 639-1 code %q. " +
	"Reply with the translation only, without quotes, notes or explanations."

// Compile-time assertion that Translator implements translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// Translator asks an LLM to translate text.
type Translator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// Option configures a Translator.
type Option func(*Translator)

// WithMaxTokens caps the completion length. Defaults to 400.
func WithMaxTokens(n int) Option {
	return func(t *Translator) { t.maxTokens = n }
}

// New returns a Translator backed by p.
func New(p llm.Provider, opts ...Option) *Translator {
	t := &Translator{provider: p, temperature: 0.1, maxTokens: 400}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Translate implements translate.Translator. The LLM does not report the
// source language, so the requested source is echoed back.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (translate.Result, error) {
	if target == "" {
		return translate.Result{}, errors.New("llmtranslate: target language must not be empty")
	}
	req := llm.UserPrompt(fmt.Sprintf(systemPrompt, target), text)
	req.Temperature = t.temperature
	req.MaxTokens = t.maxTokens

	resp, err := t.provider.Complete(ctx, req)
	if err != nil {
		return translate.Result{}, fmt.Errorf("llmtranslate: %w", err)
	}
	out := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if out == "" {
		return translate.Result{}, errors.New("llmtranslate: empty completion")
	}
	return translate.Result{Text: out, Source: source}, nil
}
