package whisper

// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. One model is shared by all
// calls and each call decodes on its own context, so segments from the
// worker pool can be transcribed concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the fallback language for requests without a
// hint. The default is "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the ggml model file at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close frees the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements [stt.Transcriber]. A cancelled ctx aborts decoding
// before the encoder starts; once it runs it finishes.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: new context: %w", err)
	}
	lang := cmp.Or(req.Language, p.language)
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, model default applies", "language", lang, "err", err)
	}
	wctx.SetTranslate(req.Translate)

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(whisperInput(req.PCM, req.Format), keepGoing, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}

	text, err := collectText(wctx)
	if err != nil {
		return stt.Result{}, err
	}
	res := stt.Result{Text: text, Language: wctx.DetectedLanguage()}
	if req.Translate {
		res.Language = "en"
	}
	return res, nil
}

// collectText joins the non-blank segments of a finished decode.
func collectText(wctx whisperlib.Context) (string, error) {
	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
