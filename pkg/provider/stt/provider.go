// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The pipeline transcribes one sealed segment at a time, so the contract is
// batch-shaped: a complete PCM buffer goes in, a single text result comes
// out. Backends that are natively streaming (Deepgram) open a short-lived
// stream per request and collect its finals.
//
// Implementations must be safe for concurrent use: the dispatch pipeline runs
// several segments through the same Transcriber at once.
package stt

import (
	"context"
	"strings"

	"golang.org/x/text/language"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Request is one transcription job.
type Request struct {
	// PCM is 16-bit little-endian audio in Format.
	PCM    []byte
	Format audio.Format

	// Language is an ISO-639-1 hint (e.g. "en", "de"). Empty lets the backend
	// detect the language.
	Language string

	// Translate asks the backend to return English text regardless of the
	// spoken language. Backends without a translate mode ignore it and report
	// the detected language so a later stage can translate instead.
	Translate bool
}

// Result is the outcome of a transcription.
type Result struct {
	// Text is the transcription with surrounding whitespace removed. An empty
	// Text is a valid result meaning nothing intelligible was said.
	Text string

	// Language is the language the backend detected or was told, if known.
	// Translated results report "en".
	Language string
}

// Transcriber converts a finished audio buffer to text.
type Transcriber interface {
	// Transcribe blocks until the backend answers or ctx is done. Errors are
	// transport, status or decoding failures; an empty transcription is not an
	// error.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// languageNames maps the English language names some Whisper deployments
// report to their ISO 639-1 codes.
var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"russian":    "ru",
}

// NormalizeLanguage reduces tag to its canonical base language, so "en-US",
// "EN" and "en" all compare equal. Deprecated codes are replaced ("iw" becomes
// "he") and an explicit script is kept ("zh-Hant" and "zh-Hans" differ).
// Full English language names ("spanish") are mapped to their codes. Input
// that is not a BCP 47 tag, such as "auto", comes back lower-cased.
func NormalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if code, ok := languageNames[tag]; ok {
		return code
	}
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, script, _ := parsed.Raw()
	if base.String() == "und" {
		return ""
	}
	if script != (language.Script{}) {
		return base.String() + "-" + script.String()
	}
	return base.String()
}
