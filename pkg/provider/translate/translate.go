// Package translate defines the Translator interface used by the optional
// translation stage of the dispatch pipeline.
//
// Translation is a soft stage: callers fall back to the untranslated text on
// any error, so implementations should fail fast rather than retry.
package translate

import (
	"context"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// AutoDetect asks the backend to detect the source language.
const AutoDetect = "auto"

// Result is a finished translation.
type Result struct {
	// Text is the translated text.
	Text string

	// Source is the source language as reported by the backend, or the
	// requested source when the backend does not report one.
	Source string
}

// Translator translates a single piece of text.
type Translator interface {
	// Translate converts text from source (or [AutoDetect]) to target.
	Translate(ctx context.Context, text, source, target string) (Result, error)
}

// Needed reports whether translating from source to target changes anything.
// An empty target disables translation. An unknown source ("" or
// [AutoDetect]) always needs translating.
func Needed(source, target string) bool {
	t := stt.NormalizeLanguage(target)
	if t == "" || t == AutoDetect {
		return false
	}
	s := stt.NormalizeLanguage(source)
	if s == "" || s == AutoDetect {
		return true
	}
	return s != t
}
