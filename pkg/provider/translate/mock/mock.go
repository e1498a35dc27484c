// Package mock provides a test double for the translate.Translator interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

// Call records a single invocation of Translate.
type Call struct {
	Text, Source, Target string
}

// Translator is a mock implementation of translate.Translator. By default it
// returns "[target] text" so tests can see that translation happened.
type Translator struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every call.
	Err error

	// Func overrides the default behaviour when set.
	Func func(ctx context.Context, text, source, target string) (translate.Result, error)

	// Delay, if positive, is waited out (or ctx) before answering.
	Delay time.Duration

	// Calls records every call in order.
	Calls []Call
}

var _ translate.Translator = (*Translator)(nil)

// Translate implements translate.Translator.
func (m *Translator) Translate(ctx context.Context, text, source, target string) (translate.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Text: text, Source: source, Target: target})
	fn, err, delay := m.Func, m.Err, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return translate.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, text, source, target)
	}
	if err != nil {
		return translate.Result{}, err
	}
	return translate.Result{Text: "[" + target + "] " + text, Source: source}, nil
}

// CallCount returns the number of Translate calls so far.
func (m *Translator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
