// Package mock provides a test double for [stt.Transcriber].
//
// Set Func and Delay to give each request its own answer and latency:
//
//	m := &mock.Transcriber{Result: stt.Result{Text: "hello"}}
//	m.Delay = func(req stt.Request) time.Duration { return 10 * time.Millisecond }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result and Err are returned by Transcribe unless Func is set.
	Result stt.Result
	Err    error

	// Func, when non-nil, computes the response for each request.
	Func func(req stt.Request) (stt.Result, error)

	// Delay, when non-nil, is slept before answering. The sleep honours ctx.
	Delay func(req stt.Request) time.Duration

	// Calls records every request in arrival order.
	Calls []stt.Request
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the configured response.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, delay, res, err := m.Func, m.Delay, m.Result, m.Err
	m.mu.Unlock()

	if delay != nil {
		if d := delay(req); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return stt.Result{}, ctx.Err()
			}
		}
	}
	if fn != nil {
		return fn(req)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
