// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider. By default it answers
// with Reply.
type Provider struct {
	mu sync.Mutex

	// Reply is the completion content returned when Err and Func are unset.
	Reply string

	// Err, if non-nil, is returned from every call.
	Err error

	// Func overrides the default behaviour when set.
	Func func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Requests records every request in order.
	Requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (m *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	fn, err, reply := m.Func, m.Err, m.Reply
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

// CallCount returns the number of Complete calls so far.
func (m *Provider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, or the zero value if there
// was none.
func (m *Provider) LastRequest() llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.CompletionRequest{}
	}
	return m.Requests[len(m.Requests)-1]
}
