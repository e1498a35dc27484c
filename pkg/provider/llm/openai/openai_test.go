package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
)

// chatServer answers /chat/completions with reply and finish reason, and
// stores the decoded request body in *got.
func chatServer(t *testing.T, reply, finish string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{{
				"index": 0, "finish_reason": finish,
				"message": map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected an error for an empty API key")
	}
}

func TestParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: DefaultModel}

	req := llm.UserPrompt("fix grammar", "i has a apple")
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: "ok"})
	req.Temperature = 0.3
	req.MaxTokens = 300
	params, err := p.params(req)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want system + user + assistant", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil || params.Messages[2].OfAssistant == nil {
		t.Error("messages are not in system, user, assistant order")
	}
	if params.Temperature.Value != 0.3 || params.MaxCompletionTokens.Value != 300 {
		t.Errorf("temperature = %v, max tokens = %v", params.Temperature.Value, params.MaxCompletionTokens.Value)
	}

	if _, err := p.params(llm.CompletionRequest{}); err == nil {
		t.Error("expected an error for a request without messages")
	}
	bad := llm.CompletionRequest{Messages: []llm.Message{{Role: "narrator", Content: "x"}}}
	if _, err := p.params(bad); err == nil {
		t.Error("expected an error for an unknown role")
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := chatServer(t, "  I have an apple.\n", "stop", &got)

	p, err := New("k", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.UserPrompt("fix", "i has a apple"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "I have an apple." || resp.Usage.TotalTokens != 15 {
		t.Errorf("resp = %+v", resp)
	}
	if got["model"] != DefaultModel {
		t.Errorf("model = %v, want %s", got["model"], DefaultModel)
	}
}

func TestComplete_Truncated(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := chatServer(t, "I have an", "length", &got)

	p, err := New("k", WithBaseURL(srv.URL), WithModel("gpt-4o-mini"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.UserPrompt("fix", "i has a apple")); !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", got["model"])
	}
}
