package polish_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxrelay/internal/polish"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
)

func reply(s string) *mock.Provider {
	return &mock.Provider{Reply: s}
}

func TestPolish(t *testing.T) {
	t.Parallel()

	const raw = "so the mitochondria are like the power house of the cell you know"

	tests := []struct {
		name    string
		answer  string
		want    string
		wantErr error
	}{
		{
			name:   "light edit accepted",
			answer: "So the mitochondria are like the powerhouse of the cell, you know.",
			want:   "So the mitochondria are like the powerhouse of the cell, you know.",
		},
		{
			name:   "code fence stripped",
			answer: "```\nSo the mitochondria are like the power house of the cell, you know.\n```",
			want:   "So the mitochondria are like the power house of the cell, you know.",
		},
		{
			name:   "quotes stripped",
			answer: `"So the mitochondria are like the power house of the cell, you know."`,
			want:   "So the mitochondria are like the power house of the cell, you know.",
		},
		{
			name:   "empty answer keeps raw",
			answer: "   ",
			want:   raw,
		},
		{
			name:    "rewrite rejected",
			answer:  "Cells generate energy through specialised organelles called mitochondria.",
			want:    raw,
			wantErr: polish.ErrDrift,
		},
		{
			name:    "commentary rejected",
			answer:  "Sure! Here is the polished version of your text which I have carefully edited for grammar and flow: So the mitochondria are like the powerhouse of the cell. Let me know if you need anything else at all.",
			want:    raw,
			wantErr: polish.ErrDrift,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := polish.New(reply(tt.answer)).Polish(context.Background(), raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPolish_RequestShape(t *testing.T) {
	t.Parallel()
	p := reply("Hello there.")
	if _, err := polish.New(p).Polish(context.Background(), "hello there"); err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if p.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", p.CallCount())
	}
	req := p.Requests[0]
	if req.Temperature != 0.3 || req.MaxTokens != 300 {
		t.Errorf("temperature=%v max_tokens=%d, want 0.3 and 300", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.SystemPrompt, "grammar") {
		t.Errorf("system prompt lacks the grammar instruction: %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "hello there" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestPolish_Options(t *testing.T) {
	t.Parallel()
	p := reply("Completely different words here.")
	got, err := polish.New(p, polish.WithTemperature(0), polish.WithMaxTokens(50), polish.WithMinOverlap(0)).
		Polish(context.Background(), "hello there")
	if err != nil || got != "Completely different words here." {
		t.Errorf("got (%q, %v), drift check should be disabled", got, err)
	}
	if req := p.Requests[0]; req.MaxTokens != 50 || req.Temperature != 0 {
		t.Errorf("req = %+v", req)
	}
}

func TestPolish_BlankInputSkipsModel(t *testing.T) {
	t.Parallel()
	p := reply("should not be used")
	got, err := polish.New(p).Polish(context.Background(), "  ")
	if err != nil || got != "  " {
		t.Errorf("got (%q, %v)", got, err)
	}
	if p.CallCount() != 0 {
		t.Error("blank input must not call the model")
	}
}

func TestPolish_ProviderErrorKeepsRaw(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	got, err := polish.New(&mock.Provider{Err: boom}).Polish(context.Background(), "raw words")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if got != "raw words" {
		t.Errorf("got %q, want raw text", got)
	}
}
