package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), "buenos días", tts.Voice{Name: "Voice 1", ID: "nova"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if path != "/audio/speech" {
		t.Errorf("path = %q", path)
	}
	if body["input"] != "buenos días" || body["voice"] != "nova" || body["response_format"] != "mp3" {
		t.Errorf("body = %v", body)
	}
	if clip.Container != audio.ContainerMP3 || string(clip.Data) != "mp3-bytes" {
		t.Errorf("clip = %+v", clip)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{ID: "nova"}); err == nil {
		t.Fatal("expected error")
	}
}
