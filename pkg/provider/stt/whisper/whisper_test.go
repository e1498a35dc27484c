package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/whisper"
)

var (
	mono16k   = audio.Format{SampleRate: 16000, Channels: 1}
	stereo48k = audio.Format{SampleRate: 48000, Channels: 2}
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields of the last /inference call.
type capturedRequest struct {
	mu     sync.Mutex
	fields map[string]string
	wav    []byte
	calls  int
}

func (c *capturedRequest) get() (map[string]string, []byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields, c.wav, c.calls
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided response, recording every request.
func newMockServer(t *testing.T, response map[string]string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		wav, _ := io.ReadAll(f)

		fields := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		captured.mu.Lock()
		captured.fields = fields
		captured.wav = wav
		captured.calls++
		captured.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine wave of `samples` 16-bit samples.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// makeSilencePCM generates a zero-valued PCM buffer of `samples` samples.
func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	var captured capturedRequest
	srv := newMockServer(t, map[string]string{"text": "  hello world \n"}, &captured)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm := makeSpeechPCM(8000)
	res, err := p.Transcribe(context.Background(), stt.Request{PCM: pcm, Format: mono16k})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want provider default %q", res.Language, "en")
	}

	fields, wav, calls := captured.get()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if fields["model"] != "base.en" || fields["language"] != "en" || fields["temperature"] != "0.0" {
		t.Errorf("unexpected fields %v", fields)
	}
	if _, ok := fields["translate"]; ok {
		t.Error("translate field should be omitted by default")
	}
	f, data, err := audio.DecodeWAVHeader(wav)
	if err != nil {
		t.Fatalf("uploaded file is not WAV: %v", err)
	}
	if f != mono16k || len(data) != len(pcm) {
		t.Errorf("wav format %v with %d bytes, want %v with %d", f, len(data), mono16k, len(pcm))
	}
}

func TestTranscribe_LanguageAndTranslate(t *testing.T) {
	var captured capturedRequest
	srv := newMockServer(t, map[string]string{"text": "good morning", "language": "de"}, &captured)

	p, _ := whisper.New(srv.URL)
	res, err := p.Transcribe(context.Background(), stt.Request{
		PCM:       makeSpeechPCM(1600),
		Format:    mono16k,
		Language:  "de",
		Translate: true,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Language != "en" {
		t.Errorf("translated result language = %q, want en", res.Language)
	}
	fields, _, _ := captured.get()
	if fields["language"] != "de" || fields["translate"] != "true" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestTranscribe_EmptyTextIsNotAnError(t *testing.T) {
	var captured capturedRequest
	srv := newMockServer(t, map[string]string{"text": ""}, &captured)

	p, _ := whisper.New(srv.URL)
	res, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSilencePCM(1600), Format: mono16k})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(160), Format: mono16k})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want HTTP 500 error", err)
	}
}

func TestTranscribe_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, stt.Request{PCM: makeSpeechPCM(160), Format: mono16k}); err == nil {
		t.Fatal("expected timeout error")
	}
}
