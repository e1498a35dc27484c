package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/voxrelay/pkg/provider/translate/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// requestsByStatus sums voxrelay.provider.requests per status attribute.
func requestsByStatus(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxrelay.provider.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("status")
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestGuardTranscriber(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	ctx := context.Background()

	next := &sttmock.Transcriber{Err: errTest}
	g := GuardTranscriber(next, GuardConfig{
		Provider: "whisper",
		Breaker:  BreakerConfig{MaxFailures: 2},
		Metrics:  m,
	})

	for range 2 {
		if _, err := g.Transcribe(ctx, stt.Request{}); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want errTest", err)
		}
	}
	if _, err := g.Transcribe(ctx, stt.Request{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if next.CallCount() != 2 {
		t.Errorf("backend calls = %d, want 2", next.CallCount())
	}
	if g.Breaker().State() != StateOpen {
		t.Errorf("state = %v, want open", g.Breaker().State())
	}

	got := requestsByStatus(t, reader)
	if got["error"] != 2 || got["rejected"] != 1 {
		t.Errorf("requests by status = %v, want error=2 rejected=1", got)
	}
}

func TestGuardSynthesizer_PassesThrough(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	want := audio.Clip{Data: []byte{1, 2}, Container: audio.ContainerMP3}
	next := &ttsmock.Synthesizer{Clip: want}
	g := GuardSynthesizer(next, GuardConfig{Provider: "elevenlabs", Metrics: m})

	clip, err := g.Synthesize(context.Background(), "hi", tts.Voice{ID: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.Data) != string(want.Data) || clip.Container != want.Container {
		t.Errorf("clip = %+v, want %+v", clip, want)
	}
	if got := requestsByStatus(t, reader); got["ok"] != 1 {
		t.Errorf("requests by status = %v, want ok=1", got)
	}
}

func TestGuardTranslator(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	g := GuardTranslator(&translatemock.Translator{}, GuardConfig{Provider: "google", Metrics: m})
	res, err := g.Translate(context.Background(), "hola", "es", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Text != "[en] hola" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestGuardLLM(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	next := &llmmock.Provider{Reply: "fixed"}
	g := GuardLLM(next, GuardConfig{Provider: "groq", Metrics: m})
	resp, err := g.Complete(context.Background(), llm.UserPrompt("sys", "txt"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "fixed" {
		t.Errorf("content = %q", resp.Content)
	}
	if g.breaker.name != "llm/groq" {
		t.Errorf("breaker name = %q, want llm/groq", g.breaker.name)
	}
}
