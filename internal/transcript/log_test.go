package transcript_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/types"
)

func unit(seq uint64, text string) types.TranscriptUnit {
	return types.TranscriptUnit{Seq: seq, Text: text, RawText: text}
}

func TestLog_OrdersBySeq(t *testing.T) {
	t.Parallel()
	l := transcript.NewLog()
	for _, seq := range []uint64{3, 1, 4, 2} {
		if !l.Add(unit(seq, "line")) {
			t.Fatalf("Add(%d) rejected", seq)
		}
	}
	lines := l.Lines()
	for i, line := range lines {
		if line.Seq != uint64(i+1) {
			t.Fatalf("lines[%d].Seq = %d, want %d", i, line.Seq, i+1)
		}
	}
}

func TestLog_SkipsEmptyAndDuplicates(t *testing.T) {
	t.Parallel()
	l := transcript.NewLog()

	tests := []struct {
		name string
		u    types.TranscriptUnit
		want bool
	}{
		{"first", unit(1, "hello"), true},
		{"blank text", unit(2, "   "), false},
		{"duplicate seq", unit(1, "again"), false},
		{"translated", types.TranscriptUnit{Seq: 2, Text: "hola", RawText: "hello", Translated: true, Language: "en"}, true},
	}
	for _, tt := range tests {
		if got := l.Add(tt.u); got != tt.want {
			t.Errorf("%s: Add = %v, want %v", tt.name, got, tt.want)
		}
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}
	if got := l.Text(); got != "hello\nhola" {
		t.Errorf("Text = %q", got)
	}
	if line := l.Lines()[1]; !line.Translated || line.RawText != "hello" || line.At.IsZero() {
		t.Errorf("line = %+v", line)
	}
}

func TestLog_ConcurrentAdd(t *testing.T) {
	t.Parallel()
	l := transcript.NewLog()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add(unit(uint64(100-i), "x"))
		}()
	}
	wg.Wait()
	lines := l.Lines()
	if len(lines) != 100 {
		t.Fatalf("Len = %d, want 100", len(lines))
	}
	for i := 1; i < len(lines); i++ {
		if lines[i].Seq <= lines[i-1].Seq {
			t.Fatalf("out of order at %d", i)
		}
	}
}
