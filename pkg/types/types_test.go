package types_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/types"
)

func TestSegmentDuration(t *testing.T) {
	t.Parallel()
	s := types.Segment{
		PCM:    make([]byte, 64000),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	}
	if got := s.Duration(); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}
}

func TestTranscriptUnitFinal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
	}{
		{text: "  hola  ", want: "hola"},
		{text: "\n\t", want: ""},
		{text: "", want: ""},
	}
	for _, tt := range tests {
		u := types.TranscriptUnit{Text: tt.text}
		if got := u.Final(); got != tt.want {
			t.Errorf("Final(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestPlaybackItemEmpty(t *testing.T) {
	t.Parallel()
	if !(types.PlaybackItem{Seq: 3}).Empty() {
		t.Error("item without audio should be empty")
	}
	item := types.PlaybackItem{Seq: 3, Audio: audio.Clip{Data: []byte{1}, Container: audio.ContainerMP3}}
	if item.Empty() {
		t.Error("item with audio should not be empty")
	}
}
