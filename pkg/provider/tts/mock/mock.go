// Package mock provides a test double for the tts.Synthesizer interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Text  string
	Voice tts.Voice
}

// Synthesizer is a mock implementation of tts.Synthesizer.
//
// Resolution order: Func if set, otherwise Err, otherwise Clip. When Clip is
// empty a short PCM clip of the text bytes is returned, which lets tests tell
// items apart by content.
type Synthesizer struct {
	mu sync.Mutex

	// Clip is returned when Func and Err are nil.
	Clip audio.Clip

	// Err, if non-nil, is returned from every call.
	Err error

	// Func overrides every other field when set.
	Func func(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error)

	// Delay, if set, is waited out (or ctx) before answering.
	Delay func(text string) time.Duration

	// Calls records every call in order.
	Calls []Call
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, Call{Text: text, Voice: voice})
	fn, err, clip, delay := s.Func, s.Err, s.Clip, s.Delay
	s.mu.Unlock()

	if delay != nil {
		if d := delay(text); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return audio.Clip{}, ctx.Err()
			}
		}
	}
	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return audio.Clip{}, err
	}
	if clip.Empty() {
		return TextClip(text), nil
	}
	return clip, nil
}

// CallCount returns the number of Synthesize calls so far.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Texts returns the texts passed to Synthesize in call order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}

// TextClip returns the PCM clip the mock produces for text by default. The
// text bytes are padded to an even length.
func TextClip(text string) audio.Clip {
	data := []byte(text)
	if len(data)%2 != 0 {
		data = append(data, 0)
	}
	return audio.Clip{
		Data:      data,
		Container: audio.ContainerPCM,
		Format:    audio.Format{SampleRate: 16000, Channels: 1},
	}
}
