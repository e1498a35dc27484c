// Package tts defines the Synthesizer interface for text-to-speech backends
// and the named voice catalogue the control surface selects from.
//
// A Synthesizer turns one finished transcript line into one playable
// [audio.Clip]. Clips may be container-encoded (MP3, WAV) or raw PCM; the
// playback layer decodes whatever it is given.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Voice identifies a provider voice.
type Voice struct {
	// Name is the human-readable label shown to users (e.g. "Voice 1").
	Name string

	// ID is the provider-specific voice identifier.
	ID string
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	// Synthesize blocks until the whole clip is available. An empty text is
	// the caller's bug; implementations may reject it.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Clip, error)
}

// DefaultVoiceName is selected when nothing else is configured and is the
// fallback for unknown names.
const DefaultVoiceName = "Voice 1"

// DefaultVoices maps the stock voice labels to ElevenLabs voice IDs.
func DefaultVoices() map[string]string {
	return map[string]string{
		"Voice 1": "21m00Tcm4TlvDq8ikWAM", // Rachel
		"Voice 2": "CYw3kZ02Hs0563khs1Fj", // Dave
		"Voice 3": "bVMeCyTHy58xNoL34h3p", // Jeremy
	}
}

// Catalog resolves voice names to provider IDs. Lookups are case-insensitive.
// It is safe for concurrent use so the voice map can be hot-reloaded.
type Catalog struct {
	mu       sync.RWMutex
	voices   map[string]Voice // keyed by lower-case name
	fallback string
}

// NewCatalog builds a catalogue from name→ID pairs. fallback must name one of
// the voices; when empty [DefaultVoiceName] is used.
func NewCatalog(voices map[string]string, fallback string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(voices, fallback); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the whole catalogue atomically.
func (c *Catalog) Replace(voices map[string]string, fallback string) error {
	if len(voices) == 0 {
		return fmt.Errorf("tts: voice catalogue is empty")
	}
	if fallback == "" {
		fallback = DefaultVoiceName
	}
	m := make(map[string]Voice, len(voices))
	for name, id := range voices {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("tts: voice %q has no id", name)
		}
		m[strings.ToLower(name)] = Voice{Name: name, ID: id}
	}
	if _, ok := m[strings.ToLower(fallback)]; !ok {
		return fmt.Errorf("tts: fallback voice %q is not in the catalogue", fallback)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = m
	c.fallback = strings.ToLower(fallback)
	return nil
}

// Resolve returns the voice called name, or the fallback voice when name is
// unknown. The boolean reports whether name matched.
func (c *Catalog) Resolve(name string) (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.voices[strings.ToLower(strings.TrimSpace(name))]; ok {
		return v, true
	}
	return c.voices[c.fallback], false
}

// Names returns every voice name in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.voices))
	for _, v := range c.voices {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}
