// Package device defines the boundary between the pipeline and the host's
// sound hardware.
//
// A [Host] enumerates devices and opens blocking input and output streams.
// The pipeline only ever sees fixed-size PCM frames through [Capture] and a
// synchronous [OutputStream.Write], so the concrete audio backend (PortAudio
// in production, [mock.Host] in tests) is swappable.
//
// Device selection is by case-insensitive name substring. A selector that
// matches nothing is a configuration error: [SelectInput] and [SelectOutput]
// return [ErrNoDevice] immediately and are never retried.
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

var (
	// ErrNoDevice is returned when a selector matches no capable device.
	ErrNoDevice = errors.New("device: no matching device")

	// ErrOverflow is returned by [InputStream.Read] when the device dropped
	// samples because the reader fell behind. It is transient.
	ErrOverflow = errors.New("device: input overflow")
)

// Info describes one host audio device.
type Info struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// CanInput reports whether the device can capture audio.
func (i Info) CanInput() bool { return i.MaxInputChannels > 0 }

// CanOutput reports whether the device can play audio.
func (i Info) CanOutput() bool { return i.MaxOutputChannels > 0 }

// StreamConfig describes the stream to open on a device.
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// FrameBytes returns the size in bytes of one buffer of FramesPerBuffer
// sample frames.
func (c StreamConfig) FrameBytes() int {
	return c.FramesPerBuffer * c.Channels * 2
}

// InputStream is an open capture stream.
type InputStream interface {
	// Read blocks until len(p) bytes of 16-bit PCM have been captured.
	// len(p) must equal the stream's FrameBytes. Returns [ErrOverflow] when
	// the device dropped input; p is then unspecified.
	Read(p []byte) error

	Close() error
}

// OutputStream is an open playback stream.
type OutputStream interface {
	// Write blocks until pcm has been handed to the device. pcm must be in
	// the stream's format; its length need not be a whole buffer.
	Write(pcm []byte) error

	Close() error
}

// Host is an audio backend.
type Host interface {
	// Devices returns every device the host exposes.
	Devices() ([]Info, error)

	OpenInput(dev Info, cfg StreamConfig) (InputStream, error)
	OpenOutput(dev Info, cfg StreamConfig) (OutputStream, error)

	// Close releases the backend. Streams must be closed first.
	Close() error
}

// List queries the host once and returns the names of input-capable and
// output-capable devices. A device with both capabilities appears in both.
func List(h Host) (inputs, outputs []string, err error) {
	devs, err := h.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("device: list: %w", err)
	}
	for _, d := range devs {
		if d.CanInput() {
			inputs = append(inputs, d.Name)
		}
		if d.CanOutput() {
			outputs = append(outputs, d.Name)
		}
	}
	return inputs, outputs, nil
}

// SelectInput returns the first input-capable device whose name contains
// selector, ignoring case. An empty selector picks the first input-capable
// device.
func SelectInput(h Host, selector string) (Info, error) {
	return selectDevice(h, selector, "input", Info.CanInput)
}

// SelectOutput is [SelectInput] for output-capable devices.
func SelectOutput(h Host, selector string) (Info, error) {
	return selectDevice(h, selector, "output", Info.CanOutput)
}

func selectDevice(h Host, selector, kind string, capable func(Info) bool) (Info, error) {
	devs, err := h.Devices()
	if err != nil {
		return Info{}, fmt.Errorf("device: list: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(selector))

	var names []string
	for _, d := range devs {
		if !capable(d) {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
		names = append(names, d.Name)
	}

	if needle == "" {
		return Info{}, fmt.Errorf("%w: host has no %s devices", ErrNoDevice, kind)
	}
	if s := suggest(needle, names, 3); len(s) > 0 {
		return Info{}, fmt.Errorf("%w: no %s device matches %q (did you mean %s?)",
			ErrNoDevice, kind, selector, strings.Join(quoteAll(s), ", "))
	}
	return Info{}, fmt.Errorf("%w: no %s device matches %q", ErrNoDevice, kind, selector)
}

// suggestThreshold is the minimum Jaro-Winkler similarity for a device name to
// be offered as a suggestion.
const suggestThreshold = 0.6

// suggest ranks names by Jaro-Winkler similarity to needle and returns up to n
// names scoring at least suggestThreshold.
func suggest(needle string, names []string, n int) []string {
	type scored struct {
		name  string
		score float64
	}
	var ranked []scored
	for _, name := range names {
		s := matchr.JaroWinkler(needle, strings.ToLower(name), false)
		if s >= suggestThreshold {
			ranked = append(ranked, scored{name, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.name
	}
	return out
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
