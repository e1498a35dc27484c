// Package audio holds the PCM primitives shared by capture, segmentation and
// playback: stream formats, captured frames, synthesized clips, level
// measurement and format conversion.
//
// All PCM handled by this package is 16-bit signed little-endian, interleaved
// when more than one channel is present.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed at 2 for 16-bit signed PCM.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the number of PCM bytes in one second of audio.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns how much audio n bytes of PCM hold in this format.
// Returns 0 for an invalid format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the PCM byte count for d, rounded down to a whole sample
// frame.
func (f Format) Bytes(d time.Duration) int {
	block := f.Channels * BytesPerSample
	if block <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%block
}

// Valid reports whether the format has a positive rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is one fixed-size block of captured PCM. Frames are immutable once
// produced: consumers copy Data rather than modifying it.
type Frame struct {
	// Data is the raw PCM block.
	Data []byte

	// Format of Data.
	Format Format

	// CapturedAt is the wall-clock time the block was read from the device.
	CapturedAt time.Time
}

// Duration returns the amount of audio held by the frame.
func (f Frame) Duration() time.Duration {
	return f.Format.Duration(len(f.Data))
}

// Container identifies how the bytes of a [Clip] are encoded.
type Container string

const (
	// ContainerPCM is raw 16-bit little-endian PCM described by Clip.Format.
	ContainerPCM Container = "pcm"

	// ContainerWAV is a RIFF/WAVE file.
	ContainerWAV Container = "wav"

	// ContainerMP3 is an MPEG-1/2 Layer III stream.
	ContainerMP3 Container = "mp3"
)

// Clip is a synthesized audio buffer ready for playback. For encoded
// containers Format is advisory; the decoder reads the real format from the
// stream header.
type Clip struct {
	Data      []byte
	Container Container
	Format    Format
}

// Empty reports whether the clip carries nothing to play.
func (c Clip) Empty() bool {
	return len(c.Data) == 0
}
