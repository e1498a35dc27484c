// Package types defines the values that travel between pipeline stages.
//
// A [Segment] is sealed by segmentation and handed to dispatch. Dispatch turns
// it into a [TranscriptUnit] and finally a [PlaybackItem], all carrying the
// same sequence number so the sequencer can restore capture order. Each stage
// owns its internal state; only these values cross stage boundaries, which
// keeps the packages free of import cycles.
package types

import (
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Trigger names the rule that sealed a segment.
type Trigger string

const (
	// TriggerSilence means a long enough pause was found in the buffer.
	TriggerSilence Trigger = "silence"

	// TriggerUrgent means the buffer outlived the urgent-flush window.
	TriggerUrgent Trigger = "urgent"
)

// Band records which duration floor a sealed segment cleared.
type Band string

const (
	// BandSegment means the segment met the full minimum segment length.
	BandSegment Band = "segment"

	// BandAccumulated means the segment only met the lower accumulated floor.
	BandAccumulated Band = "accumulated"
)

// Segment is a contiguous run of captured PCM sealed for processing.
// PCM is owned by the segment; the producer never touches it again.
type Segment struct {
	// Seq is the 1-based position of this segment within its session.
	Seq uint64

	// PCM is 16-bit little-endian audio in Format.
	PCM    []byte
	Format audio.Format

	// FirstFrameAt is the capture time of the oldest frame in the segment.
	FirstFrameAt time.Time

	// SealedAt is when segmentation decided to emit the segment.
	SealedAt time.Time

	// FrameTimes holds the capture time of every contributing frame, oldest
	// first.
	FrameTimes []time.Time

	Trigger Trigger
	Band    Band
}

// Duration returns the length of audio in the segment.
func (s Segment) Duration() time.Duration {
	return s.Format.Duration(len(s.PCM))
}

// TranscriptUnit is the text produced for one segment.
type TranscriptUnit struct {
	Seq uint64

	// Text is what gets spoken: translated when translation ran, otherwise the
	// (possibly polished) transcription.
	Text string

	// RawText is the transcription exactly as the STT provider returned it.
	RawText string

	// Translated is true when Text is a translation of RawText.
	Translated bool

	// Language is the detected or configured source language, if known.
	Language string
}

// Final returns the text to speak and record, or "" when nothing usable was
// produced.
func (u TranscriptUnit) Final() string {
	return strings.TrimSpace(u.Text)
}

// PlaybackItem is the synthesized audio for one sequence number. An item with
// empty Audio still advances the sequencer; it is never played.
type PlaybackItem struct {
	Seq      uint64
	Audio    audio.Clip
	SealedAt time.Time
}

// Empty reports whether the item has nothing to play.
func (p PlaybackItem) Empty() bool {
	return p.Audio.Empty()
}
