// Package transcript keeps the running transcript of a session.
//
// Dispatch workers finish out of order, so [Log.Add] inserts each line at its
// sequence position rather than appending. Readers always see lines in
// capture order.
package transcript

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/types"
)

// Line is one transcribed segment.
type Line struct {
	Seq uint64 `json:"seq"`

	// Text is the line as spoken back: translated or polished.
	Text string `json:"text"`

	// RawText is the transcription before polish and translation.
	RawText string `json:"raw_text"`

	Translated bool      `json:"translated"`
	Language   string    `json:"language,omitempty"`
	At         time.Time `json:"at"`
}

// Log is an ordered, concurrency-safe list of lines.
type Log struct {
	mu    sync.RWMutex
	lines []Line
	now   func() time.Time
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Add records u. Units without final text are ignored, as is a second unit
// for a sequence number already present. It reports whether a line was
// added.
func (l *Log) Add(u types.TranscriptUnit) bool {
	text := u.Final()
	if text == "" {
		return false
	}
	line := Line{
		Seq:        u.Seq,
		Text:       text,
		RawText:    strings.TrimSpace(u.RawText),
		Translated: u.Translated,
		Language:   u.Language,
		At:         l.now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i, found := slices.BinarySearchFunc(l.lines, u.Seq, func(e Line, seq uint64) int {
		switch {
		case e.Seq < seq:
			return -1
		case e.Seq > seq:
			return 1
		}
		return 0
	})
	if found {
		return false
	}
	l.lines = slices.Insert(l.lines, i, line)
	return true
}

// Lines returns a copy of all lines in sequence order.
func (l *Log) Lines() []Line {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.lines)
}

// Len returns the number of lines.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

// Text joins all lines with newlines.
func (l *Log) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sb strings.Builder
	for i, line := range l.lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line.Text)
	}
	return sb.String()
}
