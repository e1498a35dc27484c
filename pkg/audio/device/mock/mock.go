// Package mock provides in-memory implementations of [device.Host],
// [device.InputStream] and [device.OutputStream] for tests.
//
// All mocks are safe for concurrent use. Set the exported fields before use;
// inspect the recorded calls afterwards.
//
// Typical usage:
//
//	in := &mock.InputStream{Frames: [][]byte{frame1, frame2}}
//	host := &mock.Host{
//	    DeviceList: []device.Info{{Name: "USB Mic", MaxInputChannels: 1}},
//	    Input:      in,
//	}
package mock

import (
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio/device"
)

// ─── Host ────────────────────────────────────────────────────────────────────

// Host is a mock [device.Host].
type Host struct {
	mu sync.Mutex

	// DeviceList is returned by Devices.
	DeviceList []device.Info

	// DevicesErr is returned by Devices when non-nil.
	DevicesErr error

	// Input and Output are returned by OpenInput and OpenOutput.
	Input  *InputStream
	Output *OutputStream

	// OpenInputErr and OpenOutputErr are returned by the open calls when set.
	OpenInputErr  error
	OpenOutputErr error

	// CallCountDevices records how many times Devices was called.
	CallCountDevices int

	// OpenedInput and OpenedOutput record the arguments of the open calls.
	OpenedInput  []device.Info
	OpenedOutput []device.Info
	Configs      []device.StreamConfig

	Closed bool
}

var _ device.Host = (*Host)(nil)

// Devices implements [device.Host].
func (h *Host) Devices() ([]device.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountDevices++
	if h.DevicesErr != nil {
		return nil, h.DevicesErr
	}
	return append([]device.Info(nil), h.DeviceList...), nil
}

// OpenInput implements [device.Host].
func (h *Host) OpenInput(dev device.Info, cfg device.StreamConfig) (device.InputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.OpenedInput = append(h.OpenedInput, dev)
	h.Configs = append(h.Configs, cfg)
	if h.OpenInputErr != nil {
		return nil, h.OpenInputErr
	}
	if h.Input == nil {
		h.Input = &InputStream{}
	}
	return h.Input, nil
}

// OpenOutput implements [device.Host].
func (h *Host) OpenOutput(dev device.Info, cfg device.StreamConfig) (device.OutputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.OpenedOutput = append(h.OpenedOutput, dev)
	h.Configs = append(h.Configs, cfg)
	if h.OpenOutputErr != nil {
		return nil, h.OpenOutputErr
	}
	if h.Output == nil {
		h.Output = &OutputStream{}
	}
	return h.Output, nil
}

// Close implements [device.Host].
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Closed = true
	return nil
}

// ─── InputStream ─────────────────────────────────────────────────────────────

// InputStream is a mock [device.InputStream]. Read returns the queued Frames
// in order, copying each into the caller's buffer. A nil entry in Frames
// produces [device.ErrOverflow]. Once the queue is empty Read returns
// Fill (zeros when nil) forever, or io.EOF when EOFWhenDrained is set.
// A closed stream returns io.ErrClosedPipe.
type InputStream struct {
	mu sync.Mutex

	Frames         [][]byte
	Fill           []byte
	EOFWhenDrained bool

	// Gate, when non-nil, is received from before every Read. Tests use it to
	// pace capture.
	Gate chan struct{}

	Reads  int
	closed bool
}

var _ device.InputStream = (*InputStream)(nil)

// Read implements [device.InputStream].
func (s *InputStream) Read(p []byte) error {
	if s.Gate != nil {
		if _, ok := <-s.Gate; !ok {
			return io.EOF
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.Reads++
	if len(s.Frames) == 0 {
		if s.EOFWhenDrained {
			return io.EOF
		}
		fillFrom(p, s.Fill)
		return nil
	}
	next := s.Frames[0]
	s.Frames = s.Frames[1:]
	if next == nil {
		return device.ErrOverflow
	}
	fillFrom(p, next)
	return nil
}

// Push queues more frames.
func (s *InputStream) Push(frames ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frames...)
}

// Close implements [device.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (s *InputStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func fillFrom(p, src []byte) {
	n := copy(p, src)
	clear(p[n:])
}

// ─── OutputStream ────────────────────────────────────────────────────────────

// OutputStream is a mock [device.OutputStream] that records every write.
type OutputStream struct {
	mu sync.Mutex

	// WriteErr is returned by Write when non-nil.
	WriteErr error

	// OnWrite, when set, is invoked with a copy of each buffer before Write
	// returns. It runs without the mock's lock held.
	OnWrite func(pcm []byte)

	writes [][]byte
	closed bool
}

var _ device.OutputStream = (*OutputStream)(nil)

// ErrClosed is returned when writing to a closed OutputStream.
var ErrClosed = errors.New("mock: output stream closed")

// Write implements [device.OutputStream].
func (s *OutputStream) Write(pcm []byte) error {
	cp := append([]byte(nil), pcm...)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.WriteErr != nil {
		err := s.WriteErr
		s.mu.Unlock()
		return err
	}
	s.writes = append(s.writes, cp)
	hook := s.OnWrite
	s.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

// Writes returns a copy of every buffer written so far.
func (s *OutputStream) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

// Close implements [device.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
