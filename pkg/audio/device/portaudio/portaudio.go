// Package portaudio implements [device.Host] on top of the PortAudio C
// library using blocking-mode streams.
//
// PortAudio must be installed on the build host (pkg-config portaudio-2.0).
// [New] initialises the library; [Host.Close] terminates it.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxrelay/pkg/audio/device"
)

// Host is a PortAudio-backed [device.Host].
type Host struct {
	mu      sync.Mutex
	devices []*pa.DeviceInfo
	closed  bool
}

var _ device.Host = (*Host)(nil)

// New initialises PortAudio and returns a Host.
func New() (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Host{}, nil
}

// Devices implements [device.Host]. The result of the last call is cached so
// that Info.Index can be mapped back to a PortAudio device when a stream is
// opened.
func (h *Host) Devices() ([]device.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("portaudio: host closed")
	}

	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: devices: %w", err)
	}
	h.devices = devs

	out := make([]device.Info, len(devs))
	for i, d := range devs {
		out[i] = device.Info{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
	}
	return out, nil
}

func (h *Host) lookup(dev device.Info) (*pa.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("portaudio: host closed")
	}
	for _, d := range h.devices {
		if d.Index == dev.Index && d.Name == dev.Name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: %w: %q is no longer present", device.ErrNoDevice, dev.Name)
}

// OpenInput implements [device.Host].
func (h *Host) OpenInput(dev device.Info, cfg device.StreamConfig) (device.InputStream, error) {
	info, err := h.lookup(dev)
	if err != nil {
		return nil, err
	}
	buf := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	s, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %q: %w", dev.Name, err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("portaudio: start input %q: %w", dev.Name, err)
	}
	return &inputStream{s: s, buf: buf}, nil
}

// OpenOutput implements [device.Host].
func (h *Host) OpenOutput(dev device.Info, cfg device.StreamConfig) (device.OutputStream, error) {
	info, err := h.lookup(dev)
	if err != nil {
		return nil, err
	}
	buf := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	params := pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultHighOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	s, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output %q: %w", dev.Name, err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("portaudio: start output %q: %w", dev.Name, err)
	}
	return &outputStream{s: s, buf: buf}, nil
}

// Close terminates PortAudio. Further calls are no-ops.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.devices = nil
	return pa.Terminate()
}

// ---- streams ----

type inputStream struct {
	s   *pa.Stream
	buf []int16
}

func (in *inputStream) Read(p []byte) error {
	if len(p) != len(in.buf)*2 {
		return fmt.Errorf("portaudio: read buffer is %d bytes, stream delivers %d", len(p), len(in.buf)*2)
	}
	if err := in.s.Read(); err != nil {
		if errors.Is(err, pa.InputOverflowed) {
			return device.ErrOverflow
		}
		return err
	}
	for i, v := range in.buf {
		p[2*i] = byte(v)
		p[2*i+1] = byte(v >> 8)
	}
	return nil
}

func (in *inputStream) Close() error {
	stopErr := in.s.Stop()
	return errors.Join(stopErr, in.s.Close())
}

type outputStream struct {
	s   *pa.Stream
	buf []int16
}

// Write copies pcm into the stream buffer one device buffer at a time. The
// final partial buffer is padded with silence.
func (out *outputStream) Write(pcm []byte) error {
	samples := len(pcm) / 2
	for off := 0; off < samples; off += len(out.buf) {
		n := min(len(out.buf), samples-off)
		for i := range n {
			j := (off + i) * 2
			out.buf[i] = int16(uint16(pcm[j]) | uint16(pcm[j+1])<<8)
		}
		clear(out.buf[n:])
		if err := out.s.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (out *outputStream) Close() error {
	stopErr := out.s.Stop()
	return errors.Join(stopErr, out.s.Close())
}
