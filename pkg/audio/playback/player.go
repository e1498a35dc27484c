// Package playback renders synthesized [audio.Clip] values on an output
// device.
//
// [Player.Play] is synchronous: it decodes the clip, converts it to the
// device format and returns only after every buffer has been written. The
// sequencer relies on this to serialise output without extra coordination.
package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
)

// resampleQuality is passed to beep.Resample. 4 is beep's recommended
// default for speech.
const resampleQuality = 4

// chunkFrames is the number of sample frames decoded per write.
const chunkFrames = 2048

// Player writes clips to a device output stream. It is not safe for
// concurrent use; the playback task owns it.
type Player struct {
	out    device.OutputStream
	format audio.Format
	conv   *audio.Converter
}

// New returns a Player writing to out, which was opened with format.
func New(out device.OutputStream, format audio.Format) *Player {
	return &Player{
		out:    out,
		format: format,
		conv:   &audio.Converter{Target: format},
	}
}

// Format returns the device format.
func (p *Player) Format() audio.Format { return p.format }

// Play decodes clip and blocks until it has been written. An empty clip is a
// no-op. ctx is checked between device buffers so a shutdown can cut a long
// clip short.
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	if clip.Empty() {
		return nil
	}
	switch clip.Container {
	case audio.ContainerPCM, "":
		return p.writePCM(ctx, p.conv.Convert(clip.Data, clip.Format))
	case audio.ContainerMP3:
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return fmt.Errorf("playback: decode mp3: %w", err)
		}
		defer s.Close()
		return p.stream(ctx, s, f)
	case audio.ContainerWAV:
		s, f, err := wav.Decode(bytes.NewReader(clip.Data))
		if err != nil {
			return fmt.Errorf("playback: decode wav: %w", err)
		}
		defer s.Close()
		return p.stream(ctx, s, f)
	default:
		return fmt.Errorf("playback: unsupported container %q", clip.Container)
	}
}

// stream pulls decoded samples from s, resamples them to the device rate and
// writes them one chunk at a time.
func (p *Player) stream(ctx context.Context, s beep.Streamer, f beep.Format) error {
	var src beep.Streamer = s
	if int(f.SampleRate) != p.format.SampleRate {
		src = beep.Resample(resampleQuality, f.SampleRate, beep.SampleRate(p.format.SampleRate), s)
	}

	buf := make([][2]float64, chunkFrames)
	pcm := make([]byte, chunkFrames*p.format.Channels*audio.BytesPerSample)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := src.Stream(buf)
		if n > 0 {
			b := encodeFrames(pcm, buf[:n], p.format.Channels, f.NumChannels)
			if err := p.out.Write(b); err != nil {
				return fmt.Errorf("playback: write: %w", err)
			}
		}
		if !ok {
			break
		}
	}
	if es, ok := src.(interface{ Err() error }); ok && es.Err() != nil {
		return fmt.Errorf("playback: decode: %w", es.Err())
	}
	return nil
}

func (p *Player) writePCM(ctx context.Context, pcm []byte) error {
	step := chunkFrames * p.format.Channels * audio.BytesPerSample
	for off := 0; off < len(pcm); off += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+step, len(pcm))
		if err := p.out.Write(pcm[off:end]); err != nil {
			return fmt.Errorf("playback: write: %w", err)
		}
	}
	return nil
}

// encodeFrames converts beep's float frames to 16-bit PCM with outCh
// channels. Mono sources are decoded by beep with identical L/R, so the left
// channel is used as the mono signal.
func encodeFrames(dst []byte, frames [][2]float64, outCh, srcCh int) []byte {
	dst = dst[:len(frames)*outCh*audio.BytesPerSample]
	for i, fr := range frames {
		if outCh == 1 {
			v := fr[0]
			if srcCh > 1 {
				v = (fr[0] + fr[1]) / 2
			}
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(floatToInt16(v)))
			continue
		}
		j := i * outCh * audio.BytesPerSample
		binary.LittleEndian.PutUint16(dst[j:], uint16(floatToInt16(fr[0])))
		binary.LittleEndian.PutUint16(dst[j+2:], uint16(floatToInt16(fr[1])))
	}
	return dst
}

func floatToInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * 32767))
}
