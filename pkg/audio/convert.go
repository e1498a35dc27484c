package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Converter converts PCM between formats. It logs a warning on the first
// format mismatch and on the first misaligned buffer it sees.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts pcm from src to the target format. If src already matches
// the target, pcm is returned unchanged (zero allocation). Stereo input is
// folded to mono before resampling. Misaligned input (odd byte count) yields
// nil.
func (c *Converter) Convert(pcm []byte, src Format) []byte {
	if len(pcm)%BytesPerSample != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping buffer",
				"bytes", len(pcm),
				"format", src.String(),
			)
		})
		return nil
	}
	if src == c.Target {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", src.String(),
			"to", c.Target.String(),
		)
	})

	// The pipeline never carries more than two channels.
	if src.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if src.SampleRate != c.Target.SampleRate {
		pcm = ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate)
	}
	if c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// MonoToStereo duplicates every sample into a left/right pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, 0, n*2*BytesPerSample)
	for i := range n {
		lo, hi := pcm[2*i], pcm[2*i+1]
		out = append(out, lo, hi, lo, hi)
	}
	return out
}

// StereoToMono averages each left/right pair. A trailing partial frame is
// dropped.
func StereoToMono(pcm []byte) []byte {
	out := make([]byte, len(pcm)/4*BytesPerSample)
	for i := range len(out) / BytesPerSample {
		sum := int32(sampleAt(pcm, 2*i)) + int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, sum/2)
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int32(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// Silence returns n bytes of zeroed PCM.
func Silence(n int) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int32) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(clamp16(v)))
}

func clamp16(v int32) int16 {
	return int16(min(max(v, math.MinInt16), math.MaxInt16))
}
