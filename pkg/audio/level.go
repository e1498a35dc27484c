package audio

import (
	"math"
	"time"
)

// SilenceFloorDBFS is reported by [DBFS] for digital silence and empty
// buffers, where the true level is negative infinity.
const SilenceFloorDBFS = -120.0

// SilenceWindow is the analysis window used by [DetectSilence].
const SilenceWindow = 10 * time.Millisecond

// RMS returns the root-mean-square amplitude of 16-bit PCM in sample units
// (0 to 32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sampleAt(pcm, i))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// DBFS returns the RMS level of pcm relative to full scale. The result is
// clamped to [SilenceFloorDBFS, 0].
func DBFS(pcm []byte) float64 {
	return rmsToDBFS(RMS(pcm))
}

func rmsToDBFS(rms float64) float64 {
	if rms <= 0 {
		return SilenceFloorDBFS
	}
	db := 20 * math.Log10(rms/32768)
	switch {
	case db < SilenceFloorDBFS:
		return SilenceFloorDBFS
	case db > 0:
		return 0
	}
	return db
}

// DetectSilence reports whether pcm contains at least one continuous run of
// silence lasting minSilence or longer. The buffer is scanned in
// [SilenceWindow] steps; a window is silent when its level is below
// thresholdDBFS. Leading and trailing silence both count. A trailing partial
// window is ignored.
func DetectSilence(pcm []byte, f Format, thresholdDBFS float64, minSilence time.Duration) bool {
	return LongestSilence(pcm, f, thresholdDBFS) >= minSilence && minSilence > 0
}

// LongestSilence returns the length of the longest run of consecutive silent
// windows in pcm.
func LongestSilence(pcm []byte, f Format, thresholdDBFS float64) time.Duration {
	win := f.Bytes(SilenceWindow)
	if win <= 0 {
		return 0
	}
	var run, best int
	for off := 0; off+win <= len(pcm); off += win {
		if DBFS(pcm[off:off+win]) < thresholdDBFS {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	return time.Duration(best) * SilenceWindow
}
