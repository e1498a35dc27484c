package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// whisperFormat is the only input format whisper.cpp accepts.
var whisperFormat = audio.Format{SampleRate: 16000, Channels: 1}

// whisperInput brings a segment into whisper's format and scales each
// sample into [-1, 1). Input already in that format may carry a trailing odd
// byte, which is dropped.
func whisperInput(pcm []byte, src audio.Format) []float32 {
	if src != whisperFormat {
		conv := audio.Converter{Target: whisperFormat}
		pcm = conv.Convert(pcm, src)
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return out
}
