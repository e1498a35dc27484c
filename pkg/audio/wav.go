package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// ErrNotWAV is returned by [DecodeWAVHeader] when the buffer does not start
// with a canonical PCM RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a PCM WAV stream")

// EncodeWAV wraps raw 16-bit PCM in a minimal RIFF/WAVE container suitable
// for upload to transcription services.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * BytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], pcm)

	return buf
}

// DecodeWAVHeader parses the canonical 44-byte header written by [EncodeWAV]
// and returns the format and the PCM payload. Only 16-bit PCM is accepted.
func DecodeWAVHeader(wav []byte) (Format, []byte, error) {
	if len(wav) < wavHeaderSize || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(wav[20:22]) != 1 {
		return Format{}, nil, fmt.Errorf("%w: compressed audio format", ErrNotWAV)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != bitsPerSample {
		return Format{}, nil, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, bits)
	}
	f := Format{
		SampleRate: int(binary.LittleEndian.Uint32(wav[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(wav[22:24])),
	}
	size := int(binary.LittleEndian.Uint32(wav[40:44]))
	data := wav[wavHeaderSize:]
	if size < len(data) {
		data = data[:size]
	}
	return f, data, nil
}
