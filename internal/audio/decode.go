package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Static errors for WAV decoding.
var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE stream")
	ErrUnsupportedFormat = errors.New("unsupported wav encoding")
	ErrTruncated         = errors.New("truncated wav stream")
)

const riffHeaderLen = 12

// DecodeWAV parses a PCM16LE WAV stream into float32 samples. Multi-channel
// input is downmixed to mono by averaging.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < riffHeaderLen ||
		string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		sampleRate int
		channels   int
		bitDepth   int
		pcm        []byte
	)

	offset := riffHeaderLen

	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkLen > len(data) {
			return nil, 0, fmt.Errorf("%w: chunk %q", ErrTruncated, chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < fmtChunkSize {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrTruncated)
			}

			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != pcmFormat {
				return nil, 0, fmt.Errorf("%w: format %d", ErrUnsupportedFormat, format)
			}

			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word aligned.
		offset = body + chunkLen + chunkLen%2
	}

	if sampleRate == 0 || pcm == nil {
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", ErrTruncated)
	}

	if bitDepth != bitsPerSample || channels < 1 {
		return nil, 0, fmt.Errorf(
			"%w: %d-bit %d-channel", ErrUnsupportedFormat, bitDepth, channels,
		)
	}

	frameBytes := channels * bytesPerFrame
	frames := len(pcm) / frameBytes
	samples := make([]float32, frames)

	for i := range frames {
		sum := 0.0
		for c := range channels {
			raw := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes+c*2:]))
			sum += float64(raw) / math.MaxInt16
		}

		samples[i] = float32(sum / float64(channels))
	}

	return samples, sampleRate, nil
}
