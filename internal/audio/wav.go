// Package audio assembles synthesized segments into chapter tracks and
// encodes float32 PCM to WAV for the downstream transcoder.
package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	wavHeaderSize = 36
	fmtChunkSize  = 16
	pcmFormat     = 1
	numChannels   = 1
	bitsPerSample = 16
	bytesPerFrame = numChannels * bitsPerSample / 8

	// DefaultSampleRate matches the synthesis engine's native output.
	DefaultSampleRate = 24000
)

// EncodeWAV wraps mono float32 samples in a PCM16LE WAV container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, samples, sampleRate); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteWAVFile writes mono float32 samples as a PCM16LE WAV file.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	return WriteWAVTo(f, samples, sampleRate)
}

// WriteWAVTo writes mono float32 samples to out as a PCM16LE WAV stream.
// Samples outside [-1, 1] are clipped.
func WriteWAVTo(out io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	pcm := pcm16Bytes(samples)

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * bytesPerFrame)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(wavHeaderSize)+dataSize); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}

	if _, err := w.WriteString("WAVE"); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return fmt.Errorf("writing wav fmt chunk: %w", err)
	}

	fmtFields := []any{
		uint32(fmtChunkSize),
		uint16(pcmFormat),
		uint16(numChannels),
		uint32(sampleRate),
		byteRate,
		uint16(bytesPerFrame),
		uint16(bitsPerSample),
	}
	for _, field := range fmtFields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("writing wav fmt chunk: %w", err)
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return fmt.Errorf("writing wav data chunk: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("writing wav data chunk: %w", err)
	}

	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing wav stream: %w", err)
	}

	return nil
}

func pcm16Bytes(samples []float32) []byte {
	pcm := make([]byte, len(samples)*bytesPerFrame)

	for i, sample := range samples {
		clipped := math.Max(-1, math.Min(1, float64(sample)))
		value := int16(math.Round(clipped * math.MaxInt16))
		binary.LittleEndian.PutUint16(pcm[i*bytesPerFrame:], uint16(value))
	}

	return pcm
}
