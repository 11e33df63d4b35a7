package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/core"
)

const rate = 24000

func segment(samples ...float32) core.AudioSegment {
	return core.AudioSegment{Samples: samples, SampleRate: rate}
}

func TestConcatenateJoinsInOrder(t *testing.T) {
	t.Parallel()

	track, err := audio.NewAssembler().Concatenate(
		[]core.AudioSegment{segment(0.1, 0.2), segment(0.3)},
		core.SilencePolicy{},
	)
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, track.Samples)
	assert.Equal(t, rate, track.SampleRate)
}

func TestConcatenateInsertsSilence(t *testing.T) {
	t.Parallel()

	policy := core.SilencePolicy{
		BetweenChunks: 0.001, // 24 samples
		LeadOut:       0.002, // 48 samples
	}

	track, err := audio.NewAssembler().Concatenate(
		[]core.AudioSegment{segment(0.5), segment(0.5), segment(0.5)},
		policy,
	)
	require.NoError(t, err)

	// 3 samples of signal, 2 gaps, 1 lead-out.
	assert.Len(t, track.Samples, 3+2*24+48)
	assert.InDelta(t, 0.5, track.Samples[0], 1e-6)
	assert.Zero(t, track.Samples[1])

	for _, sample := range track.Samples[len(track.Samples)-48:] {
		assert.Zero(t, sample)
	}
}

func TestConcatenateRejectsEmptyAndMismatched(t *testing.T) {
	t.Parallel()

	asm := audio.NewAssembler()

	_, err := asm.Concatenate(nil, core.SilencePolicy{})
	require.ErrorIs(t, err, audio.ErrNoSegments)

	mismatched := []core.AudioSegment{
		segment(0.1),
		{Samples: []float32{0.1}, SampleRate: 48000},
	}

	_, err = asm.Concatenate(mismatched, core.SilencePolicy{})
	require.ErrorIs(t, err, audio.ErrSampleRateMismatch)
}

func TestNormalizeHitsTargetLevel(t *testing.T) {
	t.Parallel()

	quiet := make([]float32, rate)
	for i := range quiet {
		quiet[i] = float32(0.01 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}

	track := core.ChapterTrack{Samples: quiet, SampleRate: rate}
	normalized := audio.NewAssembler().Normalize(track, -20)

	rms := 0.0
	for _, sample := range normalized.Samples {
		rms += float64(sample) * float64(sample)
	}

	rms = math.Sqrt(rms / float64(len(normalized.Samples)))
	gotDBFS := 20 * math.Log10(rms)

	assert.InDelta(t, -20, gotDBFS, 0.1)
}

func TestNormalizeNeverClips(t *testing.T) {
	t.Parallel()

	samples := []float32{0.9, -0.9, 0.001, -0.001}
	track := core.ChapterTrack{Samples: samples, SampleRate: rate}

	normalized := audio.NewAssembler().Normalize(track, -3)

	for _, sample := range normalized.Samples {
		assert.LessOrEqual(t, math.Abs(float64(sample)), 1.0)
	}
}

func TestNormalizeSkipsSilenceAndDisabledTarget(t *testing.T) {
	t.Parallel()

	asm := audio.NewAssembler()

	silent := core.ChapterTrack{Samples: make([]float32, 100), SampleRate: rate}
	assert.Equal(t, silent, asm.Normalize(silent, -16))

	loud := core.ChapterTrack{Samples: []float32{0.5}, SampleRate: rate}
	assert.Equal(t, loud, asm.Normalize(loud, 0))
}

func TestEncodeWAVLayout(t *testing.T) {
	t.Parallel()

	data, err := audio.EncodeWAV([]float32{0, 0.5, -0.5, 1, -1}, rate)
	require.NoError(t, err)

	require.Len(t, data, 44+5*2)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, "data", string(data[36:40]))

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "channels")
	assert.Equal(t, uint32(rate), binary.LittleEndian.Uint32(data[24:28]), "sample rate")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]), "bit depth")
	assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(data[40:44]), "data size")

	// Full-scale samples clip to the int16 limits.
	assert.Equal(t, int16(math.MaxInt16), int16(binary.LittleEndian.Uint16(data[50:52])))
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	t.Parallel()

	original := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.999}

	encoded, err := audio.EncodeWAV(original, rate)
	require.NoError(t, err)

	decoded, gotRate, err := audio.DecodeWAV(encoded)
	require.NoError(t, err)

	assert.Equal(t, rate, gotRate)
	require.Len(t, decoded, len(original))

	for i := range original {
		assert.InDelta(t, original[i], decoded[i], 1.0/32767)
	}
}

func TestResampleChangesDuration(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = float32(i) / 1000
	}

	faster := audio.Resample(samples, 2.0)
	assert.Len(t, faster, 500)

	slower := audio.Resample(samples, 0.5)
	assert.Len(t, slower, 2000)

	// Unit rate is the identity.
	assert.Equal(t, samples, audio.Resample(samples, 1.0))
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := audio.DecodeWAV([]byte("not a wav file at all"))
	require.ErrorIs(t, err, audio.ErrNotWAV)

	valid, err := audio.EncodeWAV([]float32{0.1, 0.2}, rate)
	require.NoError(t, err)

	_, _, err = audio.DecodeWAV(valid[:20])
	require.Error(t, err)
}
