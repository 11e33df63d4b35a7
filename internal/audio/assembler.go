package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// Static errors for assembly failures.
var (
	ErrNoSegments         = errors.New("no audio segments to assemble")
	ErrSampleRateMismatch = errors.New("segments disagree on sample rate")
)

// dbfsFloor is the quietest level treated as signal; anything below is left
// untouched by normalization.
const dbfsFloor = -96.0

// Assembler concatenates chunk segments into chapter tracks with configured
// silence gaps, and level-normalizes the result.
type Assembler struct{}

// NewAssembler creates an Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Concatenate joins segments in order, inserting policy.BetweenChunks seconds
// of silence between adjacent segments and policy.LeadOut seconds at the end.
func (a *Assembler) Concatenate(
	segments []core.AudioSegment,
	policy core.SilencePolicy,
) (core.ChapterTrack, error) {
	if len(segments) == 0 {
		return core.ChapterTrack{}, ErrNoSegments
	}

	sampleRate := segments[0].SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	total := 0

	for _, segment := range segments {
		if segment.SampleRate != segments[0].SampleRate {
			return core.ChapterTrack{}, fmt.Errorf(
				"%w: %d vs %d",
				ErrSampleRateMismatch, segment.SampleRate, segments[0].SampleRate,
			)
		}

		total += len(segment.Samples)
	}

	gap := silenceSamples(policy.BetweenChunks, sampleRate)
	leadOut := silenceSamples(policy.LeadOut, sampleRate)
	total += gap*(len(segments)-1) + leadOut

	samples := make([]float32, 0, total)

	for i, segment := range segments {
		if i > 0 && gap > 0 {
			samples = append(samples, make([]float32, gap)...)
		}

		samples = append(samples, segment.Samples...)
	}

	if leadOut > 0 {
		samples = append(samples, make([]float32, leadOut)...)
	}

	return core.ChapterTrack{
		Samples:    samples,
		SampleRate: sampleRate,
	}, nil
}

// Normalize applies uniform gain so the track's RMS level lands on
// targetDBFS, then limits peaks to full scale. A non-negative target disables
// normalization, and near-silent tracks pass through unchanged.
func (a *Assembler) Normalize(track core.ChapterTrack, targetDBFS float64) core.ChapterTrack {
	if targetDBFS >= 0 || len(track.Samples) == 0 {
		return track
	}

	current := rmsDBFS(track.Samples)
	if current <= dbfsFloor {
		return track
	}

	gain := math.Pow(10, (targetDBFS-current)/20)

	peak := 0.0
	for _, sample := range track.Samples {
		if abs := math.Abs(float64(sample)); abs > peak {
			peak = abs
		}
	}

	// Never push a peak past full scale.
	if peak*gain > 1 {
		gain = 1 / peak
	}

	scaled := make([]float32, len(track.Samples))
	for i, sample := range track.Samples {
		scaled[i] = float32(float64(sample) * gain)
	}

	track.Samples = scaled

	return track
}

func silenceSamples(seconds float64, sampleRate int) int {
	if seconds <= 0 {
		return 0
	}

	return int(math.Round(seconds * float64(sampleRate)))
}

func rmsDBFS(samples []float32) float64 {
	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return dbfsFloor * 2
	}

	return 20 * math.Log10(rms)
}
