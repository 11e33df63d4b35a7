package audio

// Resample stretches or compresses samples by rate using linear
// interpolation. rate 2.0 halves the duration. Values at or below zero and
// exactly 1.0 return the input unchanged.
func Resample(samples []float32, rate float64) []float32 {
	if rate <= 0 || rate == 1.0 || len(samples) < 2 {
		return samples
	}

	outLen := int(float64(len(samples)) / rate)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float32, outLen)

	for i := range out {
		pos := float64(i) * rate
		idx := int(pos)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]

			continue
		}

		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return out
}
