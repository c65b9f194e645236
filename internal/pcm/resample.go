package pcm

import "math"

// Resample converts input taken at sourceRate into an equivalent sequence at
// targetRate using linear interpolation. The first and last input samples are
// always carried over unchanged.
func Resample(input []float32, targetRate, sourceRate int) []float32 {
	if targetRate == sourceRate || targetRate <= 0 || sourceRate <= 0 {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	outLen := int(math.Round(float64(len(input)) * float64(targetRate) / float64(sourceRate)))
	if len(input) == 0 || outLen <= 0 {
		return []float32{}
	}

	out := make([]float32, outLen)
	last := len(input) - 1
	if outLen == 1 {
		// Both endpoints land on the same slot; the trailing one wins.
		out[0] = input[last]
		return out
	}

	step := float64(last) / float64(outLen-1)
	out[0] = input[0]
	for i := 1; i < outLen-1; i++ {
		pos := float64(i) * step
		before := int(math.Floor(pos))
		after := int(math.Ceil(pos))
		weight := pos - float64(before)
		out[i] = lerp(input[before], input[after], weight)
	}
	out[outLen-1] = input[last]

	return out
}

func lerp(before, after float32, at float64) float32 {
	return float32(float64(before) + (float64(after)-float64(before))*at)
}
