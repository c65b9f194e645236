package pcm

import (
	"encoding/binary"
	"math"
)

// Full-scale magnitudes of signed 16-bit PCM. Negative samples scale by the
// larger magnitude so -1.0 maps to math.MinInt16 exactly.
const (
	pcm16Negative = 32768
	pcm16Positive = 32767
)

func clamp(s float32) float32 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// Quantize16 converts float samples in [-1, 1] to signed 16-bit PCM.
// Out-of-range input is clamped and NaN maps to silence.
func Quantize16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = clamp(s)
		if s < 0 {
			out[i] = int16(math.Round(float64(s) * pcm16Negative))
		} else {
			out[i] = int16(math.Round(float64(s) * pcm16Positive))
		}
	}
	return out
}

// Float32Samples clamps samples for 32-bit IEEE float output.
func Float32Samples(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = clamp(s)
	}
	return out
}

// Int16Bytes serialises samples as little-endian 16-bit words.
func Int16Bytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Float32Bytes serialises samples as little-endian IEEE 754 words.
func Float32Bytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}
