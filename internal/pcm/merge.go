package pcm

import (
	"errors"
	"fmt"

	"github.com/tphakala/simd/f32"
)

// ErrLengthMismatch is returned when left and right channel buffers differ in length.
var ErrLengthMismatch = errors.New("channel length mismatch")

// Merge concatenates blocks in arrival order into one contiguous buffer.
// The result is empty, never nil, when there is nothing to merge.
func Merge(blocks [][]float32) []float32 {
	total := 0
	for _, b := range blocks {
		total += len(b)
	}

	data := make([]float32, total)
	offset := 0
	for _, b := range blocks {
		offset += copy(data[offset:], b)
	}
	return data
}

// Interleave reorders two channel buffers into L,R,L,R frame order.
func Interleave(left, right []float32) ([]float32, error) {
	if len(left) != len(right) {
		return nil, fmt.Errorf("%w: left=%d right=%d", ErrLengthMismatch, len(left), len(right))
	}

	data := make([]float32, len(left)+len(right))
	if len(left) == 0 {
		return data, nil
	}
	f32.Interleave2(data, left, right)
	return data, nil
}
