// Package pcm holds the sample-level building blocks of a capture session:
// block merging, stereo interleaving, linear-interpolation resampling,
// float to integer quantizing and WAV container encoding.
package pcm
