// Package audio holds the in-memory waveform type shared by every pipeline
// stage, its WAV codec, and the channel/rate normalization each model needs.
package audio

import (
	"errors"
	"time"
)

// ErrUnsupportedFormat is returned when input bytes cannot be decoded as audio.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Waveform is planar floating point audio: Channels[c][i] is sample i of
// channel c, nominally in [-1, 1]. All channels have the same length.
type Waveform struct {
	SampleRate int
	Channels   [][]float64
}

// Mono wraps a single channel of samples.
func Mono(sampleRate int, samples []float64) Waveform {
	return Waveform{SampleRate: sampleRate, Channels: [][]float64{samples}}
}

// Silence returns channels x frames of zeros.
func Silence(sampleRate, channels, frames int) Waveform {
	w := Waveform{SampleRate: sampleRate, Channels: make([][]float64, channels)}
	for c := range w.Channels {
		w.Channels[c] = make([]float64, frames)
	}
	return w
}

func (w Waveform) NumChannels() int {
	return len(w.Channels)
}

// Len is the number of frames (samples per channel).
func (w Waveform) Len() int {
	if len(w.Channels) == 0 {
		return 0
	}
	return len(w.Channels[0])
}

func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(w.Len()) * time.Second / time.Duration(w.SampleRate)
}

// Samples returns the first channel. Callers use it on normalized (mono) audio.
func (w Waveform) Samples() []float64 {
	if len(w.Channels) == 0 {
		return nil
	}
	return w.Channels[0]
}

// Is reports whether w already has the given channel count and rate.
func (w Waveform) Is(channels, sampleRate int) bool {
	return w.NumChannels() == channels && w.SampleRate == sampleRate
}
