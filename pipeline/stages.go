package pipeline

import (
	"context"
	"fmt"

	"sepscribe/audio"
)

// Pair is the two separated streams in model output order.
type Pair [NumSpeakers]audio.Waveform

// SeparationStage runs the separation capability and slices its estimate
// into independent mono streams.
type SeparationStage struct {
	sep Separator
}

func NewSeparationStage(sep Separator) SeparationStage {
	return SeparationStage{sep: sep}
}

// Separate expects clip to be mono at SeparationRate already.
func (s SeparationStage) Separate(ctx context.Context, clip Clip) (Pair, error) {
	if !clip.Audio.Is(1, SeparationRate) {
		return Pair{}, fmt.Errorf("input is %d channels at %d Hz, want mono at %d Hz",
			clip.Audio.NumChannels(), clip.Audio.SampleRate, SeparationRate)
	}

	est, err := s.sep.Separate(ctx, clip)
	if err != nil {
		return Pair{}, err
	}
	if err := est.validate(); err != nil {
		return Pair{}, fmt.Errorf("malformed model output: %w", err)
	}

	frames := est.Shape[1]
	var p Pair
	for src := range p {
		samples := make([]float64, frames)
		for t := range samples {
			samples[t] = float64(est.At(0, t, src))
		}
		p[src] = audio.Mono(SeparationRate, samples)
	}
	return p, nil
}

// TranscriptionStage runs the transcription capability on one stream.
type TranscriptionStage struct {
	tr Transcriber
}

func NewTranscriptionStage(tr Transcriber) TranscriptionStage {
	return TranscriptionStage{tr: tr}
}

// Transcribe expects clip to be mono at TranscriptionRate already. An empty
// string is a valid transcript.
func (s TranscriptionStage) Transcribe(ctx context.Context, clip Clip, language string) (string, error) {
	if !clip.Audio.Is(1, TranscriptionRate) {
		return "", fmt.Errorf("input is %d channels at %d Hz, want mono at %d Hz",
			clip.Audio.NumChannels(), clip.Audio.SampleRate, TranscriptionRate)
	}
	return s.tr.Transcribe(ctx, clip, language)
}
