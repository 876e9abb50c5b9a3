// Package pipeline turns a two-speaker mixed recording into one transcript per
// speaker: normalize, separate, then normalize and transcribe each stream.
//
// The heavy lifting is delegated to two capabilities, a Separator and a
// Transcriber, which are loaded once at startup and shared read-only by every
// request. The package owns what happens around them: format conversion,
// shape checks on model output, per-request scratch storage and its cleanup,
// stage timeouts and error classification.
package pipeline

import (
	"context"
	"fmt"

	"sepscribe/audio"
)

// Sample rates the models expect.
const (
	SeparationRate    = 8000
	TranscriptionRate = 16000
)

// NumSpeakers is fixed by the separation model.
const NumSpeakers = 2

type (
	// Clip is normalized audio handed to a capability. Path is a WAV copy of
	// Audio inside the request's scratch directory; adapters that shell out or
	// upload use it, in-process adapters use Audio. Adapters may write their
	// own artifacts next to Path; they are removed with the directory.
	Clip struct {
		Audio audio.Waveform
		Path  string
	}

	// Estimate is the separation model output, a row-major [batch, time,
	// sources] tensor.
	Estimate struct {
		Shape []int
		Data  []float32
	}

	// Separator splits a mono SeparationRate clip into source estimates.
	Separator interface {
		Separate(ctx context.Context, clip Clip) (Estimate, error)
	}

	// Transcriber turns a mono TranscriptionRate clip into text. language
	// pins the model's language instead of letting it detect one.
	Transcriber interface {
		Transcribe(ctx context.Context, clip Clip, language string) (string, error)
	}
)

// At returns element [b, t, s]. The shape must be three dimensional.
func (e Estimate) At(b, t, s int) float32 {
	return e.Data[(b*e.Shape[1]+t)*e.Shape[2]+s]
}

func (e Estimate) validate() error {
	if len(e.Shape) != 3 {
		return fmt.Errorf("estimate has %d dimensions, want 3", len(e.Shape))
	}
	if e.Shape[0] != 1 || e.Shape[1] < 0 || e.Shape[2] != NumSpeakers {
		return fmt.Errorf("estimate shape %v, want [1 T %d]", e.Shape, NumSpeakers)
	}
	if n := e.Shape[0] * e.Shape[1] * e.Shape[2]; len(e.Data) != n {
		return fmt.Errorf("estimate has %d values, shape %v needs %d", len(e.Data), e.Shape, n)
	}
	return nil
}
