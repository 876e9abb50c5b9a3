package pipeline

import (
	"errors"
	"fmt"

	"sepscribe/audio"
)

var (
	ErrUnsupportedFormat   = audio.ErrUnsupportedFormat
	ErrSeparationFailed    = errors.New("separation failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrCleanup             = errors.New("cleanup failed")
)

// Stage names a pipeline step for error reporting.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageSeparate   Stage = "separate"
	StageTranscribe Stage = "transcribe"
)

func (s Stage) sentinel() error {
	switch s {
	case StageIngest:
		return ErrUnsupportedFormat
	case StageSeparate:
		return ErrSeparationFailed
	case StageTranscribe:
		return ErrTranscriptionFailed
	}
	return nil
}

// StageError records which stage failed, and for transcription which
// speaker stream. errors.Is matches it against the stage's sentinel.
type StageError struct {
	Stage   Stage
	Speaker string
	Err     error
}

func (e *StageError) Error() string {
	switch e.Stage {
	case StageIngest:
		return fmt.Sprintf("reading input: %v", e.Err)
	case StageSeparate:
		return fmt.Sprintf("%v: %v", ErrSeparationFailed, e.Err)
	case StageTranscribe:
		return fmt.Sprintf("%v for %s: %v", ErrTranscriptionFailed, e.Speaker, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool {
	s := e.Stage.sentinel()
	return s != nil && target == s
}

// FailedStage reports the stage err came from, or "" when err is not a
// stage failure.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
