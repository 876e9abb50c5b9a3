package speeches

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sepscribe/b3"
	"sepscribe/pipeline"
)

type (
	repo interface {
		InsertRun(ctx context.Context, run Run) error
		ListRuns(ctx context.Context, limit int) ([]Run, error)
	}

	runner interface {
		Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
	}

	// Service runs uploads through the pipeline and keeps a history of them
	// when a repo is configured.
	Service struct {
		p   runner
		r   repo
		log *slog.Logger
		now func() time.Time
	}
)

// ErrNoHistory is returned by History when no repo is configured.
var ErrNoHistory = errors.New("run history is disabled")

// NewService wires the pipeline with an optional history repo (nil disables
// history).
func NewService(p runner, r repo, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return Service{p: p, r: r, log: log.With("component", "speeches"), now: time.Now}
}

// Transcribe hashes audio, runs the pipeline on it and records the outcome.
// reqID may be empty or repeat an earlier one; each run gets its own id.
func (s Service) Transcribe(ctx context.Context, reqID, name string, audio io.ReadSeeker) (pipeline.Result, error) {
	runID := uuid.NewString()
	if reqID == "" {
		reqID = runID
	}
	started := s.now()

	hash, err := b3.SumAndRewind(audio)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("start transcribe: %w", err)
	}
	s.log.Info("transcribe requested", "request_id", reqID, "run_id", runID, "name", name, "blake3_hash", hash)

	res, runErr := s.p.Run(ctx, pipeline.Input{ID: reqID, Name: name, Audio: audio})

	run := Run{
		ID:         runID,
		RequestID:  reqID,
		Name:       name,
		Blake3Hash: hash,
		Status:     StatusCompleted,
		Elapsed:    s.now().Sub(started),
		CreatedAt:  started,
	}
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
		s.log.Error("processing failed", "request_id", reqID, "run_id", runID, "stage", pipeline.FailedStage(runErr), "error", runErr)
	} else {
		run.AudioSeconds = seconds(res.AudioDuration)
		run.Transcripts = res.Speakers[:]
	}
	s.record(ctx, run)

	if runErr != nil {
		return pipeline.Result{}, runErr
	}
	return res, nil
}

// History lists the latest runs, newest first.
func (s Service) History(ctx context.Context, limit int) ([]Run, error) {
	if s.r == nil {
		return nil, ErrNoHistory
	}
	return s.r.ListRuns(ctx, limit)
}

func (s Service) record(ctx context.Context, run Run) {
	if s.r == nil {
		return
	}
	if err := s.r.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		s.log.Warn("recording run", "run_id", run.ID, "request_id", run.RequestID, "error", err)
	}
}
