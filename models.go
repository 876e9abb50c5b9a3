package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sepscribe/config"
	"sepscribe/openaistt"
	"sepscribe/pipeline"
	"sepscribe/sepformer"
	"sepscribe/speeches"
	"sepscribe/whisper"
)

// app is everything a command loads: the resident models, the pipeline over
// them and the optional history database.
type app struct {
	svc     speeches.Service
	pipe    *pipeline.Pipeline
	closers []io.Closer
	log     *slog.Logger
}

// newApp loads both models once and opens the history database when one is
// configured. ctx bounds model loading.
func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{log: log}
	p, err := a.loadPipeline(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipe = p

	if cfg.History.Path == "" {
		a.svc = speeches.NewService(p, nil, log)
		return a, nil
	}
	db, err := initDB(cfg.History.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, db)
	a.svc = speeches.NewService(p, speeches.NewSQLiteRepo(db), log)
	return a, nil
}

// Close cancels in-flight runs and waits for them, then stops the helpers
// and closes the database.
func (a *app) Close() {
	if a.pipe != nil {
		a.pipe.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("closing", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) loadPipeline(ctx context.Context, cfg config.Config) (*pipeline.Pipeline, error) {
	sep, err := sepformer.Load(ctx, sepformer.Config{
		Python:    cfg.Separation.Python,
		Source:    cfg.Separation.Source,
		SaveDir:   cfg.Separation.SaveDir,
		HelperDir: cfg.HelperDir,
		Device:    cfg.Separation.Device,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("loading separation model: %w", err)
	}
	a.closers = append(a.closers, sep)

	tr, err := loadTranscriber(ctx, cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("loading transcription model: %w", err)
	}
	if c, ok := tr.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	return pipeline.New(pipelineConfig(cfg),
		pipeline.LimitSeparator(sep, cfg.Separation.MaxConcurrency),
		pipeline.LimitTranscriber(tr, cfg.Transcription.MaxConcurrency),
		a.log)
}

// sweepStale removes scratch left behind by a previous process. Anything
// older than the longest a run can take is not in use by this one.
func (a *app) sweepStale(cfg config.Config) {
	n, err := a.pipe.SweepStale(staleAfter(cfg))
	if err != nil {
		a.log.Warn("sweeping stale scratch", "error", err)
	}
	if n > 0 {
		a.log.Info("removed stale scratch", "dirs", n)
	}
}

func staleAfter(cfg config.Config) time.Duration {
	d := cfg.Separation.Timeout.Duration + 2*cfg.Transcription.Timeout.Duration
	if d <= 0 {
		return time.Hour
	}
	return d
}

func loadTranscriber(ctx context.Context, cfg config.Config, log *slog.Logger) (pipeline.Transcriber, error) {
	c := cfg.Transcription
	switch c.Backend {
	case config.BackendOpenAI:
		return openaistt.New(openaistt.Config{
			APIKey:  c.OpenAI.APIKey,
			BaseURL: c.OpenAI.BaseURL,
			Model:   c.OpenAI.Model,
		}, log)
	default:
		return whisper.Load(ctx, whisper.Config{
			Python:    c.Python,
			Model:     c.Model,
			Device:    c.Device,
			HelperDir: cfg.HelperDir,
		}, log)
	}
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		TempDir:               cfg.TempDir,
		Language:              cfg.Language,
		SeparationTimeout:     cfg.Separation.Timeout.Duration,
		TranscriptionTimeout:  cfg.Transcription.Timeout.Duration,
		ParallelTranscription: cfg.Transcription.Parallel,
	}
}
