package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sepscribe/audio"
)

type (
	Config struct {
		// TempDir is the root for per-request scratch directories.
		TempDir  string
		Language string

		SeparationTimeout    time.Duration
		TranscriptionTimeout time.Duration

		// ParallelTranscription transcribes both streams concurrently.
		ParallelTranscription bool
	}

	// Input is one mixed recording. ID names the scratch directory and log
	// lines; a random one is generated when empty.
	Input struct {
		ID    string
		Name  string
		Audio io.ReadSeeker
	}

	Pipeline struct {
		cfg        Config
		separation SeparationStage
		transcribe TranscriptionStage
		log        *slog.Logger

		// life bounds every model call; Close cancels it.
		life     context.Context
		stop     context.CancelFunc
		mu       sync.RWMutex
		closed   bool
		inflight sync.WaitGroup
	}
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("pipeline closed")

func New(cfg Config, sep Separator, tr Transcriber, log *slog.Logger) (*Pipeline, error) {
	if sep == nil || tr == nil {
		return nil, errors.New("new pipeline: separator and transcriber are required")
	}
	if cfg.Language == "" {
		return nil, errors.New("new pipeline: language is required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "sepscribe")
	}
	if log == nil {
		log = slog.Default()
	}
	life, stop := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:        cfg,
		separation: NewSeparationStage(sep),
		transcribe: NewTranscriptionStage(tr),
		log:        log.With("component", "pipeline"),
		life:       life,
		stop:       stop,
	}, nil
}

// Close aborts model calls still in flight and waits for their runs to
// unwind, scratch cleanup included. Run fails with ErrClosed afterwards.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.stop()
	p.mu.Unlock()
	p.inflight.Wait()
}

func (p *Pipeline) enter() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

// SweepStale removes scratch directories older than olderThan that a
// previous process left behind, and reports how many it removed.
func (p *Pipeline) SweepStale(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(p.cfg.TempDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweeping %s: %w", p.cfg.TempDir, err)
	}
	cutoff := time.Now().Add(-olderThan)
	var n int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), scratchPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(p.cfg.TempDir, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn("removing stale scratch dir", "dir", dir, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Run processes in start to finish. Any stage failure aborts the run; there
// are no partial results. The scratch directory is removed on every path and
// a failure to remove it is only logged.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	if !p.enter() {
		return Result{}, ErrClosed
	}
	defer p.inflight.Done()

	start := time.Now()
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := p.log.With("request_id", id)

	sc, err := newScratch(p.cfg.TempDir, id)
	if err != nil {
		return Result{}, fmt.Errorf("run %s: %w", id, err)
	}
	defer func() {
		if err := sc.remove(); err != nil {
			log.Warn("removing scratch dir", "dir", sc.dir, "error", err)
		}
	}()

	log.Info("loading audio", "name", in.Name)
	wf, err := audio.Decode(in.Audio)
	if err != nil {
		return Result{}, &StageError{Stage: StageIngest, Err: err}
	}
	log.Info("audio loaded", "channels", wf.NumChannels(), "sample_rate", wf.SampleRate, "frames", wf.Len())

	mix, err := audio.Normalize(wf, SeparationRate)
	if err != nil {
		return Result{}, &StageError{Stage: StageIngest, Err: err}
	}
	log.Debug("audio normalized for separation", "frames", mix.Len(), "sample_rate", mix.SampleRate)

	pair, err := p.separate(ctx, log, sc, mix)
	if err != nil {
		return Result{}, err
	}

	texts, err := p.transcribeAll(ctx, log, sc, pair)
	if err != nil {
		return Result{}, err
	}

	res := newResult(texts)
	res.AudioDuration = wf.Duration()
	res.Elapsed = time.Since(start)
	log.Info("run completed", "elapsed", res.Elapsed, "audio_duration", res.AudioDuration)
	return res, nil
}

func (p *Pipeline) separate(ctx context.Context, log *slog.Logger, sc *scratch, mix audio.Waveform) (Pair, error) {
	fail := func(err error) (Pair, error) {
		return Pair{}, &StageError{Stage: StageSeparate, Err: err}
	}
	if err := p.interrupted(ctx); err != nil {
		return Pair{}, fmt.Errorf("canceled before separation: %w", err)
	}

	clip := Clip{Audio: mix, Path: sc.path("mix.wav")}
	if err := audio.EncodeFile(clip.Path, mix); err != nil {
		return fail(err)
	}

	log.Info("separating audio")
	start := time.Now()
	callCtx, cancel := p.detach(ctx, p.cfg.SeparationTimeout)
	defer cancel()
	pair, err := p.separation.Separate(callCtx, clip)
	if err != nil {
		return fail(p.closing(err))
	}
	log.Info("separation done", "elapsed", time.Since(start), "frames", pair[0].Len())

	for i, w := range pair {
		name := fmt.Sprintf("source%dhat.wav", i+1)
		if err := audio.EncodeFile(sc.path(name), w); err != nil {
			return fail(err)
		}
	}
	return pair, nil
}

func (p *Pipeline) transcribeAll(ctx context.Context, log *slog.Logger, sc *scratch, pair Pair) ([NumSpeakers]string, error) {
	var texts [NumSpeakers]string
	if !p.cfg.ParallelTranscription {
		for i := range pair {
			text, err := p.transcribeOne(ctx, log, sc, i, pair[i])
			if err != nil {
				return texts, err
			}
			texts[i] = text
		}
		return texts, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range pair {
		g.Go(func() error {
			text, err := p.transcribeOne(gctx, log, sc, i, pair[i])
			texts[i] = text
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return [NumSpeakers]string{}, err
	}
	return texts, nil
}

func (p *Pipeline) transcribeOne(ctx context.Context, log *slog.Logger, sc *scratch, i int, w audio.Waveform) (string, error) {
	speaker := SpeakerLabel(i)
	fail := func(err error) (string, error) {
		return "", &StageError{Stage: StageTranscribe, Speaker: speaker, Err: err}
	}
	if err := p.interrupted(ctx); err != nil {
		return "", fmt.Errorf("canceled before transcribing %s: %w", speaker, err)
	}

	log.Debug("separated stream", "speaker", speaker, "frames", w.Len(), "sample_rate", w.SampleRate)
	norm, err := audio.Normalize(w, TranscriptionRate)
	if err != nil {
		return fail(err)
	}
	clip := Clip{Audio: norm, Path: sc.path(fmt.Sprintf("speaker%d.wav", i+1))}
	if err := audio.EncodeFile(clip.Path, norm); err != nil {
		return fail(err)
	}

	log.Info("transcribing", "speaker", speaker)
	start := time.Now()
	callCtx, cancel := p.detach(ctx, p.cfg.TranscriptionTimeout)
	defer cancel()
	text, err := p.transcribe.Transcribe(callCtx, clip, p.cfg.Language)
	if err != nil {
		return fail(p.closing(err))
	}
	log.Info("transcription done", "speaker", speaker, "elapsed", time.Since(start), "chars", len(text))
	return text, nil
}

func (p *Pipeline) interrupted(ctx context.Context) error {
	if p.life.Err() != nil {
		return ErrClosed
	}
	return ctx.Err()
}

// closing marks a model call error as caused by Close when it was.
func (p *Pipeline) closing(err error) error {
	if p.life.Err() != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// detach returns a context for a model call. Caller cancellation is checked
// at stage boundaries only, so the call is bounded by the stage timeout and
// by Close.
func (p *Pipeline) detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(p.life, cancel)
	if timeout > 0 {
		tc, tcancel := context.WithTimeout(c, timeout)
		return tc, func() {
			tcancel()
			stop()
			cancel()
		}
	}
	return c, func() {
		stop()
		cancel()
	}
}
