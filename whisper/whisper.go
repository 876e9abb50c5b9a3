// Package whisper implements pipeline.Transcriber with an openai-whisper
// model kept resident in a helper process.
package whisper

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"sepscribe/pipeline"
	"sepscribe/pyworker"
)

//go:embed assets/transcribe.py
var helperScript []byte

const scriptName = "transcribe.py"

type (
	Config struct {
		// Python is the interpreter with openai-whisper installed.
		Python string
		// Model is the checkpoint size, e.g. "large-v3".
		Model string
		// Device is cpu, cuda or auto.
		Device string
		// HelperDir receives the helper script.
		HelperDir string
	}

	request struct {
		Input    string `json:"input"`
		Language string `json:"language"`
	}

	transcribeResult struct {
		Text     string    `json:"text"`
		Language string    `json:"language"`
		Segments []segment `json:"segments"`
	}

	segment struct {
		Text  string          `json:"text"`
		Start decimal.Decimal `json:"start"`
		End   decimal.Decimal `json:"end"`
	}
)

// Transcriber holds one loaded model. Concurrent calls queue on the helper.
type Transcriber struct {
	w   *pyworker.Worker
	log *slog.Logger
}

var _ pipeline.Transcriber = (*Transcriber)(nil)

// Load resolves the compute device and starts the helper, returning once the
// model is in memory.
func Load(ctx context.Context, cfg Config, log *slog.Logger) (*Transcriber, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("loading whisper: model is required")
	}
	if cfg.HelperDir == "" {
		return nil, fmt.Errorf("loading whisper: helper dir is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "whisper")
	device := ResolveDevice(cfg.Device, exec.LookPath)

	w, err := pyworker.Start(ctx, pyworker.Config{
		Name:       "whisper",
		Python:     cfg.Python,
		Script:     helperScript,
		ScriptPath: filepath.Join(cfg.HelperDir, scriptName),
		Args:       []string{"--model", cfg.Model, "--device", device},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("loading whisper: %w", err)
	}
	log.Info("whisper ready", "model", cfg.Model, "device", device)
	return &Transcriber{w: w, log: log}, nil
}

// ResolveDevice maps "auto" (or "") to cuda when an NVIDIA driver is visible
// and cpu otherwise. Explicit values pass through.
func ResolveDevice(device string, lookPath func(string) (string, error)) string {
	switch strings.ToLower(device) {
	case "", "auto":
		if _, err := lookPath("nvidia-smi"); err == nil {
			return "cuda"
		}
		return "cpu"
	default:
		return strings.ToLower(device)
	}
}

func (w *Transcriber) Transcribe(ctx context.Context, clip pipeline.Clip, language string) (string, error) {
	var tr transcribeResult
	if err := w.w.Call(ctx, request{Input: clip.Path, Language: language}, &tr); err != nil {
		return "", fmt.Errorf("transcribing with whisper: %w", err)
	}
	w.log.Debug("whisper result", "language", tr.Language, "segments", len(tr.Segments), "speech_ms", speechMillis(tr.Segments))
	return strings.TrimSpace(tr.Text), nil
}

// Close stops the helper process.
func (w *Transcriber) Close() error {
	return w.w.Close()
}

func speechMillis(segments []segment) int64 {
	total := decimal.Zero
	for _, s := range segments {
		total = total.Add(s.End.Sub(s.Start))
	}
	return total.Mul(decimal.NewFromInt(1000)).IntPart()
}
