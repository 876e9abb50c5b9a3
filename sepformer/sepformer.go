// Package sepformer implements pipeline.Separator with a pretrained
// SpeechBrain SepFormer model kept resident in a helper process.
package sepformer

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"sepscribe/pipeline"
	"sepscribe/pyworker"
)

//go:embed assets/separate.py
var helperScript []byte

const (
	estimateFile = "estimate.f32"
	scriptName   = "separate.py"
)

type (
	Config struct {
		// Python is the interpreter with speechbrain installed.
		Python string
		// Source is the pretrained model to fetch, e.g. speechbrain/sepformer-wham.
		Source string
		// SaveDir caches the downloaded model.
		SaveDir string
		// HelperDir receives the helper script.
		HelperDir string
		// Device is cpu, cuda or auto.
		Device string
	}

	request struct {
		Input  string `json:"input"`
		Output string `json:"output"`
	}

	response struct {
		Shape []int `json:"shape"`
	}
)

// Separator holds one loaded model. Calls are serialized by the helper.
type Separator struct {
	w   *pyworker.Worker
	log *slog.Logger
}

var _ pipeline.Separator = (*Separator)(nil)

// Load starts the helper and blocks until the model is in memory. ctx bounds
// the load, which may include a first download.
func Load(ctx context.Context, cfg Config, log *slog.Logger) (*Separator, error) {
	if cfg.Source == "" || cfg.SaveDir == "" {
		return nil, errors.New("loading sepformer: source and savedir are required")
	}
	if cfg.HelperDir == "" {
		cfg.HelperDir = filepath.Join(filepath.Dir(filepath.Clean(cfg.SaveDir)), ".sepscribe")
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
		return nil, fmt.Errorf("loading sepformer: creating savedir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sepformer")

	w, err := pyworker.Start(ctx, pyworker.Config{
		Name:       "sepformer",
		Python:     cfg.Python,
		Script:     helperScript,
		ScriptPath: filepath.Join(cfg.HelperDir, scriptName),
		Args:       []string{"--source", cfg.Source, "--savedir", cfg.SaveDir, "--device", cfg.Device},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("loading sepformer: %w", err)
	}
	log.Info("sepformer ready", "source", cfg.Source, "savedir", cfg.SaveDir, "device", cfg.Device)
	return &Separator{w: w, log: log}, nil
}

func (s *Separator) Separate(ctx context.Context, clip pipeline.Clip) (pipeline.Estimate, error) {
	out := filepath.Join(filepath.Dir(clip.Path), estimateFile)
	var resp response
	if err := s.w.Call(ctx, request{Input: clip.Path, Output: out}, &resp); err != nil {
		return pipeline.Estimate{}, fmt.Errorf("sepformer: %w", err)
	}

	f, err := os.Open(out)
	if err != nil {
		return pipeline.Estimate{}, fmt.Errorf("sepformer: opening estimate: %w", err)
	}
	defer f.Close()
	return readEstimate(bufio.NewReader(f), resp.Shape)
}

// Close stops the helper process.
func (s *Separator) Close() error {
	return s.w.Close()
}

// readEstimate reads exactly prod(shape) little-endian float32 values.
func readEstimate(r io.Reader, shape []int) (pipeline.Estimate, error) {
	if len(shape) == 0 {
		return pipeline.Estimate{}, errors.New("sepformer: estimate has no shape")
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return pipeline.Estimate{}, fmt.Errorf("sepformer: bad shape %v", shape)
		}
		n *= d
	}

	data := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return pipeline.Estimate{}, fmt.Errorf("sepformer: reading estimate %v: %w", shape, err)
	}
	var extra [1]byte
	if k, _ := r.Read(extra[:]); k > 0 {
		return pipeline.Estimate{}, fmt.Errorf("sepformer: estimate larger than shape %v", shape)
	}
	return pipeline.Estimate{Shape: shape, Data: data}, nil
}
