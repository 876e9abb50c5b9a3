// Package openaistt implements pipeline.Transcriber against the OpenAI audio
// transcription API, or any server speaking the same protocol.
package openaistt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"sepscribe/pipeline"
)

const DefaultModel = "whisper-1"

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

type Transcriber struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

var _ pipeline.Transcriber = (*Transcriber)(nil)

func New(cfg Config, log *slog.Logger) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai transcriber: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Transcriber{
		client: &client,
		model:  cfg.Model,
		log:    log.With("component", "openaistt"),
	}, nil
}

// Transcribe uploads the clip's WAV file.
func (o *Transcriber) Transcribe(ctx context.Context, clip pipeline.Clip, language string) (string, error) {
	f, err := os.Open(clip.Path)
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	defer f.Close()

	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(o.model),
		Language:       openai.String(language),
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	o.log.Debug("openai transcription", "model", o.model, "chars", len(resp.Text))
	return strings.TrimSpace(resp.Text), nil
}
