// Package config loads service settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Duration accepts Go duration strings ("90s", "10m") in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

type (
	Config struct {
		Addr           string `yaml:"addr"`
		TempDir        string `yaml:"temp_dir"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
		Language       string `yaml:"language"`
		HelperDir      string `yaml:"helper_dir"`

		Log           Log           `yaml:"log"`
		Separation    Separation    `yaml:"separation"`
		Transcription Transcription `yaml:"transcription"`
		History       History       `yaml:"history"`
	}

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Separation struct {
		Python         string   `yaml:"python"`
		Source         string   `yaml:"source"`
		SaveDir        string   `yaml:"savedir"`
		Device         string   `yaml:"device"`
		Timeout        Duration `yaml:"timeout"`
		MaxConcurrency int      `yaml:"max_concurrency"`
	}

	Transcription struct {
		Backend        string   `yaml:"backend"`
		Model          string   `yaml:"model"`
		Device         string   `yaml:"device"`
		Python         string   `yaml:"python"`
		Timeout        Duration `yaml:"timeout"`
		MaxConcurrency int      `yaml:"max_concurrency"`
		Parallel       bool     `yaml:"parallel"`
		OpenAI         OpenAI   `yaml:"openai"`
	}

	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	}

	History struct {
		// Path of the SQLite database; empty disables history.
		Path string `yaml:"path"`
	}
)

const (
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
)

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:           ":8000",
		TempDir:        filepath.Join(os.TempDir(), "sepscribe"),
		MaxUploadBytes: 256 << 20,
		Language:       "en",
		HelperDir:      "pretrained_models/.sepscribe",
		Log:            Log{Level: "info", Format: "text"},
		Separation: Separation{
			Python:         "python3",
			Source:         "speechbrain/sepformer-wham",
			SaveDir:        "pretrained_models/sepformer-wham",
			Device:         "auto",
			Timeout:        Duration{10 * time.Minute},
			MaxConcurrency: 1,
		},
		Transcription: Transcription{
			Backend:        BackendWhisper,
			Model:          "large-v3",
			Device:         "auto",
			Python:         "python3",
			Timeout:        Duration{10 * time.Minute},
			MaxConcurrency: 1,
			OpenAI:         OpenAI{Model: "whisper-1"},
		},
	}
}

// Load reads path (skipped when empty or missing), then .env, then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addr = getEnv("SEPSCRIBE_ADDR", c.Addr)
	c.TempDir = getEnv("SEPSCRIBE_TEMP_DIR", c.TempDir)
	c.Language = getEnv("SEPSCRIBE_LANGUAGE", c.Language)
	c.HelperDir = getEnv("SEPSCRIBE_HELPER_DIR", c.HelperDir)
	c.Log.Level = getEnv("SEPSCRIBE_LOG_LEVEL", c.Log.Level)
	c.History.Path = getEnv("SEPSCRIBE_HISTORY_DB", c.History.Path)
	c.Transcription.Backend = getEnv("SEPSCRIBE_TRANSCRIBER", c.Transcription.Backend)
	c.Transcription.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.Transcription.OpenAI.APIKey)
	c.Transcription.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.Transcription.OpenAI.BaseURL)

	if v := getEnv("SEPSCRIBE_MAX_UPLOAD_BYTES", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SEPSCRIBE_MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

func (c Config) Validate() error {
	if c.Language == "" {
		return errors.New("language is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Separation.MaxConcurrency < 1 {
		return fmt.Errorf("separation.max_concurrency must be at least 1, got %d", c.Separation.MaxConcurrency)
	}
	if c.Transcription.MaxConcurrency < 1 {
		return fmt.Errorf("transcription.max_concurrency must be at least 1, got %d", c.Transcription.MaxConcurrency)
	}
	switch c.Transcription.Backend {
	case BackendWhisper:
	case BackendOpenAI:
		if c.Transcription.OpenAI.APIKey == "" {
			return errors.New("openai transcription backend requires an api key (OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("invalid transcription backend: %s (must be whisper or openai)", c.Transcription.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
