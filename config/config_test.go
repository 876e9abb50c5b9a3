package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sepscribe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8000" || cfg.Language != "en" || cfg.Transcription.Model != "large-v3" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Separation.Timeout.Duration != 10*time.Minute {
		t.Fatalf("separation timeout = %v", cfg.Separation.Timeout)
	}
	if cfg.HelperDir != "pretrained_models/.sepscribe" || cfg.Transcription.Python != "python3" {
		t.Fatalf("helper defaults: dir %q, python %q", cfg.HelperDir, cfg.Transcription.Python)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
addr: ":9090"
language: de
helper_dir: /opt/sepscribe/helpers
separation:
  timeout: 90s
  max_concurrency: 2
transcription:
  model: medium
  timeout: 2m
  parallel: true
history:
  path: runs.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Language != "de" || cfg.HelperDir != "/opt/sepscribe/helpers" {
		t.Fatalf("top level = %+v", cfg)
	}
	if cfg.Separation.Timeout.Duration != 90*time.Second || cfg.Separation.MaxConcurrency != 2 {
		t.Fatalf("separation = %+v", cfg.Separation)
	}
	if cfg.Transcription.Model != "medium" || cfg.Transcription.Timeout.Duration != 2*time.Minute || !cfg.Transcription.Parallel {
		t.Fatalf("transcription = %+v", cfg.Transcription)
	}
	if cfg.Separation.Source != "speechbrain/sepformer-wham" {
		t.Fatalf("unset field lost its default: %q", cfg.Separation.Source)
	}
	if cfg.History.Path != "runs.db" {
		t.Fatalf("history = %+v", cfg.History)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "addr: \":9090\"\n")
	t.Setenv("SEPSCRIBE_ADDR", ":7000")
	t.Setenv("SEPSCRIBE_TRANSCRIBER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.Transcription.Backend != BackendOpenAI || cfg.Transcription.OpenAI.APIKey != "sk-test" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SEPSCRIBE_LANGUAGE=fr\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SEPSCRIBE_LANGUAGE") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Language != "fr" {
		t.Fatalf("language = %q, want fr from .env", cfg.Language)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Transcription.Backend = "vosk" }, "invalid transcription backend"},
		{"openai without key", func(c *Config) { c.Transcription.Backend = BackendOpenAI }, "api key"},
		{"no language", func(c *Config) { c.Language = "" }, "language"},
		{"zero concurrency", func(c *Config) { c.Separation.MaxConcurrency = 0 }, "max_concurrency"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestBadDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "separation:\n  timeout: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}
