// Command sepscribe splits a two-speaker recording into one stream per
// speaker and transcribes each stream.
//
// Usage:
//
//	sepscribe serve            # HTTP API, POST /transcribe
//	sepscribe run [file.wav]   # one file, transcripts on stdout
//	sepscribe history          # recent runs from the history database
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sepscribe/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "sepscribe",
	Short:         "Two-speaker separation and transcription",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "YAML config file (env SEPSCRIBE_CONFIG)")
	rootCmd.AddCommand(serveCmd, runCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SEPSCRIBE_CONFIG"); p != "" {
		return p
	}
	return "sepscribe.yaml"
}

// loadConfig reads the config and installs the process logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

func newLogger(c config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
