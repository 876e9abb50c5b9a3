package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sepscribe/pipeline"
)

const defaultInput = "new/1.wav"

var runCmd = &cobra.Command{
	Use:   "run [file.wav]",
	Short: "Separate and transcribe one file",
	Long: `Separate and transcribe one two-speaker WAV file.

Transcripts are printed to stdout, one line per speaker. Progress goes to
stderr.

Examples:
  sepscribe run
  sepscribe run meeting.wav`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultInput
		if len(args) == 1 {
			path = args[0]
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		status("loading models")
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		// Model calls outlive their caller's context; an interrupt has to
		// cancel them through the pipeline.
		context.AfterFunc(ctx, a.pipe.Close)

		status("processing %s", path)
		res, err := a.svc.Transcribe(ctx, "", filepath.Base(path), f)
		if err != nil {
			return err
		}
		status("done in %s (%s of audio)", res.Elapsed.Round(time.Millisecond), res.AudioDuration.Round(time.Millisecond))
		return printResult(cmd.OutOrStdout(), res)
	},
}

func printResult(w io.Writer, res pipeline.Result) error {
	for _, t := range res.Speakers {
		if _, err := fmt.Fprintf(w, "%s: %s\n", t.Speaker, t.Text); err != nil {
			return err
		}
	}
	return nil
}
