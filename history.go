package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"sepscribe/speeches"
)

const excerptWidth = 40

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Long: `List recent runs from the history database (history.path or
SEPSCRIBE_HISTORY_DB), newest first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Path == "" {
			return errors.New("history is disabled: set history.path or SEPSCRIBE_HISTORY_DB")
		}
		db, err := initDB(cfg.History.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := speeches.NewSQLiteRepo(db).ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return printHistoryJSON(cmd.OutOrStdout(), runs)
		}
		return printHistory(cmd.OutOrStdout(), runs)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print runs as a JSON array")
}

func printHistoryJSON(w io.Writer, runs []speeches.Run) error {
	if runs == nil {
		runs = []speeches.Run{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}

func printHistory(w io.Writer, runs []speeches.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, statusStyle.Render("no runs recorded"))
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primary)).
		Headers("CREATED", "NAME", "STATUS", "AUDIO", "ELAPSED", "SPEAKER1", "SPEAKER2").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, r := range runs {
		var texts [2]string
		for i, tr := range r.Transcripts {
			if i < len(texts) {
				texts[i] = excerpt(tr.Text)
			}
		}
		st := string(r.Status)
		if r.Status == speeches.StatusFailed {
			st = errorStyle.Render(st)
			texts[0] = excerpt(r.Error)
		}
		t.Row(
			r.CreatedAt.Local().Format(time.DateTime),
			r.Name,
			st,
			r.AudioSeconds.StringFixed(2)+"s",
			r.Elapsed.Round(time.Millisecond).String(),
			texts[0],
			texts[1],
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= excerptWidth {
		return s
	}
	return string(r[:excerptWidth-1]) + "…"
}
