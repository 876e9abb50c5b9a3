package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")

	statusStyle = lipgloss.NewStyle().Foreground(dim)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// status prints a dim progress line to stderr so stdout only carries
// transcripts.
func status(format string, args ...any) {
	fmt.Fprintln(os.Stderr, statusStyle.Render(fmt.Sprintf(format, args...)))
}
