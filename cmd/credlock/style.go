package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// stderr renders styles for the terminal attached to stderr, dropping
// colour when it is redirected.
var stderr = lipgloss.NewRenderer(os.Stderr)

func successStyle() lipgloss.Style {
	return stderr.NewStyle().Foreground(lipgloss.Color("2"))
}

func errorStyle() lipgloss.Style {
	return stderr.NewStyle().Foreground(lipgloss.Color("1"))
}

// printSuccess writes a confirmation to stderr so stdout stays clean for
// the credential process.
func printSuccess(msg string) {
	fmt.Fprintln(os.Stderr, successStyle().Render("✔ "+msg))
}
