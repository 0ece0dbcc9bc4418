package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/benaskins/credlock/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	containerName string
	backendName   string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "credlock",
	Short: "Keep AWS credentials in the OS keychain and serve them as a credential process",
	Long: `credlock stores AWS access keys in a dedicated, auto-locking keychain and prints
them in the credential process format. Point a profile at it with:

  [profile prod]
  credential_process = credlock get prod`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		// stdout carries credentials; logs always go to stderr.
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	flags.StringVar(&containerName, "container", "", "Keychain name (overrides config)")
	flags.StringVar(&backendName, "backend", "", "Storage backend: auto, keychain, keyring, simple (overrides config)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle().Render("credlock: "+err.Error()))
		os.Exit(1)
	}
}
