package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bindery/bindery/internal/config"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/logging"
	"github.com/bindery/bindery/internal/output"
	"github.com/bindery/bindery/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "bindery",
	Short: "Chaptered M4B audiobook pipeline",
	Long: `Bindery converts dropped audiobook sources into chaptered, tagged M4B
files and files them into a Plex-shaped library.

The pipeline includes:
  - Resumable per-book state with crash-safe manifests
  - Single-pass concat + AAC encode with embedded chapters
  - ASIN discovery and catalog metadata enrichment
  - NFS-safe library deployment and original archiving`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.bindery/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// A .env beside the binary is a convenience for manual runs; real
		// deployments export the variables directly.
		godotenv.Load()
		output.SetFormat(outputFormat)
	}

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the runtime config shared by the commands.
func loadConfig() (*config.Config, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return cm.Get(), nil
}

// setupLogging wires the shared structured logger and returns its closer.
func setupLogging(cfg *config.Config) (*slog.Logger, func() error, error) {
	return logging.Setup(cfg.LogLevel, cfg.Verbose, layout.New(cfg).LogPath())
}
