package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/navinbhat12/rewindify/internal/common/config"
)

var (
	configPath string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "rewindify",
	Short: "Session-scoped listening history service",
	Long: `rewindify ingests exported streaming history files into short-lived
anonymous sessions and serves daily and all-time listening statistics.

  rewindify serve                 # run the HTTP API and the session reaper
  rewindify load ./my_data        # ingest a directory of export files
  rewindify migrate up            # apply database migrations`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (default: configs/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(serveCmd, loadCmd, migrateCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}
