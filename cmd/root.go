// Package cmd defines and implements the CLI commands for the crawld executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/geekcrawl/crawld/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawld",
		Short: "A course crawl orchestration service.",
		Long: `crawld manages long-running course crawl tasks: it persists them,
runs them one at a time through a FIFO queue, and exposes an HTTP API
with live progress streams for controlling and observing each crawl.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./crawld.yaml)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// loadConfig reads configuration from the --config flag path, falling back
// to defaults and CRAWLD_* environment variables when no file is given.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
