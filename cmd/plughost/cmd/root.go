// Package cmd provides the CLI commands for the plughost application.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/logging"
)

var (
	debug bool
	human bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "plughost",
	Short: "Plugin host runtime and utilities",
	Long: `A standalone plugin host: discovers plugins, resolves their
dependencies, and runs them through a sandboxed lifecycle with
permission checks and resource monitoring.`,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		cfg := config.Get()
		level := cfg.Log.Level
		if debug {
			level = "debug"
		}
		format := cfg.Log.Format
		if human {
			format = "human"
		}
		logging.Init(level, format)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&human, "human", false, "Enable human-readable logs")
}
