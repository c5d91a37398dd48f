package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/plugin"
)

// checkCmd represents the check command.
var checkCmd = &cobra.Command{
	Use:   "check <plugin-dir|manifest>",
	Short: "Validate a plugin",
	Long:  `Load and validate a plugin directory or manifest file (plugin.json, plugin.yaml or plugin.yml), reporting any problems.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Disable logging for CLI commands.
		log.Logger = log.Logger.Level(zerolog.Disabled)

		load := plugin.LoadManifest
		if st, err := os.Stat(args[0]); err == nil && st.IsDir() {
			load = plugin.LoadManifestFromDir
		}
		m, err := load(args[0])
		if err != nil {
			return fmt.Errorf("manifest invalid: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "OK: %s v%s\n", m.ID, m.Version)
		if len(m.Dependencies) > 0 {
			fmt.Fprintln(out, "dependencies:")
			for _, spec := range m.Dependencies {
				dep, _ := plugin.ParseDependency(spec)
				kind := "required"
				if dep.Optional {
					kind = "optional"
				}
				rng := dep.Range
				if rng == "" {
					rng = "any"
				}
				fmt.Fprintf(out, "  %s (%s, %s)\n", dep.ID, rng, kind)
			}
		}
		if len(m.Permissions) > 0 {
			fmt.Fprintln(out, "permissions:")
			for _, p := range m.Permissions {
				fmt.Fprintf(out, "  %s:%s:%s\n", p.Category, p.Scope, p.Resource)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
