package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/plugin"
)

// listCmd represents the list command.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered plugins",
	Long:  `Discover plugins from the configured search paths and list them with their metadata and dependency-resolved load order.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Disable logging for CLI commands.
		log.Logger = log.Logger.Level(zerolog.Disabled)

		mgr := plugin.NewManager(managerConfig())
		if err := mgr.Discover(); err != nil {
			return err
		}
		reg := mgr.Registry()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tVersion\tState\tOrder\tOrigin\tDescription")
		fmt.Fprintln(w, "--\t-------\t-----\t-----\t------\t-----------")

		for _, info := range reg.All() {
			order := "-"
			if info.LoadOrder >= 0 {
				order = fmt.Sprintf("%d", info.LoadOrder)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				info.Metadata.ID,
				info.Metadata.Version,
				info.State,
				order,
				info.Origin,
				info.Metadata.Description)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
