package cli

import (
	"github.com/spf13/cobra"

	"liqwatcher/internal/app"
)

var discoverDryRun bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Seed monitored accounts from the indexer",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.DiscoverOptions{
			DryRun: discoverDryRun,
		}
		return getApp().Discover(cmd.Context(), opts)
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "Fetch accounts without writing to storage")
}
