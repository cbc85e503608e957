package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(gamesCmd)
}

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "Builds the dataset from the cached box scores without fetching anything.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		return buildDataset(cmd.Context(), cfg, stores)
	},
}
