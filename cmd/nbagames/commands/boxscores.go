package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(boxScoresCmd)
}

var boxScoresCmd = &cobra.Command{
	Use:   "boxscores [season]",
	Short: "Caches the box scores linked from every cached schedule.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seasons, err := seasonsFromArgs(cfg, args)
		if err != nil {
			return err
		}
		p, err := openPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		return p.frontier.CrawlGames(cmd.Context(), seasons)
	},
}
