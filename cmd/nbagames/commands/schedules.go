package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(schedulesCmd)
}

var schedulesCmd = &cobra.Command{
	Use:   "schedules [season]",
	Short: "Discovers and caches the monthly schedule pages of every season.",
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

		return p.frontier.CrawlSchedules(cmd.Context(), seasons)
	},
}
