package commands

import (
	"context"
	"fmt"
	"strconv"

	"nbagames/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	verbose     bool
	dataDir     string
	output      string
	concurrency int
	retries     int
)

// populated by the root command's PersistentPreRunE
var cfg Config

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "nbagames.json5", "The config file, nbagames.local.json5 next to it overrides it.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log at debug level and dump http traffic to .dev/resty.")
	flags.StringVar(&dataDir, "data-dir", "", "Overrides data_dir, the directory holding the page caches.")
	flags.StringVar(&output, "output", "", "Overrides output, the csv the dataset is written to.")
	flags.IntVar(&concurrency, "concurrency", 0, "Overrides concurrency, the max in-flight requests.")
	flags.IntVar(&retries, "retries", 0, "Overrides max_retries, the attempts per url.")
}

var rootCmd = &cobra.Command{
	Use:   "nbagames [season]",
	Short: "nbagames crawls basketball-reference box scores and builds a per-team game dataset.",
	Long: `nbagames caches the schedules and box scores of every configured season
and then turns the cached box scores into nba_games.csv.

Passing a season (the year it ends in, 2016 = 2015-16) restricts the crawl
to that season, the dataset is always built from the whole cache.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		loaded, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &loaded)
		err = loaded.Validate()
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		return nil
	},
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

		err = p.frontier.Crawl(cmd.Context(), seasons)
		if err != nil {
			return err
		}
		return p.buildDataset(cmd.Context())
	},
}

func applyFlags(cmd *cobra.Command, c *Config) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		c.DataDir = dataDir
	}
	if flags.Changed("output") {
		c.Output = output
	}
	if flags.Changed("concurrency") {
		c.Concurrency = concurrency
	}
	if flags.Changed("retries") {
		c.MaxRetries = retries
	}
}

// seasonsFromArgs returns the season named by an optional positional
// argument, or every configured season.
func seasonsFromArgs(c Config, args []string) ([]int, error) {
	if len(args) == 0 {
		return c.SeasonList(), nil
	}
	season, err := strconv.Atoi(args[0])
	if err != nil || season < 1947 {
		return nil, fmt.Errorf("invalid season %q, expected the year a season ends in", args[0])
	}
	return []int{season}, nil
}

// ExecuteContext runs the cli, errors reaching this point are fatal.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
