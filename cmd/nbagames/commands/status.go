package commands

import (
	"fmt"
	"os"
	"time"

	"nbagames/lib/pagecache"
	"nbagames/lib/timezone"
	"nbagames/services/crawler"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var failureLimit int64

func init() {
	statusCmd.Flags().Int64Var(&failureLimit, "failures", 20, "The max number of unresolved failures to list.")
	rootCmd.AddCommand(statusCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints what is cached and how the latest crawl went.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}

		cached := newTable()
		cached.SetTitle("Cache (%s)", cfg.DataDir)
		cached.AppendHeader(table.Row{"Namespace", "Pages"})
		for _, ns := range []struct {
			name  string
			store *pagecache.Store
		}{
			{crawler.NamespaceSeasons, stores.Seasons},
			{crawler.NamespaceSchedules, stores.Schedules},
			{crawler.NamespaceScores, stores.Scores},
		} {
			keys, err := ns.store.List()
			if err != nil {
				return err
			}
			cached.AppendRow(table.Row{ns.name, len(keys)})
		}
		cached.Render()

		database, manifest, err := openManifest(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runId, err := manifest.LatestRun(cmd.Context())
		if err != nil {
			return err
		}
		if runId == "" {
			fmt.Println("no crawl has been recorded yet")
			return nil
		}

		counts, err := manifest.Counts(cmd.Context(), runId)
		if err != nil {
			return err
		}
		run := newTable()
		run.SetTitle("Latest run (%s)", runId)
		run.AppendHeader(table.Row{"Namespace", "Status", "Urls"})
		for _, c := range counts {
			run.AppendRow(table.Row{c.Namespace, c.Status, c.N})
		}
		run.Render()

		failures, err := manifest.UnresolvedFailures(cmd.Context(), failureLimit)
		if err != nil {
			return err
		}
		if len(failures) == 0 {
			return nil
		}
		failed := newTable()
		failed.SetTitle("Unresolved failures")
		failed.AppendHeader(table.Row{"Namespace", "Url", "Reason", "When"})
		for _, f := range failures {
			when := time.Unix(f.NotedAt, 0).In(timezone.Location).Format(time.DateTime)
			failed.AppendRow(table.Row{f.Namespace, f.Url, f.Reason, when})
		}
		failed.Render()
		return nil
	},
}
