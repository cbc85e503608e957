package crawler

import (
	"context"
	"log/slog"

	"nbagames/lib/scrapers/bbref"

	"golang.org/x/sync/errgroup"
)

// CrawlSchedules caches the schedules of every season, each season is
// its own task and all of them are awaited before returning.
func (f *Frontier) CrawlSchedules(ctx context.Context, seasons []int) error {
	ctx, span := tracer.Start(ctx, "CrawlSchedules")
	defer span.End()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, season := range seasons {
		group.Go(func() error {
			return f.EnsureScheduleCached(groupCtx, season)
		})
	}
	err := group.Wait()
	logSummary(ctx, f.ScheduleStats.summary(NamespaceSchedules))
	if err != nil {
		return err
	}
	return ctx.Err()
}

// ScheduleKeys lists the cached schedules belonging to seasons, every
// cached schedule when seasons is empty.
func (f *Frontier) ScheduleKeys(seasons []int) ([]string, error) {
	keys, err := f.stores.Schedules.List()
	if err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return keys, nil
	}

	wanted := map[int]bool{}
	for _, s := range seasons {
		wanted[s] = true
	}
	var filtered []string
	for _, key := range keys {
		season, ok := bbref.LeagueSeason(key)
		if ok && wanted[season] {
			filtered = append(filtered, key)
		}
	}
	return filtered, nil
}

// CrawlGames caches the box scores linked from every cached schedule of seasons.
func (f *Frontier) CrawlGames(ctx context.Context, seasons []int) error {
	ctx, span := tracer.Start(ctx, "CrawlGames")
	defer span.End()

	keys, err := f.ScheduleKeys(seasons)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "crawling box scores", "schedules", len(keys))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.workers)
	for _, key := range keys {
		group.Go(func() error {
			err := f.EnsureGamesCached(groupCtx, key)
			if err != nil && !isFatal(groupCtx, err) {
				slog.WarnContext(groupCtx, "skipping schedule", "schedule", key, "err", err)
				return nil
			}
			return err
		})
	}
	err = group.Wait()
	logSummary(ctx, f.GameStats.summary(NamespaceScores))
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Crawl caches schedules and then box scores for seasons.
func (f *Frontier) Crawl(ctx context.Context, seasons []int) error {
	err := f.CrawlSchedules(ctx, seasons)
	if err != nil {
		return err
	}
	return f.CrawlGames(ctx, seasons)
}

func (f *Frontier) Summaries() []PhaseSummary {
	return []PhaseSummary{
		f.ScheduleStats.summary(NamespaceSchedules),
		f.GameStats.summary(NamespaceScores),
	}
}

func logSummary(ctx context.Context, s PhaseSummary) {
	slog.InfoContext(
		ctx, "phase finished",
		"phase", s.Phase,
		"fetched", s.Fetched,
		"cached", s.Cached,
		"failed", s.Failed,
	)
}
