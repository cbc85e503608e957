package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"nbagames/lib/htmlutil"
	"nbagames/lib/pagecache"
	"nbagames/lib/scrapers/bbref"
	"nbagames/lib/telemetry"
	"nbagames/services/crawler/db"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = telemetry.Tracer("nbagames.services.crawler")

// Fetcher fetches the region matched by selector on the page at url.
type Fetcher interface {
	Fetch(ctx context.Context, url, selector string) (string, error)
}

// the cache namespaces, also used as directory names under the data dir
const (
	NamespaceSeasons   = "seasons"
	NamespaceSchedules = "schedules"
	NamespaceScores    = "scores"
)

type Stores struct {
	// season index pages, so a fully cached season needs no requests at all
	Seasons   *pagecache.Store
	Schedules *pagecache.Store
	Scores    *pagecache.Store
}

// OpenStores opens the three namespaces below dataDir.
func OpenStores(dataDir string) (Stores, error) {
	var stores Stores
	var err error
	stores.Seasons, err = pagecache.New(filepath.Join(dataDir, NamespaceSeasons))
	if err != nil {
		return stores, err
	}
	stores.Schedules, err = pagecache.New(filepath.Join(dataDir, NamespaceSchedules))
	if err != nil {
		return stores, err
	}
	stores.Scores, err = pagecache.New(filepath.Join(dataDir, NamespaceScores))
	if err != nil {
		return stores, err
	}
	return stores, nil
}

type PhaseStats struct {
	Fetched atomic.Int64
	Cached  atomic.Int64
	Failed  atomic.Int64
}

type PhaseSummary struct {
	Phase   string
	Fetched int64
	Cached  int64
	Failed  int64
}

func (s *PhaseStats) summary(phase string) PhaseSummary {
	return PhaseSummary{
		Phase:   phase,
		Fetched: s.Fetched.Load(),
		Cached:  s.Cached.Load(),
		Failed:  s.Failed.Load(),
	}
}

type FrontierOptions struct {
	BaseUrl string
	// goroutines per page fan-out, network concurrency is bounded by the fetcher
	Workers  int
	Manifest *Manifest
}

// Frontier decides which schedule and box score pages still need fetching
// and fetches them into the page cache.
type Frontier struct {
	fetcher  Fetcher
	stores   Stores
	baseUrl  *url.URL
	workers  int
	manifest *Manifest

	// urls claimed by a task in this run, so two schedules linking the
	// same game only fetch it once
	claimed sync.Map

	ScheduleStats PhaseStats
	GameStats     PhaseStats
}

func NewFrontier(fetcher Fetcher, stores Stores, opts FrontierOptions) (*Frontier, error) {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = bbref.DefaultBaseUrl
	}
	parsed, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Frontier{
		fetcher:  fetcher,
		stores:   stores,
		baseUrl:  parsed,
		workers:  workers,
		manifest: opts.Manifest,
	}, nil
}

func parseFragment(content string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(content))
}

// DiscoverSchedules returns the absolute urls of every monthly schedule
// page of a season. the season index is cached like any other page.
func (f *Frontier) DiscoverSchedules(ctx context.Context, season int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "DiscoverSchedules")
	defer span.End()
	span.SetAttributes(attribute.Int("season", season))

	indexUrl := bbref.SeasonIndexUrl(f.baseUrl.String(), season)
	content, err := f.cachedOrFetch(ctx, f.stores.Seasons, NamespaceSeasons, indexUrl, bbref.SeasonIndexSelector, nil)
	if err != nil {
		return nil, err
	}

	doc, err := parseFragment(content)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(indexUrl)
	if err != nil {
		return nil, err
	}

	var urls []string
	seen := map[string]bool{}
	for _, a := range htmlutil.GetAnchors(ctx, doc.Find("a")) {
		linkSeason, ok := bbref.ScheduleSeason(a.Href)
		if !ok || linkSeason != season {
			continue
		}
		resolved, err := bbref.Resolve(base, a.Href)
		if err != nil || seen[resolved] {
			continue
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	}

	span.SetAttributes(attribute.Int("schedules", len(urls)))
	return urls, nil
}

// EnsureScheduleCached fetches every schedule page of season that is not
// cached yet. individual failures are logged and skipped, only storage
// failures and cancellation are returned.
func (f *Frontier) EnsureScheduleCached(ctx context.Context, season int) error {
	ctx, span := tracer.Start(ctx, "EnsureScheduleCached")
	defer span.End()

	urls, err := f.DiscoverSchedules(ctx, season)
	if err != nil {
		if isFatal(ctx, err) {
			return err
		}
		slog.WarnContext(ctx, "failed to discover schedules, skipping season", "season", season, "err", err)
		return nil
	}
	slog.InfoContext(ctx, "discovered schedules", "season", season, "count", len(urls))

	return f.fanOut(ctx, urls, func(ctx context.Context, link string) error {
		_, err := f.cachedOrFetch(ctx, f.stores.Schedules, NamespaceSchedules, link, bbref.ScheduleSelector, &f.ScheduleStats)
		return err
	})
}

// ExtractBoxScoreLinks returns the absolute, deduplicated urls of every
// box score linked from a schedule document.
func ExtractBoxScoreLinks(ctx context.Context, base *url.URL, content string) ([]string, error) {
	doc, err := parseFragment(content)
	if err != nil {
		return nil, err
	}

	var urls []string
	seen := map[string]bool{}
	for _, a := range htmlutil.GetAnchors(ctx, doc.Find("a")) {
		if !bbref.IsBoxScoreLink(a.Href) {
			continue
		}
		resolved, err := bbref.Resolve(base, a.Href)
		if err != nil || seen[resolved] {
			continue
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	}
	return urls, nil
}

// EnsureGamesCached fetches every box score linked from the cached
// schedule under scheduleKey that is not cached yet.
func (f *Frontier) EnsureGamesCached(ctx context.Context, scheduleKey string) error {
	ctx, span := tracer.Start(ctx, "EnsureGamesCached")
	defer span.End()
	span.SetAttributes(attribute.String("schedule", scheduleKey))

	content, err := f.stores.Schedules.Get(scheduleKey)
	if err != nil {
		return fmt.Errorf("read schedule %s: %w", scheduleKey, err)
	}
	links, err := ExtractBoxScoreLinks(ctx, f.baseUrl, string(content))
	if err != nil {
		slog.WarnContext(ctx, "failed to parse schedule", "schedule", scheduleKey, "err", err)
		return nil
	}
	slog.DebugContext(ctx, "found box scores", "schedule", scheduleKey, "count", len(links))

	return f.fanOut(ctx, links, func(ctx context.Context, link string) error {
		_, err := f.cachedOrFetch(ctx, f.stores.Scores, NamespaceScores, link, bbref.BoxScoreSelector, &f.GameStats)
		return err
	})
}

func (f *Frontier) fanOut(ctx context.Context, urls []string, task func(ctx context.Context, link string) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.workers)
	for _, link := range urls {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			err := task(groupCtx, link)
			if err != nil && !isFatal(groupCtx, err) {
				return nil
			}
			return err
		})
	}
	err := group.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// cachedOrFetch returns the cached document for link, fetching and
// persisting it first when missing. a failed fetch is logged and
// counted before being returned, see isFatal.
func (f *Frontier) cachedOrFetch(
	ctx context.Context,
	store *pagecache.Store,
	namespace, link, selector string,
	stats *PhaseStats,
) (string, error) {
	key, err := pagecache.KeyFor(link)
	if err != nil {
		slog.WarnContext(ctx, "skipping url without cache key", "url", link, "err", err)
		return "", nil
	}

	if store.HasKey(key) {
		if stats != nil {
			stats.Cached.Add(1)
		}
		f.manifest.note(ctx, outcome{namespace: namespace, url: link, key: key, status: db.STATUS_CACHED})
		slog.DebugContext(ctx, "already cached", "url", link, "key", key)
		content, err := store.Get(key)
		return string(content), err
	}

	if _, loaded := f.claimed.LoadOrStore(namespace+":"+link, struct{}{}); loaded {
		return "", nil
	}

	content, err := f.fetcher.Fetch(ctx, link, selector)
	if err != nil {
		if isFatal(ctx, err) {
			return "", err
		}
		if stats != nil {
			stats.Failed.Add(1)
		}
		f.manifest.note(ctx, outcome{namespace: namespace, url: link, key: key, status: db.STATUS_FAILED, err: err})
		slog.WarnContext(ctx, "failed to fetch page, skipping", "url", link, "err", err)
		return "", err
	}

	_, err = store.Put(ctx, link, []byte(content))
	if err != nil {
		return "", err
	}
	if stats != nil {
		stats.Fetched.Add(1)
	}
	f.manifest.note(ctx, outcome{namespace: namespace, url: link, key: key, status: db.STATUS_FETCHED})
	slog.InfoContext(ctx, "cached page", "url", link, "key", key)
	return content, nil
}

// isFatal reports errors that must stop the whole run.
func isFatal(ctx context.Context, err error) bool {
	var writeErr *pagecache.WriteError
	if errors.As(err, &writeErr) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
