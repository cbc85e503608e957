package commands

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"runtime"

	"nbagames/lib/restyutil"
	"nbagames/lib/scrapers/bbref"
	"nbagames/pkg/migrations"
	"nbagames/services/crawler"
	"nbagames/services/crawler/db"
	"nbagames/services/dataset"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type pipeline struct {
	cfg      Config
	stores   crawler.Stores
	database *sql.DB
	manifest *crawler.Manifest
	frontier *crawler.Frontier
}

func newFetcher(c Config) *bbref.Fetcher {
	if verbose {
		out, err := restyutil.NewFilesystemOutput(filepath.Join(".dev", "resty"))
		if err != nil {
			slog.Warn("failed to create resty output dir", "err", err)
		} else {
			bbref.SetRestyInstrumentOutput(out)
		}
	}

	renderer := bbref.NewHTTPRenderer(bbref.HTTPRendererOptions{
		Timeout:          c.RequestTimeout(),
		CloudflareBypass: !c.DirectTransport,
	})

	var limiter *rate.Limiter
	if c.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.RequestsPerMinute/60), 1)
	}
	return bbref.NewFetcher(renderer, bbref.FetcherOptions{
		MaxRetries:    c.MaxRetries,
		BaseBackoff:   c.BaseBackoff(),
		ThrottleFirst: c.ThrottleFirst,
		Limiter:       limiter,
		Concurrency:   semaphore.NewWeighted(int64(c.Concurrency)),
	})
}

func openStores(c Config) (crawler.Stores, error) {
	return crawler.OpenStores(c.DataDir)
}

func openManifest(c Config) (*sql.DB, *crawler.Manifest, error) {
	database, err := migrations.OpenAndMigrateDB(db.Schema, c.ManifestPath())
	if err != nil {
		return nil, nil, err
	}
	return database, crawler.NewManifest(database), nil
}

// openPipeline wires the fetcher, page caches and manifest into a frontier.
func openPipeline(ctx context.Context, c Config) (*pipeline, error) {
	stores, err := openStores(c)
	if err != nil {
		return nil, err
	}
	database, manifest, err := openManifest(c)
	if err != nil {
		return nil, err
	}

	frontier, err := crawler.NewFrontier(newFetcher(c), stores, crawler.FrontierOptions{
		BaseUrl:  c.BaseUrl,
		Workers:  c.Concurrency,
		Manifest: manifest,
	})
	if err != nil {
		database.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "starting run", "run_id", manifest.RunID, "data_dir", c.DataDir)

	return &pipeline{
		cfg:      c,
		stores:   stores,
		database: database,
		manifest: manifest,
		frontier: frontier,
	}, nil
}

func (p *pipeline) Close() {
	err := p.database.Close()
	if err != nil {
		slog.Warn("failed to close manifest", "err", err)
	}
}

func (p *pipeline) buildDataset(ctx context.Context) error {
	return buildDataset(ctx, p.cfg, p.stores)
}

func buildDataset(ctx context.Context, c Config, stores crawler.Stores) error {
	builder := dataset.NewBuilder(stores.Scores, dataset.BuilderOptions{
		Workers:       runtime.NumCPU(),
		ProgressEvery: 500,
	})
	data, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	err = data.WriteFile(c.Output)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "wrote dataset", "path", c.Output, "rows", len(data.Records), "columns", len(data.Columns()))
	return nil
}
