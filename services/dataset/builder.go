package dataset

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"

	"nbagames/lib/pagecache"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type Dataset struct {
	Schema  Schema
	Records []Record
}

type BuilderOptions struct {
	Workers int
	// log progress every this many games, 0 disables it
	ProgressEvery int
}

// Builder turns every cached box score into dataset records.
type Builder struct {
	store     *pagecache.Store
	extractor *Extractor
	workers   int
	every     int

	done    atomic.Int64
	skipped atomic.Int64
}

func NewBuilder(store *pagecache.Store, opts BuilderOptions) *Builder {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Builder{
		store:     store,
		extractor: NewExtractor(store),
		workers:   workers,
		every:     opts.ProgressEvery,
	}
}

// Dropped lists the columns dropped by the last build, see Extractor.Dropped.
// Build must not be running concurrently.
func (b *Builder) Dropped() []string {
	return b.extractor.Dropped()
}

// extract returns ok = false for games that were skipped.
func (b *Builder) extract(ctx context.Context, key string, total int) (Game, bool, error) {
	game, err := b.extractor.Extract(ctx, key)
	done := b.done.Add(1)
	if b.every > 0 && done%int64(b.every) == 0 {
		slog.InfoContext(ctx, "processing games", "done", done, "total", total)
	}

	if err != nil {
		var failure *ExtractionFailure
		if errors.As(err, &failure) {
			b.skipped.Add(1)
			slog.WarnContext(ctx, "failed to extract game, skipping", "key", key, "reason", failure.Reason.String(), "detail", failure.Detail)
			return Game{}, false, nil
		}
		return Game{}, false, err
	}
	return game, true, nil
}

// Build extracts every cached game. the first game in key order fixes the
// schema, the rest are extracted in parallel and the records sorted by
// date, key and home flag. every call starts over with a fresh schema.
func (b *Builder) Build(ctx context.Context) (Dataset, error) {
	ctx, span := tracer.Start(ctx, "Build")
	defer span.End()

	b.extractor = NewExtractor(b.store)
	b.done.Store(0)
	b.skipped.Store(0)

	keys, err := b.store.List()
	if err != nil {
		return Dataset{}, err
	}
	span.SetAttributes(attribute.Int("games", len(keys)))
	slog.InfoContext(ctx, "building dataset", "games", len(keys))

	games := make([]Game, len(keys))
	ok := make([]bool, len(keys))

	// sequential until the schema is fixed
	next := 0
	for ; next < len(keys); next++ {
		if ctx.Err() != nil {
			return Dataset{}, ctx.Err()
		}
		games[next], ok[next], err = b.extract(ctx, keys[next], len(keys))
		if err != nil {
			return Dataset{}, err
		}
		if ok[next] {
			next++
			break
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.workers)
	for i := next; i < len(keys); i++ {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			var err error
			games[i], ok[i], err = b.extract(groupCtx, keys[i], len(keys))
			return err
		})
	}
	err = group.Wait()
	if err != nil {
		return Dataset{}, err
	}
	if ctx.Err() != nil {
		return Dataset{}, ctx.Err()
	}

	var records []Record
	for i, game := range games {
		if !ok[i] {
			continue
		}
		away, home := AssembleGame(game)
		records = append(records, away, home)
	}
	sortRecords(records)

	slog.InfoContext(
		ctx, "built dataset",
		"games", len(records)/2,
		"skipped", b.skipped.Load(),
		"rows", len(records),
	)
	return Dataset{Schema: b.extractor.Schema(), Records: records}, nil
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Home < b.Home
	})
}
