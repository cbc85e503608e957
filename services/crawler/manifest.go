package crawler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"nbagames/lib/scrapers/bbref"
	"nbagames/lib/timezone"
	"nbagames/services/crawler/db"

	"github.com/google/uuid"
)

// Manifest records the outcome of every url the frontier handles. it is
// advisory, the page cache stays the source of truth for what is cached.
type Manifest struct {
	RunID string
	qry   *db.Queries
	now   func() time.Time
}

func NewManifest(database *sql.DB) *Manifest {
	return &Manifest{
		RunID: uuid.NewString(),
		qry:   db.New(database),
		now:   timezone.Now,
	}
}

type outcome struct {
	namespace string
	url       string
	key       string
	status    db.FetchStatus
	err       error
}

// note never fails the crawl, a broken manifest only loses bookkeeping.
func (m *Manifest) note(ctx context.Context, o outcome) {
	if m == nil {
		return
	}
	params := db.NoteFetchParams{
		RunID:     m.RunID,
		Namespace: o.namespace,
		Url:       o.url,
		CacheKey:  o.key,
		Status:    o.status,
		NotedAt:   m.now().Unix(),
	}
	if o.err != nil {
		params.Error = o.err.Error()
		var failure *bbref.FetchFailure
		if errors.As(o.err, &failure) {
			params.Reason = failure.Reason.String()
			params.Attempts = int64(failure.Attempts)
		}
	}
	err := m.qry.NoteFetch(context.WithoutCancel(ctx), params)
	if err != nil {
		slog.WarnContext(ctx, "failed to note fetch in manifest", "url", o.url, "err", err)
	}
}

func (m *Manifest) Counts(ctx context.Context, runId string) ([]db.CountByStatusRow, error) {
	return m.qry.CountByStatus(ctx, runId)
}

func (m *Manifest) UnresolvedFailures(ctx context.Context, limit int64) ([]db.UnresolvedFailure, error) {
	return m.qry.GetUnresolvedFailures(ctx, limit)
}

// LatestRun returns the id of the most recent run, or "" for an empty manifest.
func (m *Manifest) LatestRun(ctx context.Context) (string, error) {
	runId, err := m.qry.GetLatestRun(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return runId, err
}
