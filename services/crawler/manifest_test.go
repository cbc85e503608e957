package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"nbagames/lib/scrapers/bbref"
	"nbagames/lib/testutil"
	"nbagames/services/crawler/db"

	"github.com/stretchr/testify/require"
)

func TestManifest(t *testing.T) {
	ctx := context.Background()
	manifest := NewManifest(testutil.OpenDB(t, db.Schema))

	runId, err := manifest.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, "", runId)

	link := base + "/boxscores/202210180BOS.html"
	manifest.note(ctx, outcome{
		namespace: NamespaceScores,
		url:       link,
		key:       "202210180BOS.html",
		status:    db.STATUS_FAILED,
		err:       &bbref.FetchFailure{Url: link, Reason: bbref.Timeout, Attempts: 3, Err: errors.New("slow")},
	})

	runId, err = manifest.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, manifest.RunID, runId)

	failures, err := manifest.UnresolvedFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "timeout", failures[0].Reason)
	require.InDelta(t, time.Now().Unix(), failures[0].NotedAt, 5)

	// a later success resolves the failure
	manifest.note(ctx, outcome{namespace: NamespaceScores, url: link, key: "202210180BOS.html", status: db.STATUS_FETCHED})
	failures, err = manifest.UnresolvedFailures(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, failures)

	// a nil manifest only drops bookkeeping
	var none *Manifest
	none.note(ctx, outcome{namespace: NamespaceScores, url: link, status: db.STATUS_FETCHED})
}
