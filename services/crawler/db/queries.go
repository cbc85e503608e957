package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const noteFetch = `insert into fetch_log (
    run_id, namespace, url, cache_key, status, reason, attempts, error, noted_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?)`

type NoteFetchParams struct {
	RunID     string
	Namespace string
	Url       string
	CacheKey  string
	Status    FetchStatus
	Reason    string
	Attempts  int64
	Error     string
	NotedAt   int64
}

func (q *Queries) NoteFetch(ctx context.Context, arg NoteFetchParams) error {
	_, err := q.db.ExecContext(ctx, noteFetch,
		arg.RunID,
		arg.Namespace,
		arg.Url,
		arg.CacheKey,
		string(arg.Status),
		arg.Reason,
		arg.Attempts,
		arg.Error,
		arg.NotedAt,
	)
	return err
}

const countByStatus = `select namespace, status, count(*) as n
from fetch_log
where (? = '' or run_id = ?)
group by namespace, status
order by namespace, status`

type CountByStatusRow struct {
	Namespace string
	Status    FetchStatus
	N         int64
}

// CountByStatus counts log entries per namespace and status, an empty
// runId counts across every run.
func (q *Queries) CountByStatus(ctx context.Context, runId string) ([]CountByStatusRow, error) {
	rows, err := q.db.QueryContext(ctx, countByStatus, runId, runId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CountByStatusRow
	for rows.Next() {
		var i CountByStatusRow
		var status string
		err := rows.Scan(&i.Namespace, &status, &i.N)
		if err != nil {
			return nil, err
		}
		i.Status = FetchStatus(status)
		items = append(items, i)
	}
	return items, rows.Err()
}

const getUnresolvedFailures = `select f.namespace, f.url, f.reason, f.error, f.noted_at
from fetch_log f
where f.status = 'failed'
  and f.id = (select max(id) from fetch_log where url = f.url)
order by f.noted_at desc
limit ?`

type UnresolvedFailure struct {
	Namespace string
	Url       string
	Reason    string
	Error     string
	NotedAt   int64
}

// GetUnresolvedFailures lists urls whose latest log entry is a failure.
func (q *Queries) GetUnresolvedFailures(ctx context.Context, limit int64) ([]UnresolvedFailure, error) {
	rows, err := q.db.QueryContext(ctx, getUnresolvedFailures, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []UnresolvedFailure
	for rows.Next() {
		var i UnresolvedFailure
		err := rows.Scan(&i.Namespace, &i.Url, &i.Reason, &i.Error, &i.NotedAt)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getLatestRun = `select run_id from fetch_log order by id desc limit 1`

func (q *Queries) GetLatestRun(ctx context.Context) (string, error) {
	var runId string
	err := q.db.QueryRowContext(ctx, getLatestRun).Scan(&runId)
	return runId, err
}
