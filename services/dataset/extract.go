package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"nbagames/lib/htmlutil"
	"nbagames/lib/pagecache"
	"nbagames/lib/scrapers/bbref"
	"nbagames/lib/telemetry"
	"nbagames/lib/textutil"
	"nbagames/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("nbagames.services.dataset")
var meter = telemetry.Meter("nbagames.services.dataset")
var extractedCounter, _ = meter.Int64Counter("games.extracted")

type FailureReason int

const (
	MissingTable FailureReason = iota
	MalformedDocument
)

func (r FailureReason) String() string {
	switch r {
	case MissingTable:
		return "missing_table"
	case MalformedDocument:
		return "malformed_document"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ExtractionFailure means a cached box score could not be turned into a
// game, the game is skipped.
type ExtractionFailure struct {
	Key    string
	Reason FailureReason
	Detail string
}

func (f *ExtractionFailure) Error() string {
	return fmt.Sprintf("extract %s: %s: %s", f.Key, f.Reason.String(), f.Detail)
}

// Stat is a named value, NaN when the source cell was missing or not a number.
type Stat struct {
	Name  string
	Value float64
}

type TeamSummary struct {
	Team  string
	Total float64
	// aggregate row of the basic and advanced tables
	Totals []Stat
	// per column maximum over player rows, names end in "_max"
	Maxes []Stat
	// Totals and Maxes projected onto the run's schema
	Values []float64
}

func (s TeamSummary) names() []string {
	names := make([]string, 0, len(s.Totals)+len(s.Maxes))
	for _, st := range s.Totals {
		names = append(names, st.Name)
	}
	for _, st := range s.Maxes {
		names = append(names, st.Name)
	}
	return names
}

func (s TeamSummary) project(schema Schema) []float64 {
	byName := make(map[string]float64, len(s.Totals)+len(s.Maxes))
	for _, st := range append(append([]Stat{}, s.Totals...), s.Maxes...) {
		if _, ok := byName[st.Name]; !ok {
			byName[st.Name] = st.Value
		}
	}
	values := make([]float64, len(schema))
	for i, name := range schema {
		v, ok := byName[name]
		if !ok {
			v = math.NaN()
		}
		values[i] = v
	}
	return values
}

// Game is one extracted box score, Away was listed first in the line score.
type Game struct {
	Key    string
	Season int
	Date   time.Time
	Away   TeamSummary
	Home   TeamSummary
}

// Schema is the ordered set of stat columns shared by every game of a run.
type Schema []string

var excludedStats = []string{"bpm"}

func newSchema(names []string) Schema {
	var schema Schema
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] || textutil.MatchName(name, excludedStats) {
			continue
		}
		seen[name] = true
		schema = append(schema, name)
	}
	return schema
}

// Extractor turns cached box scores into games. the first summary it
// extracts fixes the schema every later game is projected onto.
type Extractor struct {
	store *pagecache.Store

	lock    sync.Mutex
	schema  Schema
	known   map[string]bool
	dropped []string
}

func NewExtractor(store *pagecache.Store) *Extractor {
	return &Extractor{store: store}
}

// Schema returns the canonical columns, nil before the first extraction.
func (e *Extractor) Schema() Schema {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.schema
}

// Dropped lists every column that was dropped from a game because it was
// not part of the schema, in the order they were first seen.
func (e *Extractor) Dropped() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.dropped...)
}

// reconcile projects summary onto the schema, defining the schema when
// this is the first summary of the run.
func (e *Extractor) reconcile(ctx context.Context, key string, summary *TeamSummary) {
	names := summary.names()

	e.lock.Lock()
	if e.schema == nil {
		e.schema = newSchema(names)
		e.known = map[string]bool{}
		for _, name := range e.schema {
			e.known[name] = true
		}
		slog.InfoContext(ctx, "defined schema", "key", key, "columns", len(e.schema))
	}
	schema := e.schema

	var newlyDropped []string
	for _, name := range names {
		if e.known[name] || textutil.MatchName(name, excludedStats) {
			continue
		}
		e.known[name] = true
		e.dropped = append(e.dropped, name)
		newlyDropped = append(newlyDropped, name)
	}
	e.lock.Unlock()

	if len(newlyDropped) > 0 {
		slog.WarnContext(
			ctx, "SchemaReconciliationWarning: dropping columns missing from schema",
			"key", key,
			"columns", newlyDropped,
		)
	}
	summary.Values = summary.project(schema)
}

// Extract reads the box score cached under key.
func (e *Extractor) Extract(ctx context.Context, key string) (Game, error) {
	content, err := e.store.Get(key)
	if err != nil {
		return Game{}, fmt.Errorf("read box score: %w", err)
	}
	return e.ExtractDocument(ctx, key, content)
}

// ExtractDocument extracts a game from box score html, key is the cache
// key the document is stored under and carries the game date.
func (e *Extractor) ExtractDocument(ctx context.Context, key string, content []byte) (Game, error) {
	ctx, span := tracer.Start(ctx, "ExtractDocument")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	game, err := e.extract(ctx, key, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract game")
		var failure *ExtractionFailure
		if errors.As(err, &failure) {
			extractedCounter.Add(ctx, 1, resultAttr(failure.Reason.String()))
		}
		return Game{}, err
	}
	extractedCounter.Add(ctx, 1, resultAttr("ok"))
	return game, nil
}

func (e *Extractor) extract(ctx context.Context, key string, content []byte) (Game, error) {
	fail := func(reason FailureReason, format string, args ...any) error {
		return &ExtractionFailure{Key: key, Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}

	if len(key) < 8 {
		return Game{}, fail(MalformedDocument, "key does not start with a date")
	}
	date, err := timezone.ParseDate(key[:8])
	if err != nil {
		return Game{}, fail(MalformedDocument, "parse date: %s", err.Error())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Game{}, fail(MalformedDocument, "parse html: %s", err.Error())
	}
	htmlutil.Uncomment(doc.Selection)
	doc.Find("tr.over_header, tr.thead").Remove()

	teams, totals, err := readLineScore(doc)
	if err != nil {
		return Game{}, fail(MissingTable, "%s", err.Error())
	}
	if len(teams) != 2 {
		return Game{}, fail(MalformedDocument, "line score lists %d teams", len(teams))
	}

	season, ok := readSeason(ctx, doc)
	if !ok {
		return Game{}, fail(MalformedDocument, "no season link in #bottom_nav_container")
	}

	summaries := make([]TeamSummary, 2)
	for i, team := range teams {
		if math.IsNaN(totals[i]) {
			return Game{}, fail(MalformedDocument, "final score of %s is not a number", team)
		}
		summary, err := readTeamSummary(doc, team)
		if err != nil {
			return Game{}, fail(MissingTable, "%s", err.Error())
		}
		summary.Total = totals[i]
		summaries[i] = summary
	}

	for i := range summaries {
		e.reconcile(ctx, key, &summaries[i])
	}

	return Game{
		Key:    key,
		Season: season,
		Date:   date,
		Away:   summaries[0],
		Home:   summaries[1],
	}, nil
}

func readLineScore(doc *goquery.Document) ([]string, []float64, error) {
	table, ok := htmlutil.ParseTable(doc.Find("table#line_score"))
	if !ok {
		return nil, nil, errors.New("table#line_score not found")
	}
	var teams []string
	var totals []float64
	for _, row := range table.Rows {
		if len(row) < 2 {
			continue
		}
		teams = append(teams, row[0])
		totals = append(totals, parseStat(row[len(row)-1]))
	}
	return teams, totals, nil
}

func readSeason(ctx context.Context, doc *goquery.Document) (int, bool) {
	for _, a := range htmlutil.GetAnchors(ctx, doc.Find("#bottom_nav_container a")) {
		season, ok := bbref.LeagueSeason(a.Href)
		if ok {
			return season, true
		}
	}
	return 0, false
}

type statTable struct {
	names []string
	// player rows, then the aggregate row last
	players   [][]float64
	aggregate []float64
}

func readStatTable(doc *goquery.Document, id string) (statTable, error) {
	table, ok := htmlutil.ParseTable(doc.Find("table#" + id))
	if !ok {
		return statTable{}, fmt.Errorf("table#%s not found", id)
	}
	if len(table.Columns) < 2 {
		return statTable{}, fmt.Errorf("table#%s has no stat columns", id)
	}

	// the first column names the player
	var out statTable
	for _, col := range table.Columns[1:] {
		out.names = append(out.names, strings.ToLower(col))
	}
	parseRow := func(row []string) []float64 {
		values := make([]float64, len(out.names))
		for i := range values {
			values[i] = math.NaN()
			if i+1 < len(row) {
				values[i] = parseStat(row[i+1])
			}
		}
		return values
	}

	rows := table.Rows
	switch {
	case len(table.Footer) > 0:
		out.aggregate = parseRow(table.Footer[len(table.Footer)-1])
	case len(rows) > 0:
		out.aggregate = parseRow(rows[len(rows)-1])
		rows = rows[:len(rows)-1]
	default:
		return statTable{}, fmt.Errorf("table#%s has no rows", id)
	}
	for _, row := range rows {
		out.players = append(out.players, parseRow(row))
	}
	return out, nil
}

func (t statTable) totals() []Stat {
	stats := make([]Stat, len(t.names))
	for i, name := range t.names {
		stats[i] = Stat{Name: name, Value: t.aggregate[i]}
	}
	return stats
}

func (t statTable) maxes() []Stat {
	stats := make([]Stat, len(t.names))
	for i, name := range t.names {
		best := math.NaN()
		for _, player := range t.players {
			v := player[i]
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(best) || v > best {
				best = v
			}
		}
		stats[i] = Stat{Name: name + "_max", Value: best}
	}
	return stats
}

func readTeamSummary(doc *goquery.Document, team string) (TeamSummary, error) {
	summary := TeamSummary{Team: team}
	for _, kind := range []string{"basic", "advanced"} {
		table, err := readStatTable(doc, fmt.Sprintf("box-%s-game-%s", team, kind))
		if err != nil {
			return TeamSummary{}, err
		}
		summary.Totals = append(summary.Totals, table.totals()...)
		summary.Maxes = append(summary.Maxes, table.maxes()...)
	}
	return summary, nil
}

// parseStat reads a numeric cell, anything else ("Did Not Play", "34:12",
// empty cells) is NaN.
func parseStat(cell string) float64 {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
