package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nbagames/lib/pagecache"
	"nbagames/lib/timezone"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

type statTableFixture struct {
	cols    []string
	players [][]string
	totals  []string
}

type teamFixture struct {
	abbr         string
	total        string
	basic        statTableFixture
	advanced     statTableFixture
	omitAdvanced bool
}

func defaultTeam(abbr, total string) teamFixture {
	return teamFixture{
		abbr:  abbr,
		total: total,
		basic: statTableFixture{
			cols: []string{"MP", "FG", "PTS", "+/-"},
			players: [][]string{
				{"34:12", "10", "25", "+5"},
				{"Did Not Play"},
				{"20:00", "6", "14", "-3"},
			},
			totals: []string{"240", "40", total, ""},
		},
		advanced: statTableFixture{
			cols: []string{"MP", "TS%", "BPM"},
			players: [][]string{
				{"34:12", ".612", "4.1"},
				{"20:00", ".500", "-1.2"},
			},
			totals: []string{"240", ".580", ""},
		},
	}
}

func writeStatTable(b *strings.Builder, id string, t statTableFixture) {
	fmt.Fprintf(b, `<table id="%s"><thead><tr class="over_header"><th colspan="%d">Stats</th></tr><tr><th>Starters</th>`, id, len(t.cols)+1)
	for _, c := range t.cols {
		fmt.Fprintf(b, "<th>%s</th>", c)
	}
	b.WriteString("</tr></thead><tbody>")
	for i, p := range t.players {
		if i == 1 {
			b.WriteString(`<tr class="thead"><th>Reserves</th>`)
			for _, c := range t.cols {
				fmt.Fprintf(b, "<td>%s</td>", c)
			}
			b.WriteString("</tr>")
		}
		fmt.Fprintf(b, "<tr><th>Player %d</th>", i)
		for _, cell := range p {
			fmt.Fprintf(b, "<td>%s</td>", cell)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody><tfoot><tr><th>Team Totals</th>")
	for _, cell := range t.totals {
		fmt.Fprintf(b, "<td>%s</td>", cell)
	}
	b.WriteString("</tr></tfoot></table>\n")
}

// boxScore renders a box score the way the site lays it out, with the
// line score hidden in a comment.
func boxScore(season int, away, home teamFixture) []byte {
	var b strings.Builder
	b.WriteString(`<div id="content"><div id="all_line_score"><!--
		<table id="line_score"><thead>
		<tr class="over_header"><th colspan="6">Scoring</th></tr>
		<tr><th></th><th>1</th><th>2</th><th>3</th><th>4</th><th>T</th></tr>
		</thead><tbody>`)
	for _, team := range []teamFixture{away, home} {
		fmt.Fprintf(&b, `<tr><th><a href="/teams/%s/%d.html">%s</a></th><td>25</td><td>25</td><td>25</td><td>20</td><td>%s</td></tr>`,
			team.abbr, season, team.abbr, team.total)
	}
	b.WriteString("</tbody></table>\n--></div>\n")
	for _, team := range []teamFixture{away, home} {
		writeStatTable(&b, fmt.Sprintf("box-%s-game-basic", team.abbr), team.basic)
		if !team.omitAdvanced {
			writeStatTable(&b, fmt.Sprintf("box-%s-game-advanced", team.abbr), team.advanced)
		}
	}
	fmt.Fprintf(&b, `<div id="bottom_nav_container">
		<a href="/boxscores/?month=10&day=18&year=%d">Other games</a>
		<a href="/leagues/NBA_%d.html">%d-%02d Season</a>
	</div></div>`, season-1, season, season-1, season%100)
	return []byte(b.String())
}

var nanEqual = cmpopts.EquateNaNs()

var expectedSchema = Schema{
	"mp", "fg", "pts", "+/-", "ts%",
	"mp_max", "fg_max", "pts_max", "+/-_max", "ts%_max",
}

func TestExtractDocument(t *testing.T) {
	extractor := NewExtractor(nil)
	content := boxScore(2023, defaultTeam("BOS", "100"), defaultTeam("LAL", "95"))

	game, err := extractor.ExtractDocument(context.Background(), "202210180BOS.html", content)
	require.NoError(t, err)

	require.Equal(t, 2023, game.Season)
	require.True(t, time.Date(2022, 10, 18, 0, 0, 0, 0, timezone.Location).Equal(game.Date), "got %s", game.Date)
	require.Equal(t, "BOS", game.Away.Team)
	require.Equal(t, "LAL", game.Home.Team)
	require.Equal(t, 100.0, game.Away.Total)
	require.Equal(t, 95.0, game.Home.Total)

	require.Equal(t, expectedSchema, extractor.Schema())
	expected := []float64{240, 40, 100, math.NaN(), 0.58, math.NaN(), 10, 25, 5, 0.612}
	if diff := cmp.Diff(expected, game.Away.Values, nanEqual); diff != "" {
		t.Fatalf("unexpected values (-want +got):\n%s", diff)
	}
	require.Empty(t, extractor.Dropped())
}

func TestExtractMissingTable(t *testing.T) {
	home := defaultTeam("LAL", "95")
	home.omitAdvanced = true

	testCases := []struct {
		name    string
		content []byte
		reason  FailureReason
	}{
		{
			name:    "no advanced table",
			content: boxScore(2023, defaultTeam("BOS", "100"), home),
			reason:  MissingTable,
		},
		{
			name:    "no line score",
			content: []byte(`<div id="content"><p>nothing here</p></div>`),
			reason:  MissingTable,
		},
		{
			name:    "no season",
			content: bytes.ReplaceAll(boxScore(2023, defaultTeam("BOS", "100"), defaultTeam("LAL", "95")), []byte("NBA_"), []byte("ABA_")),
			reason:  MalformedDocument,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewExtractor(nil).ExtractDocument(context.Background(), "202210180BOS.html", test.content)
			var failure *ExtractionFailure
			require.True(t, errors.As(err, &failure), "got %v", err)
			require.Equal(t, test.reason, failure.Reason)
			require.Equal(t, "202210180BOS.html", failure.Key)
		})
	}
}

func TestSchemaReconciliation(t *testing.T) {
	extractor := NewExtractor(nil)
	_, err := extractor.ExtractDocument(context.Background(), "202210180BOS.html",
		boxScore(2023, defaultTeam("BOS", "100"), defaultTeam("LAL", "95")))
	require.NoError(t, err)

	// a later layout drops FG and adds GmSc
	changed := defaultTeam("NYK", "110")
	changed.basic = statTableFixture{
		cols:    []string{"MP", "PTS", "+/-", "GmSc"},
		players: [][]string{{"30:00", "30", "+8", "21.5"}},
		totals:  []string{"240", "110", "", ""},
	}
	game, err := extractor.ExtractDocument(context.Background(), "202210190NYK.html",
		boxScore(2023, changed, defaultTeam("MIA", "104")))
	require.NoError(t, err)

	require.Equal(t, expectedSchema, extractor.Schema())
	require.Len(t, game.Away.Values, len(expectedSchema))
	require.True(t, math.IsNaN(game.Away.Values[1]), "fg is missing from the new layout")
	require.True(t, math.IsNaN(game.Away.Values[6]), "fg_max is missing from the new layout")
	require.Equal(t, 110.0, game.Away.Values[2])
	require.Equal(t, []string{"gmsc", "gmsc_max"}, extractor.Dropped())

	// reported once per name
	_, err = extractor.ExtractDocument(context.Background(), "202210200NYK.html",
		boxScore(2023, changed, defaultTeam("MIA", "104")))
	require.NoError(t, err)
	require.Equal(t, []string{"gmsc", "gmsc_max"}, extractor.Dropped())
}

func TestAssembleScenario(t *testing.T) {
	extractor := NewExtractor(nil)
	game, err := extractor.ExtractDocument(context.Background(), "202210180BOS.html",
		boxScore(2023, defaultTeam("BOS", "100"), defaultTeam("LAL", "95")))
	require.NoError(t, err)

	away, home := AssembleGame(game)

	require.Equal(t, "BOS", away.Team)
	require.Equal(t, 0, away.Home)
	require.Equal(t, 100.0, away.Total)
	require.Equal(t, "LAL", away.TeamOpp)
	require.Equal(t, 95.0, away.TotalOpp)
	require.Equal(t, 1, away.HomeOpp)
	require.True(t, away.Won)
	require.Equal(t, Win, away.Outcome)

	require.Equal(t, "LAL", home.Team)
	require.Equal(t, 1, home.Home)
	require.Equal(t, 95.0, home.Total)
	require.Equal(t, "BOS", home.TeamOpp)
	require.Equal(t, 100.0, home.TotalOpp)
	require.Equal(t, 0, home.HomeOpp)
	require.False(t, home.Won)
	require.Equal(t, Loss, home.Outcome)

	// each side's opponent block is the other side's own block
	if diff := cmp.Diff(away.Stats, home.StatsOpp, nanEqual); diff != "" {
		t.Fatalf("asymmetric records (-away +home_opp):\n%s", diff)
	}
	if diff := cmp.Diff(home.Stats, away.StatsOpp, nanEqual); diff != "" {
		t.Fatalf("asymmetric records (-home +away_opp):\n%s", diff)
	}
}

func TestAssembleTie(t *testing.T) {
	date := time.Date(2022, 10, 18, 0, 0, 0, 0, timezone.Location)
	away, home := Assemble(
		TeamSummary{Team: "BOS", Total: 100, Values: []float64{1}},
		TeamSummary{Team: "LAL", Total: 100, Values: []float64{2}},
		2023, date,
	)
	require.Equal(t, Tie, away.Outcome)
	require.Equal(t, Tie, home.Outcome)
	require.False(t, away.Won)
	require.False(t, home.Won)
}

func newTestStore(t *testing.T, games map[string][]byte) *pagecache.Store {
	t.Helper()
	store, err := pagecache.New(filepath.Join(t.TempDir(), "scores"))
	require.NoError(t, err)
	for key, content := range games {
		_, err := store.Put(context.Background(), "https://www.basketball-reference.com/boxscores/"+key, content)
		require.NoError(t, err)
	}
	return store
}

func TestBuild(t *testing.T) {
	changed := defaultTeam("NYK", "110")
	changed.basic.cols = append(changed.basic.cols, "GmSc")

	broken := defaultTeam("CHI", "90")
	broken.omitAdvanced = true

	store := newTestStore(t, map[string][]byte{
		"202210200CHI.html": boxScore(2023, broken, defaultTeam("DET", "88")),
		"202210190NYK.html": boxScore(2023, changed, defaultTeam("MIA", "104")),
		"202210180BOS.html": boxScore(2023, defaultTeam("BOS", "100"), defaultTeam("LAL", "95")),
		"202210180GSW.html": boxScore(2023, defaultTeam("DEN", "99"), defaultTeam("GSW", "99")),
	})

	builder := NewBuilder(store, BuilderOptions{Workers: 2, ProgressEvery: 1})
	data, err := builder.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, expectedSchema, data.Schema)
	require.Equal(t, []string{"gmsc", "gmsc_max"}, builder.Dropped())

	// the broken game is skipped, every other game yields two rows
	require.Len(t, data.Records, 6)

	var order []string
	for _, r := range data.Records {
		order = append(order, r.Team)
		require.Len(t, r.Stats, len(data.Schema))
		require.Len(t, r.StatsOpp, len(data.Schema))
	}
	require.Equal(t, []string{"BOS", "LAL", "DEN", "GSW", "NYK", "MIA"}, order)

	for i := 0; i < len(data.Records); i += 2 {
		away, home := data.Records[i], data.Records[i+1]
		require.Equal(t, away.Key, home.Key)
		require.Equal(t, away.Team, home.TeamOpp)
		require.Equal(t, home.Team, away.TeamOpp)
		if away.Outcome == Tie {
			require.False(t, away.Won || home.Won)
		} else {
			require.True(t, away.Won != home.Won, "exactly one side wins %s", away.Key)
		}
	}

	out := filepath.Join(t.TempDir(), "out", "nba_games.csv")
	require.NoError(t, data.WriteFile(out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 7)
	require.Equal(t, data.Columns(), rows[0])
	require.Len(t, data.Columns(), 2*len(expectedSchema)+10)

	header := map[string]int{}
	for i, name := range rows[0] {
		header[name] = i
	}
	first := rows[1]
	require.Equal(t, "BOS", first[header["team"]])
	require.Equal(t, "100", first[header["total"]])
	require.Equal(t, "0", first[header["home"]])
	require.Equal(t, "LAL", first[header["team_opp"]])
	require.Equal(t, "95", first[header["total_opp"]])
	require.Equal(t, "1", first[header["home_opp"]])
	require.Equal(t, "2023", first[header["season"]])
	require.Equal(t, "2022-10-18", first[header["date"]])
	require.Equal(t, "true", first[header["won"]])
	require.Equal(t, "win", first[header["outcome"]])
	require.Equal(t, "", first[header["+/-"]])
	require.Equal(t, "0.612", first[header["ts%_max"]])
}

func TestBuildIsDeterministic(t *testing.T) {
	games := map[string][]byte{}
	teams := []string{"ATL", "BOS", "BRK", "CHO", "CHI", "CLE", "DAL", "DEN"}
	for i := 0; i < len(teams); i += 2 {
		key := fmt.Sprintf("2022102%d0%s.html", i/2, teams[i+1])
		games[key] = boxScore(2023, defaultTeam(teams[i], "101"), defaultTeam(teams[i+1], "97"))
	}
	store := newTestStore(t, games)

	var outputs []string
	for i := 0; i < 3; i++ {
		data, err := NewBuilder(store, BuilderOptions{Workers: 4}).Build(context.Background())
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, data.WriteCSV(&buf))
		outputs = append(outputs, buf.String())
	}
	require.Equal(t, outputs[0], outputs[1])
	require.Equal(t, outputs[0], outputs[2])
}

func TestBuildTwiceStartsOver(t *testing.T) {
	store := newTestStore(t, map[string][]byte{
		"202210190NYK.html": boxScore(2023, defaultTeam("NYK", "110"), defaultTeam("MIA", "104")),
	})
	builder := NewBuilder(store, BuilderOptions{Workers: 2})

	data, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, expectedSchema, data.Schema)
	require.Len(t, data.Records, 2)

	// an earlier game with an extra column now defines the schema
	changed := defaultTeam("BOS", "100")
	changed.basic.cols = append(changed.basic.cols, "GmSc")
	changed.basic.totals = append(changed.basic.totals, "80.5")
	_, err = store.Put(context.Background(), "https://www.basketball-reference.com/boxscores/202210180BOS.html",
		boxScore(2023, changed, defaultTeam("LAL", "95")))
	require.NoError(t, err)

	data, err = builder.Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, data.Schema, "gmsc")
	require.Len(t, data.Records, 4)
	require.Empty(t, builder.Dropped())
	for _, r := range data.Records {
		require.Len(t, r.Stats, len(data.Schema))
	}
}
