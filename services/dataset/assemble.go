package dataset

import "time"

type Outcome int

const (
	Loss Outcome = iota
	Win
	Tie
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Tie:
		return "tie"
	}
	return "loss"
}

func outcomeOf(total, totalOpp float64) Outcome {
	switch {
	case total > totalOpp:
		return Win
	case total < totalOpp:
		return Loss
	}
	return Tie
}

// Record is one game seen from one team, Stats and StatsOpp follow the
// dataset schema.
type Record struct {
	Key    string
	Season int
	Date   time.Time

	Team  string
	Total float64
	Home  int
	Stats []float64

	TeamOpp  string
	TotalOpp float64
	HomeOpp  int
	StatsOpp []float64

	Outcome Outcome
	Won     bool
}

func record(own, opp TeamSummary, home int, season int, date time.Time) Record {
	outcome := outcomeOf(own.Total, opp.Total)
	return Record{
		Season:   season,
		Date:     date,
		Team:     own.Team,
		Total:    own.Total,
		Home:     home,
		Stats:    own.Values,
		TeamOpp:  opp.Team,
		TotalOpp: opp.Total,
		HomeOpp:  1 - home,
		StatsOpp: opp.Values,
		Outcome:  outcome,
		Won:      outcome == Win,
	}
}

// Assemble returns the two perspectives of a game, the away team's first.
func Assemble(away, home TeamSummary, season int, date time.Time) (Record, Record) {
	return record(away, home, 0, season, date), record(home, away, 1, season, date)
}

// AssembleGame is Assemble for an extracted game, keeping its cache key.
func AssembleGame(game Game) (Record, Record) {
	awayRec, homeRec := Assemble(game.Away, game.Home, game.Season, game.Date)
	awayRec.Key = game.Key
	homeRec.Key = game.Key
	return awayRec, homeRec
}
