package bbref

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/purell"
)

const DefaultBaseUrl = "https://www.basketball-reference.com"

// regions of each page type worth keeping
const (
	SeasonIndexSelector = "#content .filter"
	ScheduleSelector    = "#all_schedule"
	BoxScoreSelector    = "#content"
)

// SeasonIndexUrl is the page linking to every monthly schedule of a season.
func SeasonIndexUrl(baseUrl string, season int) string {
	return fmt.Sprintf("%s/leagues/NBA_%d_games.html", strings.TrimRight(baseUrl, "/"), season)
}

// months split across calendar years carry the year, "-october-2019"
var scheduleLinkRegex = regexp.MustCompile(`/leagues/NBA_(\d{4})_games(?:-[a-z]+(?:-\d{4})?)?\.html$`)

// ScheduleSeason returns the season a schedule page link belongs to.
func ScheduleSeason(href string) (int, bool) {
	link, err := url.Parse(href)
	if err != nil {
		return 0, false
	}
	match := scheduleLinkRegex.FindStringSubmatch(link.Path)
	if len(match) < 2 {
		return 0, false
	}
	season, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return season, true
}

// IsBoxScoreLink reports whether href points at an individual game's
// box score, "/boxscores/202301010ABC.html" but not the play-by-play or
// daily index pages below /boxscores/.
func IsBoxScoreLink(href string) bool {
	link, err := url.Parse(href)
	if err != nil {
		return false
	}
	return path.Base(path.Dir(link.Path)) == "boxscores" &&
		strings.HasSuffix(link.Path, ".html")
}

var leagueSeasonRegex = regexp.MustCompile(`NBA_(\d{4})`)

// LeagueSeason reads the season out of any league page link,
// "/leagues/NBA_2022.html" or "/leagues/NBA_2022_games.html" -> 2022.
func LeagueSeason(href string) (int, bool) {
	match := leagueSeasonRegex.FindStringSubmatch(href)
	if len(match) < 2 {
		return 0, false
	}
	season, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return season, true
}

// Resolve turns href into a normalized absolute url relative to base.
func Resolve(base *url.URL, href string) (string, error) {
	full, err := base.Parse(href)
	if err != nil {
		return "", err
	}
	return purell.NormalizeURL(
		full,
		purell.FlagsSafe|
			purell.FlagRemoveFragment|
			purell.FlagRemoveDuplicateSlashes|
			purell.FlagSortQuery,
	), nil
}
