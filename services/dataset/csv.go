package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

const dateLayout = "2006-01-02"

// Columns returns the csv header of the dataset.
func (d Dataset) Columns() []string {
	var cols []string
	cols = append(cols, d.Schema...)
	cols = append(cols, "team", "total", "home")
	for _, name := range d.Schema {
		cols = append(cols, name+"_opp")
	}
	cols = append(cols, "team_opp", "total_opp", "home_opp")
	cols = append(cols, "season", "date", "won", "outcome")
	return cols
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (d Dataset) row(r Record) []string {
	row := make([]string, 0, 2*len(d.Schema)+10)
	for _, v := range r.Stats {
		row = append(row, formatStat(v))
	}
	row = append(row, r.Team, formatStat(r.Total), strconv.Itoa(r.Home))
	for _, v := range r.StatsOpp {
		row = append(row, formatStat(v))
	}
	row = append(row, r.TeamOpp, formatStat(r.TotalOpp), strconv.Itoa(r.HomeOpp))
	row = append(row,
		strconv.Itoa(r.Season),
		r.Date.Format(dateLayout),
		strconv.FormatBool(r.Won),
		r.Outcome.String(),
	)
	return row
}

// WriteCSV writes a header row then one row per record, missing values
// are written as empty cells.
func (d Dataset) WriteCSV(w io.Writer) error {
	out := csv.NewWriter(w)
	err := out.Write(d.Columns())
	if err != nil {
		return err
	}
	for _, r := range d.Records {
		if len(r.Stats) != len(d.Schema) || len(r.StatsOpp) != len(d.Schema) {
			return fmt.Errorf("record %s (%s) does not match the schema", r.Key, r.Team)
		}
		err = out.Write(d.row(r))
		if err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

// WriteFile writes the csv to a temporary file next to path and renames
// it into place.
func (d Dataset) WriteFile(path string) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	err = d.WriteCSV(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	err = os.Rename(tmpName, path)
	if err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}
