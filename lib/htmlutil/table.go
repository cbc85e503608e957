package htmlutil

import (
	"github.com/PuerkitoBio/goquery"
)

// Table is the text content of an html table, header names come from
// the last header row.
type Table struct {
	Columns []string
	// body rows, each row has at most len(Columns) cells
	Rows [][]string
	// rows found in <tfoot>
	Footer [][]string
}

func rowCells(tr *goquery.Selection) []string {
	var cells []string
	tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, CleanText(cell.Text()))
	})
	return cells
}

// ParseTable reads the first table in `sel`, returns false when there is
// no table or the table has no header row.
func ParseTable(sel *goquery.Selection) (Table, bool) {
	table := sel.First()
	if !table.Is("table") {
		table = table.Find("table").First()
	}
	if table.Length() == 0 {
		return Table{}, false
	}

	var out Table
	header := table.Find("thead tr")
	if header.Length() == 0 {
		return Table{}, false
	}
	out.Columns = rowCells(header.Last())

	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := rowCells(tr)
		if len(cells) == 0 {
			return
		}
		out.Rows = append(out.Rows, cells)
	})
	table.Find("tfoot tr").Each(func(_ int, tr *goquery.Selection) {
		cells := rowCells(tr)
		if len(cells) == 0 {
			return
		}
		out.Footer = append(out.Footer, cells)
	})

	return out, true
}
