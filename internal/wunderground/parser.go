package wunderground

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/common"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

// TableID is the id of the observation table on a Custom History page.
const TableID = "obsTable"

// noDataMarkers identify a well-formed page that simply has no table.
var noDataMarkers = []string{
	"No daily or hourly history data available",
	"No history data available",
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Row is one <tr> of the observation table.
type Row struct {
	Header bool
	Cells  []string
}

// FoldState is the context carried from row to row: the year and month
// markers seen so far and the date of the last day row.
type FoldState struct {
	Year  int
	Month time.Month
	Last  history.Date
}

// SeedState is the context a page starts from. The window start is where
// the previous page left off, so rows before the first marker resolve
// against it and no row may precede it.
func SeedState(w history.DateWindow) FoldState {
	return FoldState{
		Year:  w.Start.Year,
		Month: w.Start.Month,
		Last:  w.Start.AddDays(-1),
	}
}

// Apply folds one row into the state. It returns the new state and, for day
// rows, the resolved record.
func (s FoldState) Apply(row Row) (FoldState, *history.DailyRecord, error) {
	if len(row.Cells) == 0 {
		return s, nil, nil
	}
	first := strings.TrimSpace(row.Cells[0])

	if row.Header {
		// Only the leading header cell carries the year; sub-headers such
		// as "high avg low" are ignored.
		if year, err := strconv.Atoi(first); err == nil && len(first) == 4 {
			s.Year = year
		}
		return s, nil, nil
	}

	if len(first) == 3 && isAlpha(first) {
		m, ok := months[strings.ToLower(first)]
		if !ok {
			return s, nil, fmt.Errorf("%w: unknown month marker %q", history.ErrMalformedPage, first)
		}
		s.Month = m
		return s, nil, nil
	}

	day, err := strconv.Atoi(first)
	if err != nil {
		return s, nil, fmt.Errorf("%w: day cell %q is not a number", history.ErrMalformedPage, first)
	}
	if s.Year == 0 || s.Month == 0 {
		return s, nil, fmt.Errorf("%w: day %d before any year/month marker", history.ErrMalformedPage, day)
	}
	date, ok := history.NewDate(s.Year, s.Month, day)
	if !ok {
		return s, nil, fmt.Errorf("%w: %d-%02d-%02d is not a calendar date", history.ErrMalformedPage, s.Year, s.Month, day)
	}
	if !s.Last.IsZero() && !date.After(s.Last) {
		return s, nil, fmt.Errorf("%w: %s after %s", history.ErrOutOfOrder, date, s.Last)
	}
	if len(row.Cells) != history.FieldCount+1 {
		return s, nil, fmt.Errorf("%w: %s has %d cells, expected %d", history.ErrMalformedPage, date, len(row.Cells), history.FieldCount+1)
	}

	rec := history.DailyRecord{Date: date}
	for i, cell := range row.Cells[1:] {
		if i == history.Events {
			rec.Fields[i] = common.StripLayout(cell)
		} else {
			rec.Fields[i] = common.CleanCell(cell)
		}
	}
	s.Last = date
	return s, &rec, nil
}

// Fold applies every row in order, threading the state through.
func Fold(state FoldState, rows []Row) ([]history.DailyRecord, FoldState, error) {
	var out []history.DailyRecord
	for i, row := range rows {
		next, rec, err := state.Apply(row)
		if err != nil {
			return nil, state, fmt.Errorf("row %d: %w", i+1, err)
		}
		state = next
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, state, nil
}

// Parser implements history.TableParser for Custom History pages.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts the day rows of the observation table. A page without the
// table is empty only when it says so; otherwise it is malformed. A table
// with day rows but no header row is a partial load and also malformed.
func (p *Parser) Parse(page history.Page) ([]history.DailyRecord, error) {
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrMalformedPage, err)
	}

	table := findByID(doc, atom.Table, TableID)
	if table == nil {
		if common.HasAny(textOf(doc), noDataMarkers...) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: table #%s not found", history.ErrMalformedPage, TableID)
	}

	rows := tableRows(table)
	records, _, err := Fold(SeedState(page.Window), rows)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 && !hasHeader(rows) {
		return nil, fmt.Errorf("%w: table #%s has no header row", history.ErrMalformedPage, TableID)
	}
	return records, nil
}

func hasHeader(rows []Row) bool {
	for _, r := range rows {
		if r.Header {
			return true
		}
	}
	return false
}

func findByID(n *html.Node, a atom.Atom, id string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, a, id); found != nil {
			return found
		}
	}
	return nil
}

// tableRows lists the rows of table in document order, skipping nested
// tables.
func tableRows(table *html.Node) []Row {
	var rows []Row
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				continue
			case atom.Tr:
				rows = append(rows, rowOf(c))
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

func rowOf(tr *html.Node) Row {
	var row Row
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Th:
			row.Header = true
			row.Cells = append(row.Cells, textOf(c))
		case atom.Td:
			row.Cells = append(row.Cells, textOf(c))
		}
	}
	return row
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
