package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrBadDate       = errors.New("unparseable date")
)

// dateLayouts are tried in order; OWID ships ISO dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02 Jan 2006",
	"Jan 2, 2006",
}

// parseDate keeps the time of day; everything is normalised to UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
}

// Shape filters tbl to Locations, projects it to KeyColumns, parses dates and
// numbers, and stable-sorts by (location, date). tbl is not modified.
// No matching rows yields an empty store, not an error. Numeric cells that
// do not parse are NaN.
func Shape(tbl *Table) (*ColumnStore, error) {
	// 1. Every projected column must exist
	have := make(map[string]struct{}, len(tbl.Header))
	for _, h := range tbl.Header {
		have[h] = struct{}{}
	}
	for _, name := range KeyColumns {
		if _, ok := have[name]; !ok {
			return nil, fmt.Errorf("shape: %w %q", ErrMissingColumn, name)
		}
	}
	for r, row := range tbl.Rows {
		if len(row) != len(tbl.Header) {
			return nil, fmt.Errorf("shape: row %d has %d cells, header has %d", r, len(row), len(tbl.Header))
		}
	}
	if len(tbl.Rows) == 0 {
		return (&ColumnStore{}).permute(nil), nil
	}

	// 2. Row filter + column projection, all columns kept as strings
	records := make([][]string, 0, len(tbl.Rows)+1)
	records = append(records, tbl.Header)
	records = append(records, tbl.Rows...)
	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("shape: load frame: %w", df.Err)
	}

	df = df.Filter(dataframe.F{Colname: "location", Comparator: series.In, Comparando: Locations})
	if df.Err != nil {
		return nil, fmt.Errorf("shape: filter locations: %w", df.Err)
	}
	df = df.Select(KeyColumns)
	if df.Err != nil {
		return nil, fmt.Errorf("shape: %w: %v", ErrMissingColumn, df.Err)
	}

	return fromFrame(df)
}

// fromFrame parses a projected frame into a store and sorts it.
func fromFrame(df dataframe.DataFrame) (*ColumnStore, error) {
	n := df.Nrow()
	cs := &ColumnStore{
		Dates:       make([]time.Time, n),
		LocationIDs: make([]int32, n),
	}

	for r, raw := range df.Col("date").Records() {
		d, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("shape: row %d: %w", r, err)
		}
		cs.Dates[r] = d
	}

	dict := make(map[string]int32, len(Locations))
	for r, loc := range df.Col("location").Records() {
		id, ok := dict[loc]
		if !ok {
			id = int32(len(cs.LocationDict))
			cs.LocationDict = append(cs.LocationDict, loc)
			dict[loc] = id
		}
		cs.LocationIDs[r] = id
	}

	numeric := cs.numeric()
	for _, name := range KeyColumns[2:] {
		*numeric[name] = df.Col(name).Float()
	}

	// Stable sort by (location, date) through a permutation
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		la, lb := cs.Location(a), cs.Location(b)
		if la != lb {
			return la < lb
		}
		return cs.Dates[a].Before(cs.Dates[b])
	})

	return cs.permute(order), nil
}

// permute returns a new store whose row i is row order[i] of cs.
func (cs *ColumnStore) permute(order []int) *ColumnStore {
	out := &ColumnStore{
		Dates:        make([]time.Time, len(order)),
		LocationIDs:  make([]int32, len(order)),
		LocationDict: append([]string(nil), cs.LocationDict...),
	}
	for i, src := range order {
		out.Dates[i] = cs.Dates[src]
		out.LocationIDs[i] = cs.LocationIDs[src]
	}

	in, dst := cs.numeric(), out.numeric()
	for name, col := range in {
		moved := make([]float64, len(order))
		for i, src := range order {
			moved[i] = (*col)[src]
		}
		*dst[name] = moved
	}
	return out
}
