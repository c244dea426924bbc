package engine

import (
	"math"
	"sort"
	"time"

	"covidplot/internal/models"
)

// Series builds one total_cases line per requested location, in the order
// given. Rows with no total_cases value are skipped; a location with no rows
// yields a series with no points.
func (cs *ColumnStore) Series(locations []string) []models.Series {
	byLoc := make(map[string]int, len(locations))
	out := make([]models.Series, len(locations))
	for i, loc := range locations {
		out[i] = models.Series{Location: loc, Points: []models.DataPoint{}}
		byLoc[loc] = i
	}

	// Rows are already in date order within a location.
	for j := 0; j < cs.Len(); j++ {
		idx, ok := byLoc[cs.Location(j)]
		if !ok {
			continue
		}
		v := cs.TotalCases[j]
		if math.IsNaN(v) {
			continue
		}
		out[idx].Points = append(out[idx].Points, models.DataPoint{Date: cs.Dates[j], Value: v})
	}
	return out
}

// Latest returns every row dated on the most recent date in the store.
func (cs *ColumnStore) Latest() []models.Record {
	var maxDate time.Time
	for _, d := range cs.Dates {
		if d.After(maxDate) {
			maxDate = d
		}
	}

	out := make([]models.Record, 0)
	for j, d := range cs.Dates {
		if d.Equal(maxDate) {
			out = append(out, cs.Row(j))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

func (cs *ColumnStore) Summary() models.Summary {
	return models.Summary{Rows: cs.Len(), Columns: cs.Columns()}
}

// Aggregate collects everything the viewer serves.
func (cs *ColumnStore) Aggregate() *models.Dashboard {
	return &models.Dashboard{
		Summary: cs.Summary(),
		Series:  cs.Series(Locations),
		Latest:  cs.Latest(),
	}
}
