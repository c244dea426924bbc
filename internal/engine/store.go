package engine

import (
	"math"
	"time"

	"covidplot/internal/models"
)

// Locations is the allow-list of countries kept by Shape, in plotting order.
var Locations = []string{"United States", "India", "Brazil", "Germany", "Kenya"}

// KeyColumns is the allow-list of columns kept by Shape, in output order.
var KeyColumns = []string{
	"date", "location", "total_cases", "new_cases", "total_deaths",
	"new_deaths", "total_vaccinations", "people_vaccinated", "population",
}

// Table is the raw dataset as read from disk. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// ColumnStore holds the shaped dataset in Struct-of-Arrays format
type ColumnStore struct {
	Dates []time.Time

	// Dictionary Encoded IDs (0..N)
	LocationIDs  []int32
	LocationDict []string

	// Numeric columns, NaN where the source cell was empty
	TotalCases        []float64
	NewCases          []float64
	TotalDeaths       []float64
	NewDeaths         []float64
	TotalVaccinations []float64
	PeopleVaccinated  []float64
	Population        []float64
}

func (cs *ColumnStore) Len() int { return len(cs.Dates) }

// Columns reports the column names of the store in output order.
func (cs *ColumnStore) Columns() []string {
	return append([]string(nil), KeyColumns...)
}

func (cs *ColumnStore) Location(i int) string {
	return cs.LocationDict[cs.LocationIDs[i]]
}

// numeric returns the float columns keyed by their source column name.
func (cs *ColumnStore) numeric() map[string]*[]float64 {
	return map[string]*[]float64{
		"total_cases":        &cs.TotalCases,
		"new_cases":          &cs.NewCases,
		"total_deaths":       &cs.TotalDeaths,
		"new_deaths":         &cs.NewDeaths,
		"total_vaccinations": &cs.TotalVaccinations,
		"people_vaccinated":  &cs.PeopleVaccinated,
		"population":         &cs.Population,
	}
}

// Row materialises row i as a record.
func (cs *ColumnStore) Row(i int) models.Record {
	return models.Record{
		Date:              cs.Dates[i],
		Location:          cs.Location(i),
		TotalCases:        optional(cs.TotalCases[i]),
		NewCases:          optional(cs.NewCases[i]),
		TotalDeaths:       optional(cs.TotalDeaths[i]),
		NewDeaths:         optional(cs.NewDeaths[i]),
		TotalVaccinations: optional(cs.TotalVaccinations[i]),
		PeopleVaccinated:  optional(cs.PeopleVaccinated[i]),
		Population:        optional(cs.Population[i]),
	}
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
