package models

import "time"

type Dashboard struct {
	Summary Summary  `json:"summary"`
	Series  []Series `json:"series"`
	Latest  []Record `json:"latest"`
}

type Summary struct {
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

// Series is one plotted line: total cases for a single location over time.
type Series struct {
	Location string      `json:"location"`
	Points   []DataPoint `json:"points"`
}

type DataPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Record is a row of the shaped dataset. Missing numeric cells are nil.
type Record struct {
	Date              time.Time `json:"date"`
	Location          string    `json:"location"`
	TotalCases        *float64  `json:"total_cases"`
	NewCases          *float64  `json:"new_cases"`
	TotalDeaths       *float64  `json:"total_deaths"`
	NewDeaths         *float64  `json:"new_deaths"`
	TotalVaccinations *float64  `json:"total_vaccinations"`
	PeopleVaccinated  *float64  `json:"people_vaccinated"`
	Population        *float64  `json:"population"`
}
