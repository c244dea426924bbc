// Package render draws the case-count comparison chart.
package render

import (
	"fmt"
	"io"
	"time"

	"covidplot/internal/models"

	chart "github.com/wcharczuk/go-chart/v2"
)

type Options struct {
	Title  string
	XLabel string
	YLabel string
	Width  int
	Height int
}

// DefaultOptions is a 12x6 inch figure at 100 dpi.
func DefaultOptions() Options {
	return Options{
		Title:  "Total COVID-19 Cases by Country",
		XLabel: "Date",
		YLabel: "Cases",
		Width:  1200,
		Height: 600,
	}
}

// Build lays out one line per series that has points. Series without points
// are left out of the plot and the legend.
func Build(series []models.Series, opts Options) chart.Chart {
	var (
		lines      []chart.Series
		minX, maxX time.Time
		minY, maxY float64
		seen       bool
	)

	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		xs := make([]time.Time, len(s.Points))
		ys := make([]float64, len(s.Points))
		for j, p := range s.Points {
			xs[j], ys[j] = p.Date, p.Value
			if !seen || p.Date.Before(minX) {
				minX = p.Date
			}
			if !seen || p.Date.After(maxX) {
				maxX = p.Date
			}
			if !seen || p.Value < minY {
				minY = p.Value
			}
			if !seen || p.Value > maxY {
				maxY = p.Value
			}
			seen = true
		}
		lines = append(lines, chart.TimeSeries{
			Name:    s.Location,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: chart.GetDefaultColor(i),
				StrokeWidth: 2,
			},
		})
	}

	c := chart.Chart{
		Title:      opts.Title,
		Width:      opts.Width,
		Height:     opts.Height,
		Background: chart.Style{Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      chart.XAxis{Name: opts.XLabel, ValueFormatter: chart.TimeDateValueFormatter},
		YAxis: chart.YAxis{
			Name: opts.YLabel,
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: lines,
	}

	if !seen {
		// go-chart refuses to render without a series or with a zero range.
		from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(1, 0, 0)
		c.Series = []chart.Series{chart.TimeSeries{
			Name:    "empty",
			XValues: []time.Time{from, to},
			YValues: []float64{0, 1},
			Style:   chart.Style{Hidden: true},
		}}
		c.XAxis.Range = &chart.ContinuousRange{Min: chart.TimeToFloat64(from), Max: chart.TimeToFloat64(to)}
		c.YAxis.Range = &chart.ContinuousRange{Min: 0, Max: 1}
		return c
	}

	if minX.Equal(maxX) {
		c.XAxis.Range = &chart.ContinuousRange{
			Min: chart.TimeToFloat64(minX.AddDate(0, 0, -1)),
			Max: chart.TimeToFloat64(maxX.AddDate(0, 0, 1)),
		}
	}
	if minY == maxY {
		c.YAxis.Range = &chart.ContinuousRange{Min: minY - 1, Max: maxY + 1}
	}
	c.Elements = []chart.Renderable{chart.Legend(&c)}
	return c
}

// PNG renders the chart for series to w.
func PNG(w io.Writer, series []models.Series, opts Options) error {
	c := Build(series, opts)
	if err := c.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// Plotted counts the series that will be drawn as lines.
func Plotted(series []models.Series) int {
	n := 0
	for _, s := range series {
		if len(s.Points) > 0 {
			n++
		}
	}
	return n
}
