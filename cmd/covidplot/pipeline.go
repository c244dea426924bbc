package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"covidplot/internal/api"
	"covidplot/internal/engine"
	"covidplot/internal/render"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func dataPath() (string, error) {
	if rootDir != "" {
		return engine.DataPathUnder(rootDir), nil
	}
	return engine.DefaultDataPath()
}

// loadAndShape runs the loader and shaper. A missing data file prints the
// download instructions and yields a nil store with a nil error.
func loadAndShape(ctx context.Context, out io.Writer) (*engine.ColumnStore, error) {
	path, err := dataPath()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Looking for data at: %s\n", path)
	tbl, err := engine.NewLoader(logger).Load(ctx, path)
	if errors.Is(err, engine.ErrDataMissing) {
		logger.Warn("Data file missing", zap.String("path", path))
		printMissing(out, path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "Successfully loaded COVID-19 data!")
	printOverview(out, tbl)

	t0 := time.Now()
	store, err := engine.Shape(tbl)
	if err != nil {
		return nil, err
	}
	logger.Info("Shape complete", zap.Int("rows", store.Len()), zap.Duration("took", time.Since(t0)))
	return store, nil
}

func printMissing(out io.Writer, path string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, errorStyle.Render("ERROR: Missing data file!"))
	fmt.Fprintln(out, "Please ensure:")
	fmt.Fprintf(out, "1. A file named '%s' exists in %s\n", engine.DataFile, filepath.Dir(path))
	fmt.Fprintf(out, "2. You've downloaded it from: %s\n", engine.SourceURL)
}

func printOverview(out io.Writer, tbl *engine.Table) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, headingStyle.Render("=== Data Overview ==="))
	fmt.Fprintf(out, "Dataset contains %d rows with columns:\n", len(tbl.Rows))
	fmt.Fprintf(out, "[%s]\n", strings.Join(tbl.Header, ", "))
}

func printCleaned(out io.Writer, store *engine.ColumnStore) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, headingStyle.Render("=== Clean Data ==="))
	fmt.Fprintf(out, "%d rows with columns:\n", store.Len())
	fmt.Fprintf(out, "[%s]\n", strings.Join(store.Columns(), ", "))

	latest := store.Latest()
	if len(latest) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, headingStyle.Render(fmt.Sprintf("=== Latest (%s) ===", latest[0].Date.Format("2006-01-02"))))
	for _, r := range latest {
		cases := "n/a"
		if r.TotalCases != nil {
			cases = fmt.Sprintf("%.0f", *r.TotalCases)
		}
		fmt.Fprintf(out, "%-15s total_cases=%s\n", r.Location, cases)
	}
}

func runSummary(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	store, err := loadAndShape(commandContext(cmd), out)
	if err != nil || store == nil {
		return err
	}
	printCleaned(out, store)
	return nil
}

func runPlot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	store, err := loadAndShape(ctx, out)
	if err != nil || store == nil {
		return err
	}

	h := api.NewHandler(render.DefaultOptions())
	if err := h.SetData(store); err != nil {
		return err
	}
	e := api.NewServer(h, logger)

	ready := func(url string) {
		fmt.Fprintf(out, "\nChart ready at %s (close the page or press Ctrl+C to exit)\n", url)
		logger.Info("Viewer listening", zap.String("url", url))
	}
	if err := api.Serve(ctx, e, h, addr, ready); err != nil {
		return err
	}
	logger.Info("Viewer closed")
	return nil
}
