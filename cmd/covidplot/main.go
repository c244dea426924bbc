package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool
	rootDir string
	addr    string

	// Logger
	logger *zap.Logger
)

const defaultAddr = "127.0.0.1:8050"

var rootCmd = &cobra.Command{
	Use:   "covidplot",
	Short: "Plot total COVID-19 cases for a fixed set of countries",
	Long: `covidplot reads the Our World in Data COVID-19 dataset from
<root>/data/raw/owid-covid-data.csv, keeps United States, India, Brazil,
Germany and Kenya, and charts their total cases over time.

The chart is served on a local page until it is closed or the process is
interrupted. <root> defaults to the directory above the executable's.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dotenvErr := godotenv.Load()

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if dotenvErr != nil {
			logger.Debug("No .env file found (using environment variables)")
		}

		if !cmd.Flags().Changed("root") {
			rootDir = getEnv("COVIDPLOT_ROOT", rootDir)
		}
		if !cmd.Flags().Changed("addr") {
			addr = getEnv("COVIDPLOT_ADDR", addr)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runPlot,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the dataset overview and the cleaned data summary without charting",
	RunE:  runSummary,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "project root holding data/raw (env COVIDPLOT_ROOT)")
	rootCmd.Flags().StringVar(&addr, "addr", defaultAddr, "listen address of the chart viewer (env COVIDPLOT_ADDR)")
	rootCmd.AddCommand(summaryCmd)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
