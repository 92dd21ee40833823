package cli

import (
	"github.com/spf13/cobra"

	"watch-arbitrage/internal/app"
)

var (
	analyzeCSVDir    string
	analyzePNGDir    string
	analyzeNoPersist bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the arbitrage analysis once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnalyzeOptions{
			CSVDir:    analyzeCSVDir,
			PNGDir:    analyzePNGDir,
			NoPersist: analyzeNoPersist,
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCSVDir, "csv-dir", "", "Directory for CSV exports (overrides export.dir)")
	analyzeCmd.Flags().StringVar(&analyzePNGDir, "png-dir", "", "Directory for PNG charts (overrides export.dir)")
	analyzeCmd.Flags().BoolVar(&analyzeNoPersist, "no-persist", false, "Skip writing the run to PostgreSQL")
}
