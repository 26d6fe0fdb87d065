package cli

import (
	"github.com/spf13/cobra"

	"listing-repricer/internal/app"
)

var analyzeLimit int

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Resolve competitive matches for unanalyzed listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnalyzeOptions{
			Limit: analyzeLimit,
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "Maximum listings to analyze (0 = config default)")
}
