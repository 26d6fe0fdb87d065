package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"listing-repricer/internal/app"
)

var (
	showKind  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent attempts, runs, or listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Kind:  showKind,
			Limit: showLimit,
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showKind, "kind", "attempts", "What to display: attempts, runs, or listings")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
