package cli

import (
	"github.com/spf13/cobra"

	"listing-repricer/internal/app"
)

var reduceForce bool

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Execute one reduction pass immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReduceOptions{
			Force: reduceForce,
		}
		return getApp().Reduce(cmd.Context(), opts)
	},
}

func init() {
	reduceCmd.Flags().BoolVar(&reduceForce, "force", false, "Bypass the once-per-day guard")
}
