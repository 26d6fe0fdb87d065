package cli

import (
	"time"

	"github.com/spf13/cobra"

	"listing-repricer/internal/app"
)

var purgeMaxAge int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete reduction attempts outside the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PurgeOptions{}
		if purgeMaxAge > 0 {
			opts.MaxAge = time.Duration(purgeMaxAge) * 24 * time.Hour
		}
		return getApp().Purge(cmd.Context(), opts)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate()
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeMaxAge, "older-than-days", 0, "Retention window in days (0 = config default)")
}
