package cli

import (
	"time"

	"github.com/spf13/cobra"

	"dipwatcher/internal/app"
)

var statusWindow time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show market sessions, alert aggregates, and symbols needing attention",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.StatusOptions{
			Window: statusWindow,
		}
		return getApp().Status(cmd.Context(), opts)
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusWindow, "window", 7*24*time.Hour, "Reporting window for aggregates")
}
