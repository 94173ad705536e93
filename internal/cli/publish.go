package cli

import (
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish [symbol...]",
	Short: "Fetch and publish prices once, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PublishOnce(cmd.Context(), args)
	},
}
