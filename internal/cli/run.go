package cli

import (
	"github.com/spf13/cobra"
)

var runSkipInitial bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled search, daily report and bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runSkipInitial {
			a.Config.Scheduler.RunOnStart = false
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSkipInitial, "skip-initial", false, "Wait one interval before the first search")
}
