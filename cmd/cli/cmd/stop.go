package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [job_id]",
	Short: "Request a job to stop",
	Long: `Ask the controller to stop a job. A job that has not started yet is
stopped before it runs. A running job is marked STOPPING and ends as STOPPED
when its processor returns. Jobs waiting on a stopped job are stopped too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().StopJob(args[0]); err != nil {
			return fmt.Errorf("%s", describeError("Stop", err))
		}
		cmd.Printf("Stop requested for job %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
