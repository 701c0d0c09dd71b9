package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := newClient().ListJobs()
		if err != nil {
			return fmt.Errorf("%s", describeError("List", err))
		}

		if done, err := printStructured(cmd, jobs); done || err != nil {
			return err
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tPARENT\tCREATED")
		for _, j := range jobs {
			parent := "-"
			if j.ParentJobID != nil {
				parent = fmt.Sprintf("%d", *j.ParentJobID)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s ago\n", j.ID, j.Name, j.State, parent, relativeTime(j.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
