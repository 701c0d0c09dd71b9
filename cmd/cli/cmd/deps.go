package cmd

import (
	"fmt"

	"jobrunner/pkg/api"

	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps [job_id]",
	Short: "Show the job tree a job belongs to",
	Long: `Print the whole tree of jobs the given job was submitted with, starting
from the top-most job, each with its current state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := newClient().GetDependencies(args[0])
		if err != nil {
			return fmt.Errorf("%s", describeError("Dependencies", err))
		}
		if done, err := printStructured(cmd, tree); done || err != nil {
			return err
		}
		printTree(cmd, *tree, "", true, true)
		return nil
	},
}

func printTree(cmd *cobra.Command, node api.JobNodeResponse, prefix string, last, root bool) {
	branch := ""
	childPrefix := ""
	if !root {
		branch = "├── "
		childPrefix = prefix + "│   "
		if last {
			branch = "└── "
			childPrefix = prefix + "    "
		}
	}
	cmd.Printf("%s%s%s #%d %s %s%s%s\n", prefix, branch, statusIcon(node.Job.State),
		node.Job.ID, node.Job.Name, colorDim, node.Job.State, colorReset)

	for i, child := range node.Children {
		printTree(cmd, child, childPrefix, i == len(node.Children)-1, false)
	}
}

func init() {
	rootCmd.AddCommand(depsCmd)
}
