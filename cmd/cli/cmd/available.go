package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var availableCmd = &cobra.Command{
	Use:   "available",
	Short: "List the job names the controller can run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		procs, err := newClient().ListAvailable()
		if err != nil {
			return fmt.Errorf("%s", describeError("List available", err))
		}
		if done, err := printStructured(cmd, procs); done || err != nil {
			return err
		}
		for _, p := range procs {
			cmd.Println(p.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(availableCmd)
}
